package db

import (
	"time"

	"github.com/google/uuid"
)

// OutboxEventEntity is one staged domain event. ScheduledAt non-null means
// the event is due for publishing; the dispatcher clears it on success or
// after max publish attempts.
type OutboxEventEntity struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	IntentID        uuid.UUID
	EventType       string
	Payload         string
	CreatedAt       time.Time
	ScheduledAt     *time.Time
	PublishedAt     *time.Time
	PublishAttempts int
	Error           *string
}

// MerchantAccountEntity is the per-tenant/location processor configuration
// the engine resolves adapters and credentials through.
type MerchantAccountEntity struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	LocationID         uuid.UUID
	ProviderCode       string
	ProviderMerchantID string
	CredentialRef      string
	ACHEnabled         bool
	Active             bool
	CreatedAt          time.Time
}

// FundingBatchMarkerEntity records one completed (merchant account, funding
// date) reconciler poll. Its presence makes the pair never reprocess.
type FundingBatchMarkerEntity struct {
	ID                uuid.UUID
	MerchantAccountID uuid.UUID
	ProviderCode      string
	FundingDate       time.Time
	ProcessedAt       time.Time
}
