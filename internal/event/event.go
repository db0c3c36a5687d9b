package event

import (
	"time"

	"github.com/google/uuid"
)

// Domain event types published after commit, at-least-once.
const (
	TypeAuthorized    = "payment.gateway.authorized.v1"
	TypeCaptured      = "payment.gateway.captured.v1"
	TypeVoided        = "payment.gateway.voided.v1"
	TypeRefunded      = "payment.gateway.refunded.v1"
	TypeDeclined      = "payment.gateway.declined.v1"
	TypeACHOriginated = "payment.gateway.ach_originated.v1"
	TypeACHSettled    = "payment.gateway.ach_settled.v1"
	TypeACHReturned   = "payment.gateway.ach_returned.v1"
)

// GatewayEvent is the envelope every gateway domain event ships in.
type GatewayEvent struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	OccurredAt  time.Time `json:"occurredAt"`
	TenantID    uuid.UUID `json:"tenantId"`
	LocationID  uuid.UUID `json:"locationId"`
	IntentID    uuid.UUID `json:"intentId"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	ProviderRef string    `json:"providerRef,omitempty"`

	// Decline detail, set on declined events only.
	DeclineCategory string `json:"declineCategory,omitempty"`
	UserMessage     string `json:"userMessage,omitempty"`
	Retryable       bool   `json:"retryable,omitempty"`

	// Return detail, set on ach_returned events only.
	ReturnCode string `json:"returnCode,omitempty"`
}
