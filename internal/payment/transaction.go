package payment

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType is the kind of provider round-trip a transaction records.
type TransactionType string

const (
	TxSale      TransactionType = "sale"
	TxAuthorize TransactionType = "authorize"
	TxCapture   TransactionType = "capture"
	TxVoid      TransactionType = "void"
	TxRefund    TransactionType = "refund"
	TxInquiry   TransactionType = "inquiry"
)

// Transaction is one provider round-trip against an intent. Rows are
// append-only: corrections are new rows, never updates.
type Transaction struct {
	ID               uuid.UUID
	IntentID         uuid.UUID
	Type             TransactionType
	ProviderRef      *string
	AuthCode         *string
	ResponseStatus   string
	ResponseCode     string
	ResponseText     string
	AVSResult        *string
	CVVResult        *string
	DeclineCategory  *string
	Retryable        bool
	RawPayload       string
	IdempotencyToken *string
	CreatedAt        time.Time
}

// ACHReturn records one bank-rejected ACH transaction.
type ACHReturn struct {
	ID          uuid.UUID
	IntentID    uuid.UUID
	ProviderRef string
	ReturnCode  string
	Reason      string
	Retryable   bool
	CreatedAt   time.Time
}
