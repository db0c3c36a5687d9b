package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MethodType distinguishes the funds rail an intent runs on.
type MethodType string

const (
	MethodCard MethodType = "card"
	MethodACH  MethodType = "ach"
)

var (
	ErrAmountExceeded = errors.New("amount exceeds intent amount")
	ErrRefundExceeded = errors.New("refund exceeds captured amount")
	ErrNotCapturable  = errors.New("intent is not in a capturable state")
	ErrNotVoidable    = errors.New("intent is not in a voidable state")
	ErrNotRefundable  = errors.New("intent is not in a refundable state")
)

// CardMeta is the non-sensitive card detail kept on an intent.
type CardMeta struct {
	Brand string
	Last4 string
}

// ACHMeta is the non-sensitive bank account detail kept on an intent.
type ACHMeta struct {
	AccountType string
	SECCode     string
	BankLast4   string
}

// Intent is the durable record of one customer-facing payment attempt.
// Financial rows are never deleted; terminal intents stay on record.
type Intent struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	LocationID      uuid.UUID
	Status          Status
	AmountCents     int64
	TipCents        int64
	Currency        string
	MethodType      MethodType
	CustomerID      *uuid.UUID
	OrderRef        *string
	ProviderCode    string
	ProviderRef     *string
	Card            *CardMeta
	ACH             *ACHMeta
	AuthorizedCents *int64
	CapturedCents   *int64
	RefundedCents   *int64
	IdempotencyKey  string
	ErrorMessage    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TotalCents is the amount a sale moves, tip included.
func (i *Intent) TotalCents() int64 {
	return i.AmountCents + i.TipCents
}

// Transition moves the intent to the next status after validating the move.
func (i *Intent) Transition(to Status) error {
	if err := ValidateTransition(i.Status, to); err != nil {
		return err
	}
	i.Status = to
	return nil
}

// ApplyAuthorization records an approved authorization for cents.
func (i *Intent) ApplyAuthorization(cents int64, providerRef string) error {
	if cents > i.TotalCents() {
		return fmt.Errorf("%w: authorized %d > %d", ErrAmountExceeded, cents, i.TotalCents())
	}
	if err := i.Transition(StatusAuthorized); err != nil {
		return err
	}
	i.AuthorizedCents = &cents
	i.ProviderRef = &providerRef
	return nil
}

// ApplyCapture records captured funds. For a sale this comes straight from
// created; for a two-step flow from authorized or capture_pending.
func (i *Intent) ApplyCapture(cents int64, providerRef string) error {
	if cents > i.TotalCents() {
		return fmt.Errorf("%w: captured %d > %d", ErrAmountExceeded, cents, i.TotalCents())
	}
	if err := i.Transition(StatusCaptured); err != nil {
		return err
	}
	i.CapturedCents = &cents
	if i.ProviderRef == nil {
		i.ProviderRef = &providerRef
	}
	return nil
}

// ApplyRefund records refunded funds. Refunds never exceed what was captured.
// A partial refund moves to refund_pending so the remainder stays refundable;
// refunded is reserved for the fully-refunded intent.
func (i *Intent) ApplyRefund(cents int64) error {
	if i.CapturedCents == nil {
		return ErrNotRefundable
	}
	already := int64(0)
	if i.RefundedCents != nil {
		already = *i.RefundedCents
	}
	if already+cents > *i.CapturedCents {
		return fmt.Errorf("%w: %d + %d > %d", ErrRefundExceeded, already, cents, *i.CapturedCents)
	}

	total := already + cents
	next := StatusRefunded
	if total < *i.CapturedCents {
		next = StatusRefundPending
	}
	if err := i.Transition(next); err != nil {
		return err
	}
	i.RefundedCents = &total
	return nil
}

// ApplyDecline marks the intent declined with the processor's message.
func (i *Intent) ApplyDecline(message string) error {
	if err := i.Transition(StatusDeclined); err != nil {
		return err
	}
	i.ErrorMessage = &message
	return nil
}

// MarkUnknown parks the intent for manual reconciliation. The explanation is
// mandatory: an unknown outcome is never left silent.
func (i *Intent) MarkUnknown(explanation string) error {
	if err := i.Transition(StatusUnknownAtGateway); err != nil {
		return err
	}
	i.ErrorMessage = &explanation
	return nil
}

// ApplyACHOrigination marks the intent accepted for ACH origination. The
// processor's "approved" here means accepted, not funded: captured stays nil.
func (i *Intent) ApplyACHOrigination(providerRef string) error {
	if err := i.Transition(StatusACHPending); err != nil {
		return err
	}
	i.ProviderRef = &providerRef
	return nil
}

// ApplyACHSettlement records settled ACH funds for the full intent total.
func (i *Intent) ApplyACHSettlement() error {
	if err := i.Transition(StatusACHSettled); err != nil {
		return err
	}
	total := i.TotalCents()
	i.CapturedCents = &total
	return nil
}
