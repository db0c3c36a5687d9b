// Package provider defines the uniform capability set every card/ACH
// processor adapter implements, plus the normalized result shape the rest of
// the engine consumes.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout marks a transport-level timeout: the call may or may not have
// reached the processor, so the outcome is indeterminate. Callers hand these
// to the timeout recovery protocol, never classify them as declines.
var ErrTimeout = errors.New("provider call timed out")

// ErrNotFound is returned by inquiries when the processor has no record of
// the order id.
var ErrNotFound = errors.New("no transaction found at provider")

// ResultStatus is the processor's definite answer for a round-trip.
type ResultStatus string

const (
	StatusApproved ResultStatus = "approved"
	StatusDeclined ResultStatus = "declined"
	StatusError    ResultStatus = "error"
)

// Result is the normalized outcome of one provider round-trip.
type Result struct {
	ProviderRef  string
	Status       ResultStatus
	ResponseCode string
	ResponseText string
	AuthCode     string
	AVSResponse  string
	CVVResponse  string
	RawPayload   string
}

// Credentials is the decrypted material an adapter needs to sign requests.
// Storage and decryption mechanics live behind the credential resolver.
type Credentials struct {
	MerchantNumber string
	TerminalNumber string
	MACSecret      string
}

// PaymentRequest carries the fields shared by authorize, sale, capture,
// refund and void calls.
type PaymentRequest struct {
	OrderID     string
	AmountCents int64
	Currency    string
	Token       string
	ProviderRef string
	Credentials Credentials
}

// FundingStatus is the processor's word on one funding-report line.
type FundingStatus string

const (
	FundingOriginated FundingStatus = "originated"
	FundingSettled    FundingStatus = "settled"
	FundingReturned   FundingStatus = "returned"
)

// FundingTransaction is one line of a provider funding report.
type FundingTransaction struct {
	ProviderRef string
	Status      FundingStatus
	ReturnCode  string
	AmountCents int64
	FundingDate time.Time
}

// Adapter wraps a single external processor's wire protocol into uniform
// operations. Implementations return ErrTimeout on transport timeouts and a
// Result with a definite status otherwise.
type Adapter interface {
	Code() string
	Authorize(ctx context.Context, req PaymentRequest) (*Result, error)
	Sale(ctx context.Context, req PaymentRequest) (*Result, error)
	Capture(ctx context.Context, req PaymentRequest) (*Result, error)
	Void(ctx context.Context, req PaymentRequest) (*Result, error)
	Refund(ctx context.Context, req PaymentRequest) (*Result, error)
	InquireByOrderID(ctx context.Context, orderID string, creds Credentials) (*Result, error)
	VoidByOrderID(ctx context.Context, orderID string, creds Credentials) (*Result, error)
	GetFundingStatus(ctx context.Context, date time.Time, merchantID string, creds Credentials) ([]FundingTransaction, error)
}
