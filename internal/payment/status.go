package payment

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a payment intent.
type Status string

const (
	StatusCreated          Status = "created"
	StatusAuthorized       Status = "authorized"
	StatusCapturePending   Status = "capture_pending"
	StatusCaptured         Status = "captured"
	StatusVoided           Status = "voided"
	StatusRefundPending    Status = "refund_pending"
	StatusRefunded         Status = "refunded"
	StatusDeclined         Status = "declined"
	StatusError            Status = "error"
	StatusUnknownAtGateway Status = "unknown_at_gateway"
	StatusResolved         Status = "resolved"
	StatusACHPending       Status = "ach_pending"
	StatusACHOriginated    Status = "ach_originated"
	StatusACHSettled       Status = "ach_settled"
	StatusACHReturned      Status = "ach_returned"
)

// ErrInvalidTransition signals a status move that is not in the transition
// table. It is a data-integrity failure, never a retryable condition.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions is the complete set of legal status moves. Any (from, to) pair
// not present is rejected. Terminal states have an empty entry.
var transitions = map[Status][]Status{
	StatusCreated: {
		StatusAuthorized,
		StatusCaptured,
		StatusDeclined,
		StatusError,
		StatusUnknownAtGateway,
		StatusVoided,
		StatusACHPending,
	},
	StatusAuthorized: {
		StatusCapturePending,
		StatusCaptured,
		StatusVoided,
		StatusError,
		StatusUnknownAtGateway,
	},
	StatusCapturePending: {
		StatusCaptured,
		StatusError,
		StatusUnknownAtGateway,
	},
	StatusCaptured: {
		StatusRefundPending,
		StatusRefunded,
		StatusError,
		StatusUnknownAtGateway,
	},
	StatusRefundPending: {
		StatusRefundPending,
		StatusRefunded,
		StatusError,
		StatusUnknownAtGateway,
	},
	StatusDeclined:         {StatusResolved},
	StatusError:            {StatusResolved},
	StatusUnknownAtGateway: {StatusResolved},
	StatusACHPending: {
		StatusACHOriginated,
		StatusACHReturned,
		StatusVoided,
		StatusError,
	},
	StatusACHOriginated: {
		StatusACHSettled,
		StatusACHReturned,
		StatusError,
	},
	StatusACHSettled:  {StatusACHReturned},
	StatusACHReturned: {StatusResolved},
	StatusVoided:      {},
	StatusRefunded:    {},
	StatusResolved:    {},
}

// IsValid reports whether s is a member of the status enum.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transitions exist from s.
func (s Status) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition unless from -> to is legal.
func ValidateTransition(from, to Status) error {
	if !from.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if !to.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
