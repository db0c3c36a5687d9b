package engine

import (
	"context"
	"errors"
	"fmt"

	"gateway-service/internal/db"
	"gateway-service/internal/event"
	"gateway-service/internal/payment"
	"gateway-service/internal/provider"
	"gateway-service/internal/recovery"
	"gateway-service/internal/response"
	"github.com/google/uuid"
)

// FollowupRequest addresses a command at an intent created earlier.
type FollowupRequest struct {
	TenantID uuid.UUID
	IntentID uuid.UUID

	// IdempotencyKey, when set, lets a replayed command return the result
	// of the approved attempt it matches instead of reaching the processor
	// again.
	IdempotencyKey string

	// AmountCents applies to refunds only; zero means the remaining
	// refundable amount.
	AmountCents int64
}

// replayedAttempt looks for an approved transaction row carrying the
// request's idempotency key. A hit means this exact command already ran to
// completion, so the caller returns the materialized intent without another
// processor round-trip. Failed attempts are left unmatched and may be
// retried.
func (e *Engine) replayedAttempt(ctx context.Context, intent *payment.Intent, req FollowupRequest, txType payment.TransactionType) (*Result, error) {
	if req.IdempotencyKey == "" {
		return nil, nil
	}
	transactions, err := e.store.GetTransactionsByIntentID(ctx, intent.ID)
	if err != nil {
		return nil, err
	}
	for _, t := range transactions {
		if t.Type != txType || t.IdempotencyToken == nil || *t.IdempotencyToken != req.IdempotencyKey {
			continue
		}
		if t.ResponseStatus != string(provider.StatusApproved) {
			continue
		}
		commandIdempotentHitCounter.Inc()
		e.logger.InfoContext(ctx, "Replayed command matched a completed attempt",
			"type", string(txType), "transactionId", t.ID.String())
		return &Result{Intent: intent}, nil
	}
	return nil, nil
}

func (e *Engine) loadIntent(ctx context.Context, req FollowupRequest) (*payment.Intent, error) {
	intent, err := e.store.GetIntentByID(ctx, req.IntentID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	if intent.TenantID != req.TenantID {
		return nil, ErrTenantMismatch
	}
	return intent, nil
}

// Capture settles the funds held by a prior authorization.
func (e *Engine) Capture(ctx context.Context, req FollowupRequest) (*Result, error) {
	ctx = e.commandCtx(ctx, "capture")

	intent, err := e.loadIntent(ctx, req)
	if err != nil {
		return nil, err
	}
	if replayed, err := e.replayedAttempt(ctx, intent, req, payment.TxCapture); replayed != nil || err != nil {
		return replayed, err
	}
	if intent.Status == payment.StatusCaptured {
		return &Result{Intent: intent}, nil
	}
	if intent.Status != payment.StatusAuthorized && intent.Status != payment.StatusCapturePending {
		return nil, payment.ErrNotCapturable
	}

	pc, err := e.resolveProvider(ctx, intent.TenantID, intent.LocationID)
	if err != nil {
		return nil, err
	}

	ctx = e.intentCtx(ctx, intent)
	e.audit.Log(ctx, "payment.capture", "payment_intent", intent.ID.String())

	amount := intent.TotalCents()
	if intent.AuthorizedCents != nil {
		amount = *intent.AuthorizedCents
	}

	orderID := provider.NewOrderID(intent.ID)
	preq := provider.PaymentRequest{
		OrderID:     orderID,
		AmountCents: amount,
		Currency:    intent.Currency,
		ProviderRef: derefOrEmpty(intent.ProviderRef),
		Credentials: pc.creds,
	}

	result, resolution, err := e.invoke(ctx, pc, orderID, func(ctx context.Context) (*provider.Result, error) {
		return pc.adapter.Capture(ctx, preq)
	})
	if err != nil {
		return nil, e.failWithError(ctx, intent, payment.TxCapture, err)
	}
	if resolution != nil {
		return e.finalizeRecovery(ctx, intent, resolution)
	}

	interp := response.Interpret(result.ResponseCode, result.ResponseText, result.AVSResponse, result.CVVResponse)

	switch result.Status {
	case provider.StatusApproved:
		if err := intent.ApplyCapture(amount, result.ProviderRef); err != nil {
			return nil, err
		}
		commandApprovedCounter.Inc()

	case provider.StatusDeclined:
		// the authorization stays live; record the attempt and surface the
		// decline without moving the intent
		return nil, e.recordRejectedAttempt(ctx, intent, payment.TxCapture, result, &interp, req.IdempotencyKey)

	default:
		return nil, e.failWithResult(ctx, intent, payment.TxCapture, result, &interp)
	}

	outcome := &db.Outcome{
		Intent:      intent,
		Transaction: newTransaction(intent.ID, payment.TxCapture, result, &interp, req.IdempotencyKey),
		Event:       newEvent(intent, event.TypeCaptured, amount, &interp, ""),
	}
	if err := e.store.CommitOutcome(ctx, outcome); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Capture completed", "status", string(intent.Status))
	return &Result{Intent: intent, Interpretation: &interp}, nil
}

// Void cancels an intent whose funds movement has not yet settled.
func (e *Engine) Void(ctx context.Context, req FollowupRequest) (*Result, error) {
	ctx = e.commandCtx(ctx, "void")

	intent, err := e.loadIntent(ctx, req)
	if err != nil {
		return nil, err
	}
	if replayed, err := e.replayedAttempt(ctx, intent, req, payment.TxVoid); replayed != nil || err != nil {
		return replayed, err
	}
	if intent.Status == payment.StatusVoided {
		return &Result{Intent: intent}, nil
	}
	voidable := intent.Status == payment.StatusCreated ||
		intent.Status == payment.StatusAuthorized ||
		intent.Status == payment.StatusACHPending
	if !voidable {
		return nil, payment.ErrNotVoidable
	}

	ctx = e.intentCtx(ctx, intent)
	e.audit.Log(ctx, "payment.void", "payment_intent", intent.ID.String())

	// nothing was ever sent to the processor: void locally
	if intent.ProviderRef == nil {
		if err := intent.Transition(payment.StatusVoided); err != nil {
			return nil, err
		}
		outcome := &db.Outcome{
			Intent: intent,
			Event:  newEvent(intent, event.TypeVoided, intent.TotalCents(), nil, ""),
		}
		if err := e.store.CommitOutcome(ctx, outcome); err != nil {
			return nil, err
		}
		return &Result{Intent: intent}, nil
	}

	pc, err := e.resolveProvider(ctx, intent.TenantID, intent.LocationID)
	if err != nil {
		return nil, err
	}

	orderID := provider.NewOrderID(intent.ID)
	preq := provider.PaymentRequest{
		OrderID:     orderID,
		Currency:    intent.Currency,
		ProviderRef: *intent.ProviderRef,
		Credentials: pc.creds,
	}

	result, resolution, err := e.invoke(ctx, pc, orderID, func(ctx context.Context) (*provider.Result, error) {
		return pc.adapter.Void(ctx, preq)
	})
	if err != nil {
		return nil, e.failWithError(ctx, intent, payment.TxVoid, err)
	}
	if resolution != nil {
		return e.finalizeRecovery(ctx, intent, resolution)
	}

	interp := response.Interpret(result.ResponseCode, result.ResponseText, result.AVSResponse, result.CVVResponse)

	switch result.Status {
	case provider.StatusApproved:
		if err := intent.Transition(payment.StatusVoided); err != nil {
			return nil, err
		}
		commandApprovedCounter.Inc()

	case provider.StatusDeclined:
		return nil, e.recordRejectedAttempt(ctx, intent, payment.TxVoid, result, &interp, req.IdempotencyKey)

	default:
		return nil, e.failWithResult(ctx, intent, payment.TxVoid, result, &interp)
	}

	outcome := &db.Outcome{
		Intent:      intent,
		Transaction: newTransaction(intent.ID, payment.TxVoid, result, &interp, req.IdempotencyKey),
		Event:       newEvent(intent, event.TypeVoided, intent.TotalCents(), &interp, ""),
	}
	if err := e.store.CommitOutcome(ctx, outcome); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Void completed", "status", string(intent.Status))
	return &Result{Intent: intent, Interpretation: &interp}, nil
}

// Refund returns captured funds to the customer.
func (e *Engine) Refund(ctx context.Context, req FollowupRequest) (*Result, error) {
	ctx = e.commandCtx(ctx, "refund")

	intent, err := e.loadIntent(ctx, req)
	if err != nil {
		return nil, err
	}
	if replayed, err := e.replayedAttempt(ctx, intent, req, payment.TxRefund); replayed != nil || err != nil {
		return replayed, err
	}
	if intent.Status != payment.StatusCaptured && intent.Status != payment.StatusRefundPending {
		return nil, payment.ErrNotRefundable
	}

	amount := req.AmountCents
	if amount == 0 && intent.CapturedCents != nil {
		amount = *intent.CapturedCents
		if intent.RefundedCents != nil {
			amount -= *intent.RefundedCents
		}
	}

	pc, err := e.resolveProvider(ctx, intent.TenantID, intent.LocationID)
	if err != nil {
		return nil, err
	}

	ctx = e.intentCtx(ctx, intent)
	e.audit.Log(ctx, "payment.refund", "payment_intent", intent.ID.String())

	orderID := provider.NewOrderID(intent.ID)
	preq := provider.PaymentRequest{
		OrderID:     orderID,
		AmountCents: amount,
		Currency:    intent.Currency,
		ProviderRef: derefOrEmpty(intent.ProviderRef),
		Credentials: pc.creds,
	}

	result, resolution, err := e.invoke(ctx, pc, orderID, func(ctx context.Context) (*provider.Result, error) {
		return pc.adapter.Refund(ctx, preq)
	})
	if err != nil {
		return nil, e.failWithError(ctx, intent, payment.TxRefund, err)
	}
	if resolution != nil {
		return e.finalizeRefundRecovery(ctx, intent, resolution)
	}

	interp := response.Interpret(result.ResponseCode, result.ResponseText, result.AVSResponse, result.CVVResponse)

	switch result.Status {
	case provider.StatusApproved:
		if err := intent.ApplyRefund(amount); err != nil {
			return nil, err
		}
		commandApprovedCounter.Inc()

	case provider.StatusDeclined:
		return nil, e.recordRejectedAttempt(ctx, intent, payment.TxRefund, result, &interp, req.IdempotencyKey)

	default:
		return nil, e.failWithResult(ctx, intent, payment.TxRefund, result, &interp)
	}

	outcome := &db.Outcome{
		Intent:      intent,
		Transaction: newTransaction(intent.ID, payment.TxRefund, result, &interp, req.IdempotencyKey),
		Event:       newEvent(intent, event.TypeRefunded, amount, &interp, ""),
	}
	if err := e.store.CommitOutcome(ctx, outcome); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Refund completed", "status", string(intent.Status))
	return &Result{Intent: intent, Interpretation: &interp}, nil
}

// finalizeRefundRecovery differs from the generic path: a defensively voided
// refund attempt leaves the capture intact, so the intent keeps its status.
func (e *Engine) finalizeRefundRecovery(ctx context.Context, intent *payment.Intent, resolution *recovery.Resolution) (*Result, error) {
	switch resolution.Outcome {
	case recovery.OutcomeVoided:
		intent.ErrorMessage = &resolution.Explanation
		outcome := &db.Outcome{Intent: intent}
		if resolution.VoidResult != nil {
			outcome.Transaction = newTransaction(intent.ID, payment.TxVoid, resolution.VoidResult, nil, "")
		}
		if err := e.store.CommitOutcome(ctx, outcome); err != nil {
			return nil, err
		}
		e.logger.WarnContext(ctx, "Refund attempt voided at gateway, capture unchanged")
		return &Result{Intent: intent}, nil

	default:
		return e.finalizeRecovery(ctx, intent, resolution)
	}
}

// recordRejectedAttempt appends the transaction row for a declined follow-up
// call without moving the intent, and surfaces a domain error.
func (e *Engine) recordRejectedAttempt(ctx context.Context, intent *payment.Intent, txType payment.TransactionType, result *provider.Result, interp *response.Interpretation, token string) error {
	outcome := &db.Outcome{
		Intent:      intent,
		Transaction: newTransaction(intent.ID, txType, result, interp, token),
	}
	if err := e.store.CommitOutcome(ctx, outcome); err != nil {
		e.logger.ErrorContext(ctx, "Error recording rejected attempt", "error", err)
	}

	commandDeclinedCounter.Inc()
	return fmt.Errorf("%s rejected by processor: %s", txType, interp.UserMessage)
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
