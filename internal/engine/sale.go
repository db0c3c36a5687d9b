package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gateway-service/internal/db"
	"gateway-service/internal/event"
	"gateway-service/internal/logcontext"
	"gateway-service/internal/payment"
	"gateway-service/internal/provider"
	"gateway-service/internal/recovery"
	"gateway-service/internal/response"
	"github.com/google/uuid"
)

// SaleRequest is a combined authorize+capture in one provider call.
type SaleRequest struct {
	TenantID       uuid.UUID
	LocationID     uuid.UUID
	AmountCents    int64
	TipCents       int64
	Currency       string
	Method         payment.MethodType
	Token          string
	Card           *payment.CardMeta
	ACH            *payment.ACHMeta
	CustomerID     *uuid.UUID
	OrderRef       *string
	IdempotencyKey string
}

func (e *Engine) Sale(ctx context.Context, req SaleRequest) (*Result, error) {
	ctx = e.commandCtx(ctx, "sale")

	if existing, err := e.findExisting(ctx, req.TenantID, req.IdempotencyKey); existing != nil || err != nil {
		return existing, err
	}

	pc, err := e.resolveProvider(ctx, req.TenantID, req.LocationID)
	if err != nil {
		return nil, err
	}

	intent := &payment.Intent{
		ID:             uuid.New(),
		TenantID:       req.TenantID,
		LocationID:     req.LocationID,
		Status:         payment.StatusCreated,
		AmountCents:    req.AmountCents,
		TipCents:       req.TipCents,
		Currency:       req.Currency,
		MethodType:     req.Method,
		CustomerID:     req.CustomerID,
		OrderRef:       req.OrderRef,
		ProviderCode:   pc.account.ProviderCode,
		Card:           req.Card,
		ACH:            req.ACH,
		IdempotencyKey: req.IdempotencyKey,
	}

	if err := e.store.CreateIntent(ctx, intent); err != nil {
		if errors.Is(err, db.ErrDuplicateKey) {
			// lost the insert race: adopt the winner's result, no second
			// processor call
			return e.findExisting(ctx, req.TenantID, req.IdempotencyKey)
		}
		return nil, err
	}

	ctx = e.intentCtx(ctx, intent)
	e.audit.Log(ctx, "payment.sale", "payment_intent", intent.ID.String())

	orderID := provider.NewOrderID(intent.ID)
	preq := provider.PaymentRequest{
		OrderID:     orderID,
		AmountCents: intent.TotalCents(),
		Currency:    intent.Currency,
		Token:       req.Token,
		Credentials: pc.creds,
	}

	result, resolution, err := e.invoke(ctx, pc, orderID, func(ctx context.Context) (*provider.Result, error) {
		return pc.adapter.Sale(ctx, preq)
	})
	if err != nil {
		return nil, e.failWithError(ctx, intent, payment.TxSale, err)
	}
	if resolution != nil {
		return e.finalizeRecovery(ctx, intent, resolution)
	}

	interp := response.Interpret(result.ResponseCode, result.ResponseText, result.AVSResponse, result.CVVResponse)

	var eventType string
	var eventAmount int64

	switch {
	case result.Status == provider.StatusApproved && intent.MethodType == payment.MethodACH:
		// "approved" on ACH means accepted for origination, not funds
		// received: captured stays null until settlement
		if err := intent.ApplyACHOrigination(result.ProviderRef); err != nil {
			return nil, err
		}
		eventType = event.TypeACHOriginated
		eventAmount = intent.TotalCents()
		commandApprovedCounter.Inc()

	case result.Status == provider.StatusApproved:
		if err := intent.ApplyCapture(intent.TotalCents(), result.ProviderRef); err != nil {
			return nil, err
		}
		eventType = event.TypeCaptured
		eventAmount = intent.TotalCents()
		commandApprovedCounter.Inc()

	case result.Status == provider.StatusDeclined:
		if err := intent.ApplyDecline(interp.UserMessage); err != nil {
			return nil, err
		}
		eventType = event.TypeDeclined
		eventAmount = intent.TotalCents()
		commandDeclinedCounter.Inc()

	default:
		return nil, e.failWithResult(ctx, intent, payment.TxSale, result, &interp)
	}

	outcome := &db.Outcome{
		Intent:      intent,
		Transaction: newTransaction(intent.ID, payment.TxSale, result, &interp, req.IdempotencyKey),
		Event:       newEvent(intent, eventType, eventAmount, &interp, ""),
	}
	if err := e.store.CommitOutcome(ctx, outcome); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Sale completed", "status", string(intent.Status))
	return &Result{Intent: intent, Interpretation: &interp}, nil
}

// invoke runs one provider call. Exactly one of the returns is set: a
// definite result (direct or adopted from inquiry), a recovery resolution
// the caller must finalize, or an error for non-timeout transport failures.
func (e *Engine) invoke(ctx context.Context, pc *providerContext, orderID string,
	call func(context.Context) (*provider.Result, error)) (*provider.Result, *recovery.Resolution, error) {

	start := time.Now()
	result, err := call(ctx)
	providerCallDurationHistogram.Update(float64(time.Since(start).Milliseconds()))

	if err == nil {
		return result, nil, nil
	}
	if !errors.Is(err, provider.ErrTimeout) {
		return nil, nil, err
	}

	resolution := e.recovery.Recover(ctx, pc.adapter, orderID, pc.creds)
	if resolution.Outcome == recovery.OutcomeAdopted {
		return resolution.Result, nil, nil
	}
	return nil, &resolution, nil
}

// finalizeRecovery persists what the timeout recovery protocol concluded.
func (e *Engine) finalizeRecovery(ctx context.Context, intent *payment.Intent, resolution *recovery.Resolution) (*Result, error) {
	outcome := &db.Outcome{Intent: intent}

	switch resolution.Outcome {
	case recovery.OutcomeVoided:
		if err := intent.Transition(payment.StatusVoided); err != nil {
			return nil, err
		}
		intent.ErrorMessage = &resolution.Explanation
		if resolution.VoidResult != nil {
			outcome.Transaction = newTransaction(intent.ID, payment.TxVoid, resolution.VoidResult, nil, "")
		}
		outcome.Event = newEvent(intent, event.TypeVoided, intent.TotalCents(), nil, "")

	case recovery.OutcomeUnknown:
		if err := intent.MarkUnknown(resolution.Explanation); err != nil {
			return nil, err
		}
		outcome.Transaction = recoveryInquiryTransaction(intent.ID, resolution.Explanation)
		// no domain event: nothing determinate happened, the intent is
		// parked for manual reconciliation
	}

	if err := e.store.CommitOutcome(ctx, outcome); err != nil {
		return nil, err
	}

	commandErrorCounter.Inc()
	e.logger.WarnContext(ctx, "Provider call recovered", "status", string(intent.Status))
	return &Result{Intent: intent}, nil
}

// failWithError records a non-timeout provider failure: a call was made, so
// the intent moves to error rather than staying pre-call.
func (e *Engine) failWithError(ctx context.Context, intent *payment.Intent, txType payment.TransactionType, callErr error) error {
	msg := callErr.Error()
	if err := intent.Transition(payment.StatusError); err != nil {
		return err
	}
	intent.ErrorMessage = &msg

	if err := e.store.CommitOutcome(ctx, &db.Outcome{Intent: intent}); err != nil {
		e.logger.ErrorContext(ctx, "Error persisting failed intent", "error", err)
	}

	commandErrorCounter.Inc()
	return callErr
}

// failWithResult records a definite processor "error" answer.
func (e *Engine) failWithResult(ctx context.Context, intent *payment.Intent, txType payment.TransactionType, result *provider.Result, interp *response.Interpretation) error {
	msg := interp.UserMessage
	if err := intent.Transition(payment.StatusError); err != nil {
		return err
	}
	intent.ErrorMessage = &msg

	outcome := &db.Outcome{
		Intent:      intent,
		Transaction: newTransaction(intent.ID, txType, result, interp, ""),
	}
	if err := e.store.CommitOutcome(ctx, outcome); err != nil {
		e.logger.ErrorContext(ctx, "Error persisting failed intent", "error", err)
	}

	commandErrorCounter.Inc()
	return errors.New(interp.UserMessage)
}

func (e *Engine) intentCtx(ctx context.Context, intent *payment.Intent) context.Context {
	return logcontext.AppendCtx(ctx, slog.String("intentId", intent.ID.String()))
}
