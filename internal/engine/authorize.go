package engine

import (
	"context"
	"errors"

	"gateway-service/internal/db"
	"gateway-service/internal/event"
	"gateway-service/internal/payment"
	"gateway-service/internal/provider"
	"gateway-service/internal/response"
	"github.com/google/uuid"
)

// AuthorizeRequest holds funds on a card without capturing them.
type AuthorizeRequest struct {
	TenantID       uuid.UUID
	LocationID     uuid.UUID
	AmountCents    int64
	Currency       string
	Token          string
	Card           *payment.CardMeta
	CustomerID     *uuid.UUID
	OrderRef       *string
	IdempotencyKey string
}

func (e *Engine) Authorize(ctx context.Context, req AuthorizeRequest) (*Result, error) {
	ctx = e.commandCtx(ctx, "authorize")

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
		Currency:       req.Currency,
		MethodType:     payment.MethodCard,
		CustomerID:     req.CustomerID,
		OrderRef:       req.OrderRef,
		ProviderCode:   pc.account.ProviderCode,
		Card:           req.Card,
		IdempotencyKey: req.IdempotencyKey,
	}

	if err := e.store.CreateIntent(ctx, intent); err != nil {
		if errors.Is(err, db.ErrDuplicateKey) {
			return e.findExisting(ctx, req.TenantID, req.IdempotencyKey)
		}
		return nil, err
	}

	ctx = e.intentCtx(ctx, intent)
	e.audit.Log(ctx, "payment.authorize", "payment_intent", intent.ID.String())

	orderID := provider.NewOrderID(intent.ID)
	preq := provider.PaymentRequest{
		OrderID:     orderID,
		AmountCents: intent.TotalCents(),
		Currency:    intent.Currency,
		Token:       req.Token,
		Credentials: pc.creds,
	}

	result, resolution, err := e.invoke(ctx, pc, orderID, func(ctx context.Context) (*provider.Result, error) {
		return pc.adapter.Authorize(ctx, preq)
	})
	if err != nil {
		return nil, e.failWithError(ctx, intent, payment.TxAuthorize, err)
	}
	if resolution != nil {
		return e.finalizeRecovery(ctx, intent, resolution)
	}

	interp := response.Interpret(result.ResponseCode, result.ResponseText, result.AVSResponse, result.CVVResponse)

	var eventType string

	switch result.Status {
	case provider.StatusApproved:
		if err := intent.ApplyAuthorization(intent.TotalCents(), result.ProviderRef); err != nil {
			return nil, err
		}
		eventType = event.TypeAuthorized
		commandApprovedCounter.Inc()

	case provider.StatusDeclined:
		if err := intent.ApplyDecline(interp.UserMessage); err != nil {
			return nil, err
		}
		eventType = event.TypeDeclined
		commandDeclinedCounter.Inc()

	default:
		return nil, e.failWithResult(ctx, intent, payment.TxAuthorize, result, &interp)
	}

	outcome := &db.Outcome{
		Intent:      intent,
		Transaction: newTransaction(intent.ID, payment.TxAuthorize, result, &interp, req.IdempotencyKey),
		Event:       newEvent(intent, eventType, intent.TotalCents(), &interp, ""),
	}
	if err := e.store.CommitOutcome(ctx, outcome); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Authorization completed", "status", string(intent.Status))
	return &Result{Intent: intent, Interpretation: &interp}, nil
}
