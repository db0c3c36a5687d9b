// Package engine is the command layer of the payment gateway: it drives
// sale, authorize, capture, void, refund and ACH origination through a
// provider adapter and keeps the durable record of what actually happened.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"gateway-service/internal/audit"
	"gateway-service/internal/credential"
	"gateway-service/internal/db"
	"gateway-service/internal/event"
	"gateway-service/internal/logcontext"
	"gateway-service/internal/payment"
	"gateway-service/internal/provider"
	"gateway-service/internal/recovery"
	"gateway-service/internal/response"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

var (
	ErrIntentNotFound    = errors.New("payment intent not found")
	ErrUnsupportedMethod = errors.New("operation not supported for payment method")
	ErrTenantMismatch    = errors.New("intent does not belong to tenant")
)

var (
	commandApprovedCounter      = metrics.GetOrCreateCounter(`engine_commands_total{result="approved"}`)
	commandDeclinedCounter      = metrics.GetOrCreateCounter(`engine_commands_total{result="declined"}`)
	commandErrorCounter         = metrics.GetOrCreateCounter(`engine_commands_total{result="error"}`)
	commandIdempotentHitCounter = metrics.GetOrCreateCounter(`engine_commands_total{result="idempotent_hit"}`)

	providerCallDurationHistogram = metrics.GetOrCreateHistogram(`engine_provider_call_duration_milliseconds`)
)

// Store is the durable record the engine mutates. *db.Repository satisfies it.
type Store interface {
	CreateIntent(ctx context.Context, intent *payment.Intent) error
	GetIntentByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*payment.Intent, error)
	GetIntentByID(ctx context.Context, id uuid.UUID) (*payment.Intent, error)
	GetTransactionsByIntentID(ctx context.Context, intentID uuid.UUID) ([]*payment.Transaction, error)
	GetMerchantAccount(ctx context.Context, tenantID, locationID uuid.UUID) (*db.MerchantAccountEntity, error)
	CommitOutcome(ctx context.Context, outcome *db.Outcome) error
}

// Result is what every command returns: the intent as persisted plus the
// interpreted processor answer when a processor was actually consulted.
type Result struct {
	Intent         *payment.Intent
	Interpretation *response.Interpretation
}

type Engine struct {
	store       Store
	registry    *provider.Registry
	credentials credential.Resolver
	recovery    *recovery.Protocol
	audit       audit.Logger
	logger      *slog.Logger
}

func New(store Store, registry *provider.Registry, credentials credential.Resolver,
	recoveryProtocol *recovery.Protocol, auditLogger audit.Logger, logger *slog.Logger) *Engine {
	return &Engine{
		store:       store,
		registry:    registry,
		credentials: credentials,
		recovery:    recoveryProtocol,
		audit:       auditLogger,
		logger:      logger,
	}
}

// providerContext is the resolved adapter + credentials for one command.
type providerContext struct {
	account *db.MerchantAccountEntity
	adapter provider.Adapter
	creds   provider.Credentials
}

// resolveProvider fails the command before any processor call when the
// tenant/location has no usable configuration.
func (e *Engine) resolveProvider(ctx context.Context, tenantID, locationID uuid.UUID) (*providerContext, error) {
	account, err := e.store.GetMerchantAccount(ctx, tenantID, locationID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, provider.ErrProviderNotConfigured
		}
		return nil, err
	}

	adapter, err := e.registry.Resolve(account.ProviderCode)
	if err != nil {
		return nil, err
	}

	creds, err := e.credentials.Resolve(ctx, account.CredentialRef)
	if err != nil {
		return nil, err
	}

	return &providerContext{account: account, adapter: adapter, creds: creds}, nil
}

// findExisting returns the materialized result for a replayed idempotency
// key, or nil when the key is fresh.
func (e *Engine) findExisting(ctx context.Context, tenantID uuid.UUID, idempotencyKey string) (*Result, error) {
	existing, err := e.store.GetIntentByIdempotencyKey(ctx, tenantID, idempotencyKey)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	e.logger.InfoContext(ctx, "Idempotent replay, returning existing intent", "intentId", existing.ID)
	commandIdempotentHitCounter.Inc()
	return &Result{Intent: existing}, nil
}

// newEvent stages exactly one domain event for the outcome of a command.
func newEvent(intent *payment.Intent, eventType string, amountCents int64, interp *response.Interpretation, returnCode string) *db.OutboxEventEntity {
	payload := event.GatewayEvent{
		ID:          uuid.New(),
		Type:        eventType,
		OccurredAt:  time.Now(),
		TenantID:    intent.TenantID,
		LocationID:  intent.LocationID,
		IntentID:    intent.ID,
		AmountCents: amountCents,
		Currency:    intent.Currency,
		ReturnCode:  returnCode,
	}
	if intent.ProviderRef != nil {
		payload.ProviderRef = *intent.ProviderRef
	}
	if interp != nil && !interp.Approved {
		payload.DeclineCategory = string(interp.DeclineCategory)
		payload.UserMessage = interp.UserMessage
		payload.Retryable = interp.Retryable
	}

	raw, _ := json.Marshal(payload)

	return &db.OutboxEventEntity{
		ID:        payload.ID,
		TenantID:  intent.TenantID,
		IntentID:  intent.ID,
		EventType: eventType,
		Payload:   string(raw),
	}
}

// newTransaction builds the append-only record of one provider round-trip.
func newTransaction(intentID uuid.UUID, txType payment.TransactionType, result *provider.Result, interp *response.Interpretation, token string) *payment.Transaction {
	t := &payment.Transaction{
		ID:             uuid.New(),
		IntentID:       intentID,
		Type:           txType,
		ResponseStatus: string(result.Status),
		ResponseCode:   result.ResponseCode,
		ResponseText:   result.ResponseText,
		RawPayload:     result.RawPayload,
	}
	if result.ProviderRef != "" {
		t.ProviderRef = &result.ProviderRef
	}
	if result.AuthCode != "" {
		t.AuthCode = &result.AuthCode
	}
	if token != "" {
		t.IdempotencyToken = &token
	}
	if interp != nil {
		avs := string(interp.AVSResult)
		cvv := string(interp.CVVResult)
		category := string(interp.DeclineCategory)
		t.AVSResult = &avs
		t.CVVResult = &cvv
		t.DeclineCategory = &category
		t.Retryable = interp.Retryable
	}
	return t
}

// recoveryInquiryTransaction records an exhausted recovery run: no definite
// processor answer exists, so the row carries the explanation instead.
func recoveryInquiryTransaction(intentID uuid.UUID, explanation string) *payment.Transaction {
	return &payment.Transaction{
		ID:             uuid.New(),
		IntentID:       intentID,
		Type:           payment.TxInquiry,
		ResponseStatus: "unknown",
		ResponseText:   explanation,
	}
}

// commandCtx tags all logs of one command with a correlation id.
func (e *Engine) commandCtx(ctx context.Context, command string) context.Context {
	return logcontext.AppendCtx(ctx,
		slog.String("command", command),
		slog.String("runId", uuid.New().String()))
}
