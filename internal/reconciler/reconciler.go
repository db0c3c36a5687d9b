// Package reconciler advances ACH intents toward settlement or return by
// polling processor funding reports. The processor is the authoritative
// ledger: local rows follow it, never the other way around.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"gateway-service/internal/config"
	"gateway-service/internal/credential"
	"gateway-service/internal/db"
	"gateway-service/internal/event"
	"gateway-service/internal/logcontext"
	"gateway-service/internal/payment"
	"gateway-service/internal/provider"
	"gateway-service/internal/response"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

const (
	defaultIntervalMs   = 24 * 60 * 60 * 1000
	defaultLookbackDays = 3
)

var (
	fundingOriginatedCounter = metrics.GetOrCreateCounter(`reconciler_funding_total{result="originated"}`)
	fundingSettledCounter    = metrics.GetOrCreateCounter(`reconciler_funding_total{result="settled"}`)
	fundingReturnedCounter   = metrics.GetOrCreateCounter(`reconciler_funding_total{result="returned"}`)
	fundingUnmatchedCounter  = metrics.GetOrCreateCounter(`reconciler_funding_total{result="unmatched"}`)
	fundingSkippedCounter    = metrics.GetOrCreateCounter(`reconciler_funding_total{result="skipped"}`)

	batchErrorCounter   = metrics.GetOrCreateCounter(`reconciler_batches_total{result="error"}`)
	batchSuccessCounter = metrics.GetOrCreateCounter(`reconciler_batches_total{result="success"}`)
	batchSkippedCounter = metrics.GetOrCreateCounter(`reconciler_batches_total{result="already_processed"}`)
)

// Store is the durable state the reconciler reads and advances.
type Store interface {
	ListACHMerchantAccounts(ctx context.Context) ([]*db.MerchantAccountEntity, error)
	HasFundingMarker(ctx context.Context, accountID uuid.UUID, date time.Time) (bool, error)
	InsertFundingMarker(ctx context.Context, marker *db.FundingBatchMarkerEntity) error
	FindIntentByProviderRef(ctx context.Context, providerRef string) (*payment.Intent, error)
	CommitOutcome(ctx context.Context, outcome *db.Outcome) error
}

type Reconciler struct {
	store        Store
	registry     *provider.Registry
	credentials  credential.Resolver
	interval     time.Duration
	lookbackDays int
	logger       *slog.Logger
}

func New(store Store, registry *provider.Registry, credentials credential.Resolver,
	cfg config.Reconciler, logger *slog.Logger) *Reconciler {
	intervalMs := cfg.IntervalMs
	if intervalMs <= 0 {
		intervalMs = defaultIntervalMs
	}
	lookback := cfg.LookbackDays
	if lookback <= 0 {
		lookback = defaultLookbackDays
	}

	return &Reconciler{
		store:        store,
		registry:     registry,
		credentials:  credentials,
		interval:     time.Duration(intervalMs) * time.Millisecond,
		lookbackDays: lookback,
		logger:       logger,
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.RunOnce(ctx)
			case <-ctx.Done():
				r.logger.InfoContext(ctx, "Context done, stopping reconciler")
				return
			}
		}
	}()
}

// RunOnce polls every ACH-enabled account over the lookback window. Errors
// are caught per account/date pair and never abort the rest of the schedule.
func (r *Reconciler) RunOnce(ctx context.Context) {
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	accounts, err := r.store.ListACHMerchantAccounts(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing ACH merchant accounts", "error", err)
		batchErrorCounter.Inc()
		return
	}

	today := time.Now().Truncate(24 * time.Hour)
	for _, account := range accounts {
		for back := r.lookbackDays; back >= 0; back-- {
			date := today.AddDate(0, 0, -back)
			if err := r.processAccountDate(ctx, account, date); err != nil {
				r.logger.ErrorContext(ctx, "Error reconciling account/date",
					"accountId", account.ID, "date", date.Format("2006-01-02"), "error", err)
				batchErrorCounter.Inc()
			}
		}
	}
}

func (r *Reconciler) processAccountDate(ctx context.Context, account *db.MerchantAccountEntity, date time.Time) error {
	ctx = logcontext.AppendCtx(ctx,
		slog.String("accountId", account.ID.String()),
		slog.String("fundingDate", date.Format("2006-01-02")))

	processed, err := r.store.HasFundingMarker(ctx, account.ID, date)
	if err != nil {
		return err
	}
	if processed {
		batchSkippedCounter.Inc()
		return nil
	}

	adapter, err := r.registry.Resolve(account.ProviderCode)
	if err != nil {
		return err
	}
	creds, err := r.credentials.Resolve(ctx, account.CredentialRef)
	if err != nil {
		return err
	}

	fundingTxs, err := adapter.GetFundingStatus(ctx, date, account.ProviderMerchantID, creds)
	if err != nil {
		return err
	}

	for _, ft := range fundingTxs {
		if err := r.apply(ctx, account, ft); err != nil {
			return err
		}
	}

	// marker last: a crash before this point replays the whole pair, which
	// is safe because every per-transaction step above is idempotent
	return r.store.InsertFundingMarker(ctx, &db.FundingBatchMarkerEntity{
		ID:                uuid.New(),
		MerchantAccountID: account.ID,
		ProviderCode:      account.ProviderCode,
		FundingDate:       date,
	})
}

func (r *Reconciler) apply(ctx context.Context, account *db.MerchantAccountEntity, ft provider.FundingTransaction) error {
	intent, err := r.store.FindIntentByProviderRef(ctx, ft.ProviderRef)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// the processor reports transactions outside this platform's
			// purview; count and move on
			r.logger.InfoContext(ctx, "Skipping unmatched funding transaction", "providerRef", ft.ProviderRef)
			fundingUnmatchedCounter.Inc()
			return nil
		}
		return err
	}

	switch ft.Status {
	case provider.FundingReturned:
		return r.applyReturn(ctx, intent, ft)

	case provider.FundingSettled:
		if intent.Status != payment.StatusACHOriginated {
			fundingSkippedCounter.Inc()
			return nil
		}
		if err := intent.ApplyACHSettlement(); err != nil {
			return err
		}
		outcome := &db.Outcome{
			Intent: intent,
			Event:  newFundingEvent(intent, event.TypeACHSettled, intent.TotalCents(), ""),
		}
		if err := r.store.CommitOutcome(ctx, outcome); err != nil {
			return err
		}
		fundingSettledCounter.Inc()
		return nil

	case provider.FundingOriginated:
		if intent.Status != payment.StatusACHPending {
			fundingSkippedCounter.Inc()
			return nil
		}
		if err := intent.Transition(payment.StatusACHOriginated); err != nil {
			return err
		}
		outcome := &db.Outcome{
			Intent: intent,
			Event:  newFundingEvent(intent, event.TypeACHOriginated, intent.TotalCents(), ""),
		}
		if err := r.store.CommitOutcome(ctx, outcome); err != nil {
			return err
		}
		fundingOriginatedCounter.Inc()
		return nil

	default:
		r.logger.WarnContext(ctx, "Unknown funding status", "status", string(ft.Status))
		fundingSkippedCounter.Inc()
		return nil
	}
}

// applyReturn runs the ACH-return flow: return record, status transition and
// event, all idempotent per provider reference.
func (r *Reconciler) applyReturn(ctx context.Context, intent *payment.Intent, ft provider.FundingTransaction) error {
	if !payment.CanTransition(intent.Status, payment.StatusACHReturned) {
		// already returned or resolved; a replayed report line is a no-op
		fundingSkippedCounter.Inc()
		return nil
	}

	classification := response.ClassifyACHReturn(ft.ReturnCode)

	if err := intent.Transition(payment.StatusACHReturned); err != nil {
		return err
	}
	intent.ErrorMessage = &classification.Reason

	outcome := &db.Outcome{
		Intent: intent,
		ACHReturn: &payment.ACHReturn{
			ID:          uuid.New(),
			IntentID:    intent.ID,
			ProviderRef: ft.ProviderRef,
			ReturnCode:  ft.ReturnCode,
			Reason:      classification.Reason,
			Retryable:   classification.Retryable,
		},
		Event: newFundingEvent(intent, event.TypeACHReturned, intent.TotalCents(), ft.ReturnCode),
	}
	if err := r.store.CommitOutcome(ctx, outcome); err != nil {
		return err
	}

	fundingReturnedCounter.Inc()
	r.logger.InfoContext(ctx, "ACH return applied",
		"intentId", intent.ID, "returnCode", ft.ReturnCode, "retryable", classification.Retryable)
	return nil
}

func newFundingEvent(intent *payment.Intent, eventType string, amountCents int64, returnCode string) *db.OutboxEventEntity {
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

	raw, _ := json.Marshal(payload)

	return &db.OutboxEventEntity{
		ID:        payload.ID,
		TenantID:  intent.TenantID,
		IntentID:  intent.ID,
		EventType: eventType,
		Payload:   string(raw),
	}
}
