// Package recovery determines the true outcome of a provider call that timed
// out in transit. It never guesses: the result is either a definite answer
// adopted from an inquiry, a confirmed defensive void, or an explicit
// unknown-at-gateway verdict requiring manual reconciliation.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gateway-service/internal/config"
	"gateway-service/internal/provider"
	"github.com/VictoriaMetrics/metrics"
	"github.com/sethvargo/go-retry"
)

const (
	defaultMaxVoidAttempts   = 3
	defaultVoidBackoffBaseMs = 500
)

var (
	recoveryAdoptedCounter = metrics.GetOrCreateCounter(`timeout_recovery_total{outcome="adopted"}`)
	recoveryVoidedCounter  = metrics.GetOrCreateCounter(`timeout_recovery_total{outcome="voided"}`)
	recoveryUnknownCounter = metrics.GetOrCreateCounter(`timeout_recovery_total{outcome="unknown"}`)
)

// Outcome is the verdict of one recovery run.
type Outcome string

const (
	// OutcomeAdopted means the inquiry returned a definite processor answer;
	// the caller classifies it as if it had arrived directly.
	OutcomeAdopted Outcome = "adopted"
	// OutcomeVoided means the original outcome stayed unknown but a void
	// confirmed no live authorization remains at the gateway.
	OutcomeVoided Outcome = "voided"
	// OutcomeUnknown means neither inquiry nor void succeeded; the intent
	// must park as unknown_at_gateway.
	OutcomeUnknown Outcome = "unknown"
)

// Resolution is what a recovery run concluded. Result is non-nil only for
// OutcomeAdopted; VoidResult carries the processor's answer to the defensive
// void for OutcomeVoided. Explanation is always set for voided and unknown
// verdicts.
type Resolution struct {
	Outcome     Outcome
	Result      *provider.Result
	VoidResult  *provider.Result
	Explanation string
}

type Protocol struct {
	maxVoidAttempts int
	backoffBase     time.Duration
	logger          *slog.Logger
}

func NewProtocol(cfg config.Recovery, logger *slog.Logger) *Protocol {
	maxAttempts := cfg.MaxVoidAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxVoidAttempts
	}
	backoffMs := cfg.VoidBackoffBaseMs
	if backoffMs <= 0 {
		backoffMs = defaultVoidBackoffBaseMs
	}

	return &Protocol{
		maxVoidAttempts: maxAttempts,
		backoffBase:     time.Duration(backoffMs) * time.Millisecond,
		logger:          logger,
	}
}

// Recover runs the protocol for the order id of a timed-out call: inquire
// first, then void with bounded jittered retries, then give up explicitly.
func (p *Protocol) Recover(ctx context.Context, adapter provider.Adapter, orderID string, creds provider.Credentials) Resolution {
	p.logger.InfoContext(ctx, "Provider call timed out, starting recovery", "orderId", orderID)

	result, err := adapter.InquireByOrderID(ctx, orderID, creds)
	if err == nil && result != nil {
		p.logger.InfoContext(ctx, "Inquiry returned definite status, adopting it",
			"orderId", orderID, "status", string(result.Status))

		recoveryAdoptedCounter.Inc()
		return Resolution{Outcome: OutcomeAdopted, Result: result}
	}

	if err != nil && !errors.Is(err, provider.ErrNotFound) {
		p.logger.WarnContext(ctx, "Inquiry failed", "orderId", orderID, "error", err)
	}

	if voidResult, voidErr := p.voidWithRetry(ctx, adapter, orderID, creds); voidErr == nil {
		p.logger.InfoContext(ctx, "Defensive void succeeded", "orderId", orderID)

		recoveryVoidedCounter.Inc()
		return Resolution{
			Outcome:     OutcomeVoided,
			VoidResult:  voidResult,
			Explanation: fmt.Sprintf("Outcome of order %s was lost in transit; the transaction was safely voided at the gateway.", orderID),
		}
	}

	p.logger.ErrorContext(ctx, "Recovery exhausted, outcome indeterminate", "orderId", orderID)

	recoveryUnknownCounter.Inc()
	return Resolution{
		Outcome:     OutcomeUnknown,
		Explanation: fmt.Sprintf("Status of order %s is indeterminate: inquiry and void both failed. Manual reconciliation against the processor is required.", orderID),
	}
}

func (p *Protocol) voidWithRetry(ctx context.Context, adapter provider.Adapter, orderID string, creds provider.Credentials) (*provider.Result, error) {
	backoff := retry.WithMaxRetries(uint64(p.maxVoidAttempts-1),
		retry.WithJitterPercent(20, retry.NewExponential(p.backoffBase)))

	var approved *provider.Result
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		result, err := adapter.VoidByOrderID(ctx, orderID, creds)
		if err != nil {
			return retry.RetryableError(err)
		}
		if result.Status != provider.StatusApproved {
			return retry.RetryableError(fmt.Errorf("void declined: %s %s", result.ResponseCode, result.ResponseText))
		}
		approved = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}
