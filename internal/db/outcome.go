package db

import (
	"context"

	"gateway-service/internal/payment"
)

// Outcome is one atomic unit of engine work: the intent mutation, the
// append-only transaction row, the staged domain event, and (for ACH
// returns) the return record. Everything commits together or not at all.
type Outcome struct {
	Intent      *payment.Intent
	Transaction *payment.Transaction
	Event       *OutboxEventEntity
	ACHReturn   *payment.ACHReturn
}

// CommitOutcome applies the outcome in a single transaction. The intent row
// is locked for the duration, which is the only lock the engine holds.
func (r *Repository) CommitOutcome(ctx context.Context, outcome *Outcome) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := r.SelectIntentForUpdate(ctx, tx, outcome.Intent.ID); err != nil {
		return err
	}

	if err := r.UpdateIntent(ctx, tx, outcome.Intent); err != nil {
		return err
	}

	if outcome.Transaction != nil {
		if err := r.InsertTransaction(ctx, tx, outcome.Transaction); err != nil {
			return err
		}
	}

	if outcome.ACHReturn != nil {
		if _, err := r.InsertACHReturn(ctx, tx, outcome.ACHReturn); err != nil {
			return err
		}
	}

	if outcome.Event != nil {
		if err := r.InsertOutboxEvent(ctx, tx, outcome.Event); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
