package db

import (
	"context"
	"time"

	"gateway-service/internal/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InsertTransaction appends one provider round-trip record. Transaction rows
// are immutable; there is deliberately no update method.
func (r *Repository) InsertTransaction(ctx context.Context, tx pgx.Tx, t *payment.Transaction) error {
	query := `INSERT INTO payment_transaction (id, intent_id, tx_type, provider_ref, auth_code,
	          response_status, response_code, response_text, avs_result, cvv_result,
	          decline_category, retryable, raw_payload, idempotency_token, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	t.CreatedAt = time.Now()
	_, err := tx.Exec(ctx, query, t.ID, t.IntentID, t.Type, t.ProviderRef, t.AuthCode,
		t.ResponseStatus, t.ResponseCode, t.ResponseText, t.AVSResult, t.CVVResult,
		t.DeclineCategory, t.Retryable, t.RawPayload, t.IdempotencyToken, t.CreatedAt)
	return err
}

func (r *Repository) GetTransactionsByIntentID(ctx context.Context, intentID uuid.UUID) ([]*payment.Transaction, error) {
	query := `SELECT id, intent_id, tx_type, provider_ref, auth_code,
	          response_status, response_code, response_text, avs_result, cvv_result,
	          decline_category, retryable, raw_payload, idempotency_token, created_at
	          FROM payment_transaction WHERE intent_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*payment.Transaction
	for rows.Next() {
		var t payment.Transaction
		if err := rows.Scan(&t.ID, &t.IntentID, &t.Type, &t.ProviderRef, &t.AuthCode,
			&t.ResponseStatus, &t.ResponseCode, &t.ResponseText, &t.AVSResult, &t.CVVResult,
			&t.DeclineCategory, &t.Retryable, &t.RawPayload, &t.IdempotencyToken, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// InsertACHReturn records one bank return, idempotent per provider ref: a
// replayed funding report line reports inserted=false and changes nothing.
func (r *Repository) InsertACHReturn(ctx context.Context, tx pgx.Tx, ret *payment.ACHReturn) (bool, error) {
	query := `INSERT INTO ach_return (id, intent_id, provider_ref, return_code, reason, retryable, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (provider_ref) DO NOTHING`

	ret.CreatedAt = time.Now()
	tag, err := tx.Exec(ctx, query, ret.ID, ret.IntentID, ret.ProviderRef,
		ret.ReturnCode, ret.Reason, ret.Retryable, ret.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
