package db

import (
	"context"
	"errors"
	"time"

	"gateway-service/internal/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate idempotency key")
)

const pgUniqueViolation = "23505"

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const intentColumns = `id, tenant_id, location_id, status, amount_cents, tip_cents, currency,
	method_type, customer_id, order_ref, provider_code, provider_ref,
	card_brand, card_last4, ach_account_type, ach_sec_code, ach_bank_last4,
	authorized_cents, captured_cents, refunded_cents,
	idempotency_key, error_message, created_at, updated_at`

// CreateIntent inserts the intent row. A unique index on
// (tenant_id, idempotency_key) makes concurrent duplicates race: the loser
// gets ErrDuplicateKey and reads the winner's row instead of calling the
// processor again.
func (r *Repository) CreateIntent(ctx context.Context, intent *payment.Intent) error {
	query := `INSERT INTO payment_intent (` + intentColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`

	now := time.Now()
	intent.CreatedAt = now
	intent.UpdatedAt = now

	var cardBrand, cardLast4, achAccountType, achSECCode, achBankLast4 *string
	if intent.Card != nil {
		cardBrand, cardLast4 = &intent.Card.Brand, &intent.Card.Last4
	}
	if intent.ACH != nil {
		achAccountType, achSECCode, achBankLast4 = &intent.ACH.AccountType, &intent.ACH.SECCode, &intent.ACH.BankLast4
	}

	_, err := r.pool.Exec(ctx, query,
		intent.ID, intent.TenantID, intent.LocationID, intent.Status,
		intent.AmountCents, intent.TipCents, intent.Currency, intent.MethodType,
		intent.CustomerID, intent.OrderRef, intent.ProviderCode, intent.ProviderRef,
		cardBrand, cardLast4, achAccountType, achSECCode, achBankLast4,
		intent.AuthorizedCents, intent.CapturedCents, intent.RefundedCents,
		intent.IdempotencyKey, intent.ErrorMessage, intent.CreatedAt, intent.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (r *Repository) GetIntentByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*payment.Intent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intent WHERE tenant_id = $1 AND idempotency_key = $2`
	return scanIntent(r.pool.QueryRow(ctx, query, tenantID, key))
}

func (r *Repository) GetIntentByID(ctx context.Context, id uuid.UUID) (*payment.Intent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intent WHERE id = $1`
	return scanIntent(r.pool.QueryRow(ctx, query, id))
}

// SelectIntentForUpdate locks the intent row for the duration of tx.
func (r *Repository) SelectIntentForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*payment.Intent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intent WHERE id = $1 FOR UPDATE`
	return scanIntent(tx.QueryRow(ctx, query, id))
}

func (r *Repository) UpdateIntent(ctx context.Context, tx pgx.Tx, intent *payment.Intent) error {
	query := `UPDATE payment_intent SET status = $2, provider_ref = $3,
	          authorized_cents = $4, captured_cents = $5, refunded_cents = $6,
	          error_message = $7, updated_at = $8
	          WHERE id = $1`

	intent.UpdatedAt = time.Now()
	_, err := tx.Exec(ctx, query, intent.ID, intent.Status, intent.ProviderRef,
		intent.AuthorizedCents, intent.CapturedCents, intent.RefundedCents,
		intent.ErrorMessage, intent.UpdatedAt)
	return err
}

// FindIntentByProviderRef matches a processor-reported reference back to the
// owning intent through its transaction rows.
func (r *Repository) FindIntentByProviderRef(ctx context.Context, providerRef string) (*payment.Intent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intent i
	          WHERE i.provider_ref = $1
	             OR i.id IN (SELECT intent_id FROM payment_transaction WHERE provider_ref = $1)
	          LIMIT 1`
	return scanIntent(r.pool.QueryRow(ctx, query, providerRef))
}

func scanIntent(row pgx.Row) (*payment.Intent, error) {
	var intent payment.Intent
	var cardBrand, cardLast4, achAccountType, achSECCode, achBankLast4 *string

	err := row.Scan(
		&intent.ID, &intent.TenantID, &intent.LocationID, &intent.Status,
		&intent.AmountCents, &intent.TipCents, &intent.Currency, &intent.MethodType,
		&intent.CustomerID, &intent.OrderRef, &intent.ProviderCode, &intent.ProviderRef,
		&cardBrand, &cardLast4, &achAccountType, &achSECCode, &achBankLast4,
		&intent.AuthorizedCents, &intent.CapturedCents, &intent.RefundedCents,
		&intent.IdempotencyKey, &intent.ErrorMessage, &intent.CreatedAt, &intent.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if cardBrand != nil {
		intent.Card = &payment.CardMeta{Brand: *cardBrand, Last4: derefOrEmpty(cardLast4)}
	}
	if achAccountType != nil {
		intent.ACH = &payment.ACHMeta{
			AccountType: *achAccountType,
			SECCode:     derefOrEmpty(achSECCode),
			BankLast4:   derefOrEmpty(achBankLast4),
		}
	}
	return &intent, nil
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
