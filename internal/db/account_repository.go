package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, tenant_id, location_id, provider_code, provider_merchant_id,
	credential_ref, ach_enabled, active, created_at`

func (r *Repository) GetMerchantAccount(ctx context.Context, tenantID, locationID uuid.UUID) (*MerchantAccountEntity, error) {
	query := `SELECT ` + accountColumns + ` FROM merchant_account
	          WHERE tenant_id = $1 AND location_id = $2 AND active`
	return scanAccount(r.pool.QueryRow(ctx, query, tenantID, locationID))
}

func (r *Repository) ListACHMerchantAccounts(ctx context.Context) ([]*MerchantAccountEntity, error) {
	query := `SELECT ` + accountColumns + ` FROM merchant_account WHERE ach_enabled AND active`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MerchantAccountEntity
	for rows.Next() {
		var a MerchantAccountEntity
		if err := rows.Scan(&a.ID, &a.TenantID, &a.LocationID, &a.ProviderCode, &a.ProviderMerchantID,
			&a.CredentialRef, &a.ACHEnabled, &a.Active, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *Repository) CreateMerchantAccount(ctx context.Context, account *MerchantAccountEntity) error {
	query := `INSERT INTO merchant_account (` + accountColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	account.CreatedAt = time.Now()
	_, err := r.pool.Exec(ctx, query, account.ID, account.TenantID, account.LocationID,
		account.ProviderCode, account.ProviderMerchantID, account.CredentialRef,
		account.ACHEnabled, account.Active, account.CreatedAt)
	return err
}

// HasFundingMarker reports whether the (account, date) pair was already
// reconciled. Dates compare on the day, not the timestamp.
func (r *Repository) HasFundingMarker(ctx context.Context, accountID uuid.UUID, date time.Time) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM funding_batch_marker
	          WHERE merchant_account_id = $1 AND funding_date = $2)`

	var exists bool
	err := r.pool.QueryRow(ctx, query, accountID, date.Format("2006-01-02")).Scan(&exists)
	return exists, err
}

// InsertFundingMarker records a completed poll. Recording only after the
// whole batch means a mid-batch crash replays the pair, which is safe
// because every per-transaction step is idempotent.
func (r *Repository) InsertFundingMarker(ctx context.Context, marker *FundingBatchMarkerEntity) error {
	query := `INSERT INTO funding_batch_marker (id, merchant_account_id, provider_code, funding_date, processed_at)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (merchant_account_id, funding_date) DO NOTHING`

	marker.ProcessedAt = time.Now()
	_, err := r.pool.Exec(ctx, query, marker.ID, marker.MerchantAccountID,
		marker.ProviderCode, marker.FundingDate.Format("2006-01-02"), marker.ProcessedAt)
	return err
}

func scanAccount(row pgx.Row) (*MerchantAccountEntity, error) {
	var a MerchantAccountEntity
	err := row.Scan(&a.ID, &a.TenantID, &a.LocationID, &a.ProviderCode, &a.ProviderMerchantID,
		&a.CredentialRef, &a.ACHEnabled, &a.Active, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}
