package db

import (
	"context"
	"log"
	"testing"
	"time"

	"gateway-service/internal/db"
	"gateway-service/internal/payment"
	"gateway-service/tests/testhelpers"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type RepositoryTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	sut         *db.Repository
	ctx         context.Context
}

func (s *RepositoryTestSuite) SetupSuite() {
	time.Local = time.UTC

	s.ctx = context.Background()
	pgContainer, err := testhelpers.CreatePostgresContainer(s.ctx)
	if err != nil {
		log.Fatal(err)
	}
	s.pgContainer = pgContainer

	if err := db.RunMigrations(pgContainer.ConnectionString, "../../../migrations"); err != nil {
		log.Fatal(err)
	}

	pool, err := db.GetPool(pgContainer.ConnectionString)
	if err != nil {
		log.Fatal(err)
	}

	s.pool = pool
	s.sut = db.NewRepository(pool)
}

func (s *RepositoryTestSuite) TearDownSuite() {
	s.pool.Close()

	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *RepositoryTestSuite) SetupTest() {
	for _, table := range []string{"ach_return", "outbox_event", "payment_transaction", "funding_batch_marker", "merchant_account", "payment_intent"} {
		if _, err := s.pool.Exec(s.ctx, "DELETE FROM "+table); err != nil {
			log.Fatalf("error truncating %s table: %s", table, err)
		}
	}
}

func (s *RepositoryTestSuite) newIntent() *payment.Intent {
	return &payment.Intent{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		LocationID:     uuid.New(),
		Status:         payment.StatusCreated,
		AmountCents:    10000,
		TipCents:       500,
		Currency:       "USD",
		MethodType:     payment.MethodCard,
		ProviderCode:   "epx",
		Card:           &payment.CardMeta{Brand: "visa", Last4: "4242"},
		IdempotencyKey: uuid.New().String(),
	}
}

func (s *RepositoryTestSuite) TestCreateAndGetIntent() {
	t := s.T()

	intent := s.newIntent()
	require.NoError(t, s.sut.CreateIntent(s.ctx, intent))

	loaded, err := s.sut.GetIntentByID(s.ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, intent.ID, loaded.ID)
	assert.Equal(t, payment.StatusCreated, loaded.Status)
	assert.Equal(t, int64(10000), loaded.AmountCents)
	assert.Equal(t, int64(500), loaded.TipCents)
	require.NotNil(t, loaded.Card)
	assert.Equal(t, "visa", loaded.Card.Brand)
	assert.Equal(t, "4242", loaded.Card.Last4)
	assert.Nil(t, loaded.CapturedCents)
}

func (s *RepositoryTestSuite) TestGetIntentByIDNotFound() {
	t := s.T()

	_, err := s.sut.GetIntentByID(s.ctx, uuid.New())
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func (s *RepositoryTestSuite) TestDuplicateIdempotencyKeyRejected() {
	t := s.T()

	first := s.newIntent()
	require.NoError(t, s.sut.CreateIntent(s.ctx, first))

	dup := s.newIntent()
	dup.TenantID = first.TenantID
	dup.IdempotencyKey = first.IdempotencyKey

	err := s.sut.CreateIntent(s.ctx, dup)
	assert.ErrorIs(t, err, db.ErrDuplicateKey)

	winner, err := s.sut.GetIntentByIdempotencyKey(s.ctx, first.TenantID, first.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, first.ID, winner.ID)
}

func (s *RepositoryTestSuite) TestSameKeyDifferentTenantsAllowed() {
	t := s.T()

	first := s.newIntent()
	require.NoError(t, s.sut.CreateIntent(s.ctx, first))

	other := s.newIntent()
	other.IdempotencyKey = first.IdempotencyKey

	assert.NoError(t, s.sut.CreateIntent(s.ctx, other))
}

func (s *RepositoryTestSuite) TestCommitOutcomePersistsEverythingTogether() {
	t := s.T()

	intent := s.newIntent()
	require.NoError(t, s.sut.CreateIntent(s.ctx, intent))

	ref := "BRIC-1"
	require.NoError(t, intent.ApplyCapture(10500, ref))

	outcome := &db.Outcome{
		Intent: intent,
		Transaction: &payment.Transaction{
			ID:             uuid.New(),
			IntentID:       intent.ID,
			Type:           payment.TxSale,
			ProviderRef:    &ref,
			ResponseStatus: "approved",
			ResponseCode:   "00",
		},
		Event: &db.OutboxEventEntity{
			ID:        uuid.New(),
			TenantID:  intent.TenantID,
			IntentID:  intent.ID,
			EventType: "payment.gateway.captured.v1",
			Payload:   `{"k":"v"}`,
		},
	}
	require.NoError(t, s.sut.CommitOutcome(s.ctx, outcome))

	loaded, err := s.sut.GetIntentByID(s.ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCaptured, loaded.Status)
	require.NotNil(t, loaded.CapturedCents)
	assert.Equal(t, int64(10500), *loaded.CapturedCents)

	txs, err := s.sut.GetTransactionsByIntentID(s.ctx, intent.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, payment.TxSale, txs[0].Type)

	tx, err := s.sut.BeginTx(s.ctx)
	require.NoError(t, err)
	defer tx.Rollback(s.ctx)

	events, err := s.sut.GetUnpublishedEvents(s.ctx, tx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "payment.gateway.captured.v1", events[0].EventType)
}

func (s *RepositoryTestSuite) TestOutboxEventLifecycle() {
	t := s.T()

	intent := s.newIntent()
	require.NoError(t, s.sut.CreateIntent(s.ctx, intent))

	tx, err := s.sut.BeginTx(s.ctx)
	require.NoError(t, err)

	event := &db.OutboxEventEntity{
		ID:        uuid.New(),
		TenantID:  intent.TenantID,
		IntentID:  intent.ID,
		EventType: "payment.gateway.authorized.v1",
		Payload:   `{"k":"v"}`,
	}
	require.NoError(t, s.sut.InsertOutboxEvent(s.ctx, tx, event))
	require.NoError(t, tx.Commit(s.ctx))

	tx, err = s.sut.BeginTx(s.ctx)
	require.NoError(t, err)

	events, err := s.sut.GetUnpublishedEvents(s.ctx, tx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	now := time.Now()
	events[0].PublishedAt = &now
	events[0].ScheduledAt = nil
	events[0].PublishAttempts = 1
	require.NoError(t, s.sut.UpdateOutboxEvent(s.ctx, tx, events[0]))
	require.NoError(t, tx.Commit(s.ctx))

	tx, err = s.sut.BeginTx(s.ctx)
	require.NoError(t, err)
	defer tx.Rollback(s.ctx)

	events, err = s.sut.GetUnpublishedEvents(s.ctx, tx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func (s *RepositoryTestSuite) TestFindIntentByProviderRef() {
	t := s.T()

	intent := s.newIntent()
	require.NoError(t, s.sut.CreateIntent(s.ctx, intent))

	ref := "BRIC-42"
	tx, err := s.sut.BeginTx(s.ctx)
	require.NoError(t, err)

	require.NoError(t, s.sut.InsertTransaction(s.ctx, tx, &payment.Transaction{
		ID:             uuid.New(),
		IntentID:       intent.ID,
		Type:           payment.TxSale,
		ProviderRef:    &ref,
		ResponseStatus: "approved",
	}))
	require.NoError(t, tx.Commit(s.ctx))

	found, err := s.sut.FindIntentByProviderRef(s.ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, intent.ID, found.ID)

	_, err = s.sut.FindIntentByProviderRef(s.ctx, "UNKNOWN-REF")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func (s *RepositoryTestSuite) TestMerchantAccounts() {
	t := s.T()

	account := &db.MerchantAccountEntity{
		ID:                 uuid.New(),
		TenantID:           uuid.New(),
		LocationID:         uuid.New(),
		ProviderCode:       "epx",
		ProviderMerchantID: "M123",
		CredentialRef:      "EPX_MAIN",
		ACHEnabled:         true,
		Active:             true,
	}
	require.NoError(t, s.sut.CreateMerchantAccount(s.ctx, account))

	loaded, err := s.sut.GetMerchantAccount(s.ctx, account.TenantID, account.LocationID)
	require.NoError(t, err)
	assert.Equal(t, account.ID, loaded.ID)
	assert.Equal(t, "epx", loaded.ProviderCode)

	achAccounts, err := s.sut.ListACHMerchantAccounts(s.ctx)
	require.NoError(t, err)
	require.Len(t, achAccounts, 1)

	_, err = s.sut.GetMerchantAccount(s.ctx, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func (s *RepositoryTestSuite) TestFundingMarkerIdempotence() {
	t := s.T()

	accountID := uuid.New()
	date := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	has, err := s.sut.HasFundingMarker(s.ctx, accountID, date)
	require.NoError(t, err)
	assert.False(t, has)

	marker := &db.FundingBatchMarkerEntity{
		ID:                uuid.New(),
		MerchantAccountID: accountID,
		ProviderCode:      "epx",
		FundingDate:       date,
	}
	require.NoError(t, s.sut.InsertFundingMarker(s.ctx, marker))

	has, err = s.sut.HasFundingMarker(s.ctx, accountID, date)
	require.NoError(t, err)
	assert.True(t, has)

	// same pair again is a no-op, not an error
	dup := &db.FundingBatchMarkerEntity{
		ID:                uuid.New(),
		MerchantAccountID: accountID,
		ProviderCode:      "epx",
		FundingDate:       date,
	}
	assert.NoError(t, s.sut.InsertFundingMarker(s.ctx, dup))
}

func (s *RepositoryTestSuite) TestInsertACHReturnIdempotentPerProviderRef() {
	t := s.T()

	intent := s.newIntent()
	require.NoError(t, s.sut.CreateIntent(s.ctx, intent))

	tx, err := s.sut.BeginTx(s.ctx)
	require.NoError(t, err)
	defer tx.Rollback(s.ctx)

	ret := &payment.ACHReturn{
		ID:          uuid.New(),
		IntentID:    intent.ID,
		ProviderRef: "ACH-1",
		ReturnCode:  "R01",
		Reason:      "Insufficient funds",
		Retryable:   true,
	}

	inserted, err := s.sut.InsertACHReturn(s.ctx, tx, ret)
	require.NoError(t, err)
	assert.True(t, inserted)

	replay := &payment.ACHReturn{
		ID:          uuid.New(),
		IntentID:    intent.ID,
		ProviderRef: "ACH-1",
		ReturnCode:  "R01",
		Reason:      "Insufficient funds",
		Retryable:   true,
	}
	inserted, err = s.sut.InsertACHReturn(s.ctx, tx, replay)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(RepositoryTestSuite))
}
