package reconciler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"gateway-service/internal/config"
	"gateway-service/internal/credential"
	"gateway-service/internal/db"
	"gateway-service/internal/event"
	"gateway-service/internal/payment"
	"gateway-service/internal/provider"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	accounts []*db.MerchantAccountEntity
	intents  map[string]*payment.Intent
	markers  map[string]bool
	outcomes []*db.Outcome
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		intents: make(map[string]*payment.Intent),
		markers: make(map[string]bool),
	}
}

func (s *fakeStore) ListACHMerchantAccounts(ctx context.Context) ([]*db.MerchantAccountEntity, error) {
	return s.accounts, nil
}

func markerKey(accountID uuid.UUID, date time.Time) string {
	return accountID.String() + "/" + date.Format("2006-01-02")
}

func (s *fakeStore) HasFundingMarker(ctx context.Context, accountID uuid.UUID, date time.Time) (bool, error) {
	return s.markers[markerKey(accountID, date)], nil
}

func (s *fakeStore) InsertFundingMarker(ctx context.Context, marker *db.FundingBatchMarkerEntity) error {
	s.markers[markerKey(marker.MerchantAccountID, marker.FundingDate)] = true
	return nil
}

func (s *fakeStore) FindIntentByProviderRef(ctx context.Context, providerRef string) (*payment.Intent, error) {
	intent, ok := s.intents[providerRef]
	if !ok {
		return nil, db.ErrNotFound
	}
	return intent, nil
}

func (s *fakeStore) CommitOutcome(ctx context.Context, outcome *db.Outcome) error {
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

type fundingAdapter struct {
	transactions []provider.FundingTransaction
	calls        int
}

func (f *fundingAdapter) Code() string { return "epx" }

func (f *fundingAdapter) Authorize(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	panic("not used")
}

func (f *fundingAdapter) Sale(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	panic("not used")
}

func (f *fundingAdapter) Capture(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	panic("not used")
}

func (f *fundingAdapter) Void(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	panic("not used")
}

func (f *fundingAdapter) Refund(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	panic("not used")
}

func (f *fundingAdapter) InquireByOrderID(ctx context.Context, orderID string, creds provider.Credentials) (*provider.Result, error) {
	panic("not used")
}

func (f *fundingAdapter) VoidByOrderID(ctx context.Context, orderID string, creds provider.Credentials) (*provider.Result, error) {
	panic("not used")
}

func (f *fundingAdapter) GetFundingStatus(ctx context.Context, date time.Time, merchantID string, creds provider.Credentials) ([]provider.FundingTransaction, error) {
	f.calls++
	return f.transactions, nil
}

func testAccount() *db.MerchantAccountEntity {
	return &db.MerchantAccountEntity{
		ID:                 uuid.New(),
		TenantID:           uuid.New(),
		LocationID:         uuid.New(),
		ProviderCode:       "epx",
		ProviderMerchantID: "M123",
		CredentialRef:      "TESTCRED",
		ACHEnabled:         true,
		Active:             true,
	}
}

func achIntent(status payment.Status, ref string) *payment.Intent {
	return &payment.Intent{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		LocationID:   uuid.New(),
		Status:       status,
		AmountCents:  7500,
		Currency:     "USD",
		MethodType:   payment.MethodACH,
		ProviderCode: "epx",
		ProviderRef:  &ref,
	}
}

func newTestReconciler(store *fakeStore, adapter provider.Adapter) *Reconciler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	creds := credential.NewStaticResolver(map[string]provider.Credentials{
		"TESTCRED": {MerchantNumber: "M123"},
	})
	return New(store, provider.NewRegistry(adapter), creds,
		config.Reconciler{IntervalMs: 1000, LookbackDays: 1}, logger)
}

func TestSettlementAdvancesOriginatedIntent(t *testing.T) {
	store := newFakeStore()
	store.accounts = []*db.MerchantAccountEntity{testAccount()}
	intent := achIntent(payment.StatusACHOriginated, "ACH-1")
	store.intents["ACH-1"] = intent

	adapter := &fundingAdapter{transactions: []provider.FundingTransaction{
		{ProviderRef: "ACH-1", Status: provider.FundingSettled, AmountCents: 7500},
	}}

	newTestReconciler(store, adapter).RunOnce(context.Background())

	assert.Equal(t, payment.StatusACHSettled, intent.Status)
	require.NotNil(t, intent.CapturedCents)
	assert.Equal(t, int64(7500), *intent.CapturedCents)

	require.NotEmpty(t, store.outcomes)
	assert.Equal(t, event.TypeACHSettled, store.outcomes[0].Event.EventType)
}

func TestOriginationAdvancesPendingIntent(t *testing.T) {
	store := newFakeStore()
	store.accounts = []*db.MerchantAccountEntity{testAccount()}
	intent := achIntent(payment.StatusACHPending, "ACH-1")
	store.intents["ACH-1"] = intent

	adapter := &fundingAdapter{transactions: []provider.FundingTransaction{
		{ProviderRef: "ACH-1", Status: provider.FundingOriginated},
	}}

	newTestReconciler(store, adapter).RunOnce(context.Background())

	assert.Equal(t, payment.StatusACHOriginated, intent.Status)
	assert.Nil(t, intent.CapturedCents)
}

func TestReturnRecordsCodeAndRetryability(t *testing.T) {
	store := newFakeStore()
	store.accounts = []*db.MerchantAccountEntity{testAccount()}
	intent := achIntent(payment.StatusACHOriginated, "ACH-1")
	store.intents["ACH-1"] = intent

	adapter := &fundingAdapter{transactions: []provider.FundingTransaction{
		{ProviderRef: "ACH-1", Status: provider.FundingReturned, ReturnCode: "R01"},
	}}

	newTestReconciler(store, adapter).RunOnce(context.Background())

	assert.Equal(t, payment.StatusACHReturned, intent.Status)

	require.NotEmpty(t, store.outcomes)
	outcome := store.outcomes[0]
	require.NotNil(t, outcome.ACHReturn)
	assert.Equal(t, "R01", outcome.ACHReturn.ReturnCode)
	assert.True(t, outcome.ACHReturn.Retryable)
	assert.Equal(t, "Insufficient funds", outcome.ACHReturn.Reason)
	assert.Equal(t, event.TypeACHReturned, outcome.Event.EventType)
}

func TestReplayedReturnLineIsNoOp(t *testing.T) {
	store := newFakeStore()
	store.accounts = []*db.MerchantAccountEntity{testAccount()}
	intent := achIntent(payment.StatusACHReturned, "ACH-1")
	store.intents["ACH-1"] = intent

	adapter := &fundingAdapter{transactions: []provider.FundingTransaction{
		{ProviderRef: "ACH-1", Status: provider.FundingReturned, ReturnCode: "R01"},
	}}

	newTestReconciler(store, adapter).RunOnce(context.Background())

	assert.Equal(t, payment.StatusACHReturned, intent.Status)
	assert.Empty(t, store.outcomes)
}

func TestUnmatchedTransactionIsSkipped(t *testing.T) {
	store := newFakeStore()
	store.accounts = []*db.MerchantAccountEntity{testAccount()}

	adapter := &fundingAdapter{transactions: []provider.FundingTransaction{
		{ProviderRef: "FOREIGN-1", Status: provider.FundingSettled},
	}}

	newTestReconciler(store, adapter).RunOnce(context.Background())

	assert.Empty(t, store.outcomes)
	// the batch still completes and writes its markers
	assert.Len(t, store.markers, 2)
}

func TestMarkerPreventsReprocessing(t *testing.T) {
	store := newFakeStore()
	account := testAccount()
	store.accounts = []*db.MerchantAccountEntity{account}
	intent := achIntent(payment.StatusACHOriginated, "ACH-1")
	store.intents["ACH-1"] = intent

	adapter := &fundingAdapter{transactions: []provider.FundingTransaction{
		{ProviderRef: "ACH-1", Status: provider.FundingSettled},
	}}

	r := newTestReconciler(store, adapter)
	r.RunOnce(context.Background())
	firstCalls := adapter.calls
	assert.Equal(t, 2, firstCalls)

	r.RunOnce(context.Background())

	assert.Equal(t, firstCalls, adapter.calls)
	assert.Len(t, store.outcomes, 1)
}

func TestSettlementForNonOriginatedIntentIsSkipped(t *testing.T) {
	store := newFakeStore()
	store.accounts = []*db.MerchantAccountEntity{testAccount()}
	intent := achIntent(payment.StatusACHPending, "ACH-1")
	store.intents["ACH-1"] = intent

	adapter := &fundingAdapter{transactions: []provider.FundingTransaction{
		{ProviderRef: "ACH-1", Status: provider.FundingSettled},
	}}

	newTestReconciler(store, adapter).RunOnce(context.Background())

	assert.Equal(t, payment.StatusACHPending, intent.Status)
	assert.Empty(t, store.outcomes)
}
