package recovery

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"gateway-service/internal/config"
	"gateway-service/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	inquireResult *provider.Result
	inquireErr    error
	voidResults   []*provider.Result
	voidErrs      []error
	voidCalls     int
}

func (f *fakeAdapter) Code() string { return "fake" }

func (f *fakeAdapter) Authorize(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	panic("not used")
}

func (f *fakeAdapter) Sale(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	panic("not used")
}

func (f *fakeAdapter) Capture(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	panic("not used")
}

func (f *fakeAdapter) Void(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	panic("not used")
}

func (f *fakeAdapter) Refund(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	panic("not used")
}

func (f *fakeAdapter) InquireByOrderID(ctx context.Context, orderID string, creds provider.Credentials) (*provider.Result, error) {
	return f.inquireResult, f.inquireErr
}

func (f *fakeAdapter) VoidByOrderID(ctx context.Context, orderID string, creds provider.Credentials) (*provider.Result, error) {
	i := f.voidCalls
	f.voidCalls++
	if i >= len(f.voidResults) {
		i = len(f.voidResults) - 1
	}
	return f.voidResults[i], f.voidErrs[i]
}

func (f *fakeAdapter) GetFundingStatus(ctx context.Context, date time.Time, merchantID string, creds provider.Credentials) ([]provider.FundingTransaction, error) {
	panic("not used")
}

func newTestProtocol() *Protocol {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProtocol(config.Recovery{MaxVoidAttempts: 3, VoidBackoffBaseMs: 1}, logger)
}

func TestRecoverAdoptsInquiryResult(t *testing.T) {
	adapter := &fakeAdapter{
		inquireResult: &provider.Result{
			ProviderRef:  "BRIC-1",
			Status:       provider.StatusApproved,
			ResponseCode: "00",
		},
	}

	res := newTestProtocol().Recover(context.Background(), adapter, "order1", provider.Credentials{})

	assert.Equal(t, OutcomeAdopted, res.Outcome)
	require.NotNil(t, res.Result)
	assert.Equal(t, provider.StatusApproved, res.Result.Status)
	assert.Equal(t, 0, adapter.voidCalls)
}

func TestRecoverAdoptsDecline(t *testing.T) {
	adapter := &fakeAdapter{
		inquireResult: &provider.Result{Status: provider.StatusDeclined, ResponseCode: "51"},
	}

	res := newTestProtocol().Recover(context.Background(), adapter, "order1", provider.Credentials{})

	assert.Equal(t, OutcomeAdopted, res.Outcome)
	assert.Equal(t, provider.StatusDeclined, res.Result.Status)
}

func TestRecoverVoidsWhenInquiryFindsNothing(t *testing.T) {
	adapter := &fakeAdapter{
		inquireErr:  provider.ErrNotFound,
		voidResults: []*provider.Result{{Status: provider.StatusApproved}},
		voidErrs:    []error{nil},
	}

	res := newTestProtocol().Recover(context.Background(), adapter, "order1", provider.Credentials{})

	assert.Equal(t, OutcomeVoided, res.Outcome)
	assert.Nil(t, res.Result)
	require.NotNil(t, res.VoidResult)
	assert.Equal(t, provider.StatusApproved, res.VoidResult.Status)
	assert.NotEmpty(t, res.Explanation)
	assert.Equal(t, 1, adapter.voidCalls)
}

func TestRecoverVoidSucceedsOnRetry(t *testing.T) {
	adapter := &fakeAdapter{
		inquireErr: provider.ErrNotFound,
		voidResults: []*provider.Result{
			nil,
			{Status: provider.StatusApproved},
		},
		voidErrs: []error{provider.ErrTimeout, nil},
	}

	res := newTestProtocol().Recover(context.Background(), adapter, "order1", provider.Credentials{})

	assert.Equal(t, OutcomeVoided, res.Outcome)
	require.NotNil(t, res.VoidResult)
	assert.Equal(t, 2, adapter.voidCalls)
}

func TestRecoverGivesUpAfterBoundedVoidAttempts(t *testing.T) {
	adapter := &fakeAdapter{
		inquireErr:  provider.ErrNotFound,
		voidResults: []*provider.Result{nil},
		voidErrs:    []error{provider.ErrTimeout},
	}

	res := newTestProtocol().Recover(context.Background(), adapter, "order1", provider.Credentials{})

	assert.Equal(t, OutcomeUnknown, res.Outcome)
	assert.Equal(t, 3, adapter.voidCalls)
	assert.Contains(t, res.Explanation, "indeterminate")
}

func TestRecoverTreatsDeclinedVoidAsFailure(t *testing.T) {
	adapter := &fakeAdapter{
		inquireErr:  provider.ErrNotFound,
		voidResults: []*provider.Result{{Status: provider.StatusDeclined, ResponseCode: "12"}},
		voidErrs:    []error{nil},
	}

	res := newTestProtocol().Recover(context.Background(), adapter, "order1", provider.Credentials{})

	assert.Equal(t, OutcomeUnknown, res.Outcome)
	assert.Equal(t, 3, adapter.voidCalls)
}
