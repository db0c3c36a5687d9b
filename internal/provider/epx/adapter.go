// Package epx implements the provider adapter for the EPX server post API.
package epx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"gateway-service/internal/provider"
	pkgerrors "github.com/pkg/errors"
)

const defaultTimeoutMs = 10_000

type Adapter struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, timeoutMs int) *Adapter {
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}
	return &Adapter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

func (a *Adapter) Code() string {
	return "epx"
}

// request is the server post wire shape.
type request struct {
	TransactionType string `json:"tranType"`
	OrderID         string `json:"tranNbr,omitempty"`
	AmountCents     int64  `json:"amount,omitempty"`
	Currency        string `json:"currency,omitempty"`
	AuthGUID        string `json:"authGuid,omitempty"`
	ProviderRef     string `json:"origTranRef,omitempty"`
	MerchantNumber  string `json:"merchNbr"`
	TerminalNumber  string `json:"terminalNbr"`
	MAC             string `json:"mac"`
}

type wireResponse struct {
	TranRef      string `json:"tranRef"`
	AuthResp     string `json:"authResp"`
	AuthCode     string `json:"authCode"`
	AuthRespText string `json:"authRespText"`
	AuthAVS      string `json:"authAvs"`
	AuthCVV2     string `json:"authCvv2"`
}

func (a *Adapter) Authorize(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	return a.post(ctx, "CCE1", req)
}

func (a *Adapter) Sale(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	return a.post(ctx, "CCE2", req)
}

func (a *Adapter) Capture(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	return a.post(ctx, "CCE9", req)
}

func (a *Adapter) Void(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	return a.post(ctx, "CCEX", req)
}

func (a *Adapter) Refund(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	return a.post(ctx, "CCE4", req)
}

func (a *Adapter) InquireByOrderID(ctx context.Context, orderID string, creds provider.Credentials) (*provider.Result, error) {
	res, err := a.post(ctx, "CCQ1", provider.PaymentRequest{OrderID: orderID, Credentials: creds})
	if err != nil {
		return nil, err
	}
	if res.ResponseCode == "NF" {
		return nil, provider.ErrNotFound
	}
	return res, nil
}

func (a *Adapter) VoidByOrderID(ctx context.Context, orderID string, creds provider.Credentials) (*provider.Result, error) {
	return a.post(ctx, "CCEX", provider.PaymentRequest{OrderID: orderID, Credentials: creds})
}

type fundingLine struct {
	TranRef     string `json:"tranRef"`
	Status      string `json:"status"`
	ReturnCode  string `json:"returnCode"`
	AmountCents int64  `json:"amount"`
	FundingDate string `json:"fundingDate"`
}

func (a *Adapter) GetFundingStatus(ctx context.Context, date time.Time, merchantID string, creds provider.Credentials) ([]provider.FundingTransaction, error) {
	body, err := json.Marshal(map[string]string{
		"merchNbr":    merchantID,
		"fundingDate": date.Format("2006-01-02"),
		"mac":         creds.MACSecret,
	})
	if err != nil {
		return nil, err
	}

	raw, err := a.send(ctx, a.baseURL+"/funding", body)
	if err != nil {
		return nil, err
	}

	var lines []fundingLine
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, pkgerrors.Wrap(err, "unmarshalling funding report")
	}

	out := make([]provider.FundingTransaction, 0, len(lines))
	for _, l := range lines {
		fundingDate, _ := time.Parse("2006-01-02", l.FundingDate)
		out = append(out, provider.FundingTransaction{
			ProviderRef: l.TranRef,
			Status:      provider.FundingStatus(l.Status),
			ReturnCode:  l.ReturnCode,
			AmountCents: l.AmountCents,
			FundingDate: fundingDate,
		})
	}
	return out, nil
}

func (a *Adapter) post(ctx context.Context, tranType string, req provider.PaymentRequest) (*provider.Result, error) {
	body, err := json.Marshal(request{
		TransactionType: tranType,
		OrderID:         req.OrderID,
		AmountCents:     req.AmountCents,
		Currency:        req.Currency,
		AuthGUID:        req.Token,
		ProviderRef:     req.ProviderRef,
		MerchantNumber:  req.Credentials.MerchantNumber,
		TerminalNumber:  req.Credentials.TerminalNumber,
		MAC:             req.Credentials.MACSecret,
	})
	if err != nil {
		return nil, err
	}

	raw, err := a.send(ctx, a.baseURL+"/serverpost", body)
	if err != nil {
		return nil, err
	}

	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, pkgerrors.Wrap(err, "unmarshalling server post response")
	}

	return &provider.Result{
		ProviderRef:  wire.TranRef,
		Status:       statusOf(wire.AuthResp),
		ResponseCode: wire.AuthResp,
		ResponseText: wire.AuthRespText,
		AuthCode:     wire.AuthCode,
		AVSResponse:  wire.AuthAVS,
		CVVResponse:  wire.AuthCVV2,
		RawPayload:   string(raw),
	}, nil
}

func (a *Adapter) send(ctx context.Context, url string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, provider.ErrTimeout
		}
		return nil, pkgerrors.Wrap(err, "sending provider request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, provider.ErrTimeout
		}
		return nil, pkgerrors.Wrap(err, "reading provider response")
	}

	if resp.StatusCode >= 500 {
		return nil, pkgerrors.Errorf("provider error response: %s", resp.Status)
	}

	return raw, nil
}

func statusOf(authResp string) provider.ResultStatus {
	switch authResp {
	case "00", "000", "APPROVAL":
		return provider.StatusApproved
	case "ER", "96", "91":
		return provider.StatusError
	default:
		return provider.StatusDeclined
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
