// Package server exposes the engine's commands over a minimal JSON surface.
// The platform's real routing layer lives elsewhere; this is the narrow
// contract it calls through.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"gateway-service/internal/db"
	"gateway-service/internal/engine"
	"gateway-service/internal/payment"
	"gateway-service/internal/provider"
	"github.com/google/uuid"
)

type Server struct {
	engine *engine.Engine
	logger *slog.Logger
}

func New(paymentEngine *engine.Engine, logger *slog.Logger) *Server {
	return &Server{engine: paymentEngine, logger: logger}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /payments/sale", s.handleSale)
	mux.HandleFunc("POST /payments/authorize", s.handleAuthorize)
	mux.HandleFunc("POST /payments/{id}/capture", s.handleCapture)
	mux.HandleFunc("POST /payments/{id}/void", s.handleVoid)
	mux.HandleFunc("POST /payments/{id}/refund", s.handleRefund)
}

type saleRequest struct {
	TenantID       uuid.UUID          `json:"tenantId"`
	LocationID     uuid.UUID          `json:"locationId"`
	AmountCents    int64              `json:"amountCents"`
	TipCents       int64              `json:"tipCents"`
	Currency       string             `json:"currency"`
	Method         payment.MethodType `json:"method"`
	Token          string             `json:"token"`
	Card           *payment.CardMeta  `json:"card,omitempty"`
	ACH            *payment.ACHMeta   `json:"ach,omitempty"`
	IdempotencyKey string             `json:"idempotencyKey"`
}

type followupRequest struct {
	TenantID       uuid.UUID `json:"tenantId"`
	AmountCents    int64     `json:"amountCents,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
}

type intentResponse struct {
	ID            uuid.UUID      `json:"id"`
	Status        payment.Status `json:"status"`
	AmountCents   int64          `json:"amountCents"`
	TipCents      int64          `json:"tipCents"`
	CapturedCents *int64         `json:"capturedCents"`
	RefundedCents *int64         `json:"refundedCents"`
	ProviderRef   *string        `json:"providerRef"`
	UserMessage   string         `json:"userMessage,omitempty"`
	Retryable     bool           `json:"retryable"`
	ErrorMessage  *string        `json:"errorMessage,omitempty"`
}

func (s *Server) handleSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.engine.Sale(r.Context(), engine.SaleRequest{
		TenantID:       req.TenantID,
		LocationID:     req.LocationID,
		AmountCents:    req.AmountCents,
		TipCents:       req.TipCents,
		Currency:       req.Currency,
		Method:         req.Method,
		Token:          req.Token,
		Card:           req.Card,
		ACH:            req.ACH,
		IdempotencyKey: req.IdempotencyKey,
	})
	s.respond(w, result, err)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.engine.Authorize(r.Context(), engine.AuthorizeRequest{
		TenantID:       req.TenantID,
		LocationID:     req.LocationID,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		Token:          req.Token,
		Card:           req.Card,
		IdempotencyKey: req.IdempotencyKey,
	})
	s.respond(w, result, err)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	s.followup(w, r, s.engine.Capture)
}

func (s *Server) handleVoid(w http.ResponseWriter, r *http.Request) {
	s.followup(w, r, s.engine.Void)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	s.followup(w, r, s.engine.Refund)
}

func (s *Server) followup(w http.ResponseWriter, r *http.Request,
	command func(ctx context.Context, req engine.FollowupRequest) (*engine.Result, error)) {

	intentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid intent id", http.StatusBadRequest)
		return
	}

	var req followupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := command(r.Context(), engine.FollowupRequest{
		TenantID:       req.TenantID,
		IntentID:       intentID,
		IdempotencyKey: req.IdempotencyKey,
		AmountCents:    req.AmountCents,
	})
	s.respond(w, result, err)
}

func (s *Server) respond(w http.ResponseWriter, result *engine.Result, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := intentResponse{
		ID:            result.Intent.ID,
		Status:        result.Intent.Status,
		AmountCents:   result.Intent.AmountCents,
		TipCents:      result.Intent.TipCents,
		CapturedCents: result.Intent.CapturedCents,
		RefundedCents: result.Intent.RefundedCents,
		ProviderRef:   result.Intent.ProviderRef,
		ErrorMessage:  result.Intent.ErrorMessage,
	}
	if result.Interpretation != nil {
		resp.UserMessage = result.Interpretation.UserMessage
		resp.Retryable = result.Interpretation.Retryable
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrIntentNotFound), errors.Is(err, db.ErrNotFound),
		// a tenant mismatch reads as not-found so the intent's existence
		// is not leaked across tenants
		errors.Is(err, engine.ErrTenantMismatch):
		status = http.StatusNotFound
	case errors.Is(err, provider.ErrProviderNotConfigured),
		errors.Is(err, payment.ErrRefundExceeded),
		errors.Is(err, payment.ErrAmountExceeded):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, payment.ErrNotCapturable),
		errors.Is(err, payment.ErrNotVoidable),
		errors.Is(err, payment.ErrNotRefundable):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}
