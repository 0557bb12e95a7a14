package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
	"github.com/pavelchamgl/reli.one-sub000/internal/payment"
	"github.com/pavelchamgl/reli.one-sub000/internal/selection"
	"github.com/pavelchamgl/reli.one-sub000/pkg/httputil"
)

// Navigator reacts to SPA route changes.
type Navigator interface {
	OnRouteChange(ctx context.Context, clientID, path string) (*selection.Result, error)
}

// PaymentService drives the payment wizard.
type PaymentService interface {
	Start(ctx context.Context, clientID string) (*domain.PaymentSession, error)
	Get(ctx context.Context, clientID, sessionID string) (*domain.PaymentSession, error)
	Advance(ctx context.Context, clientID, sessionID string, in payment.AdvanceInput) (*domain.PaymentSession, error)
	Back(ctx context.Context, clientID, sessionID string) (*domain.PaymentSession, error)
}

// CheckoutHandler handles navigation and payment wizard endpoints.
type CheckoutHandler struct {
	nav     Navigator
	payment PaymentService
	logger  *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(nav Navigator, svc PaymentService, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{nav: nav, payment: svc, logger: logger}
}

// NavigationRequest is the JSON body of a route change.
type NavigationRequest struct {
	Path string `json:"path" validate:"required,max=2048"`
}

// Navigate handles POST /api/v1/navigation
func (h *CheckoutHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	var req NavigationRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.nav.OnRouteChange(r.Context(), clientID(r), req.Path)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, res)
}

// StartPayment handles POST /api/v1/payment/sessions
func (h *CheckoutHandler) StartPayment(w http.ResponseWriter, r *http.Request) {
	s, err := h.payment.Start(r.Context(), clientID(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, s)
}

// GetPayment handles GET /api/v1/payment/sessions/{id}
func (h *CheckoutHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	s, err := h.payment.Get(r.Context(), clientID(r), id.String())
	h.respond(w, r, s, err)
}

// Advance handles POST /api/v1/payment/sessions/{id}/advance. The stage
// payload is validated by the flow once it knows which stage is left.
func (h *CheckoutHandler) Advance(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var in payment.AdvanceInput
	if err := decodeJSON(w, r, &in, true); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	s, err := h.payment.Advance(r.Context(), clientID(r), id.String(), in)
	h.respond(w, r, s, err)
}

// Back handles POST /api/v1/payment/sessions/{id}/back
func (h *CheckoutHandler) Back(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	s, err := h.payment.Back(r.Context(), clientID(r), id.String())
	h.respond(w, r, s, err)
}

func (h *CheckoutHandler) respond(w http.ResponseWriter, r *http.Request, s *domain.PaymentSession, err error) {
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, s)
}
