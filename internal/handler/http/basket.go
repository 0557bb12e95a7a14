package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pavelchamgl/reli.one-sub000/internal/basket"
	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
	"github.com/pavelchamgl/reli.one-sub000/pkg/httputil"
)

// BasketService is the basket state container.
type BasketService interface {
	Get(ctx context.Context, clientID string) (*domain.Basket, error)
	AddLine(ctx context.Context, clientID string, in basket.AddLineInput) (*domain.Basket, error)
	RemoveLine(ctx context.Context, clientID, variantID string) (*domain.Basket, error)
	SetQuantity(ctx context.Context, clientID, variantID string, quantity int) (*domain.Basket, error)
	ToggleSelected(ctx context.Context, clientID, variantID string, selected bool) (*domain.Basket, error)
	SelectAll(ctx context.Context, clientID string, selected bool) (*domain.Basket, error)
	Clear(ctx context.Context, clientID string) error
}

// BasketHandler handles HTTP requests for basket endpoints.
type BasketHandler struct {
	basket BasketService
	logger *slog.Logger
}

// NewBasketHandler creates a new basket HTTP handler.
func NewBasketHandler(svc BasketService, logger *slog.Logger) *BasketHandler {
	return &BasketHandler{basket: svc, logger: logger}
}

// AddLineRequest is the JSON body for adding a line. A negative quantity
// decrements an existing line; adding a non-positive quantity of a variant
// not in the basket changes nothing.
type AddLineRequest struct {
	ProductVariantID string          `json:"productVariantId" validate:"required,max=64"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	ProductID        string          `json:"productId" validate:"max=64"`
	Name             string          `json:"name" validate:"max=500"`
	SKU              string          `json:"sku" validate:"max=100"`
	ImageURL         string          `json:"imageUrl" validate:"omitempty,url"`
}

// SetQuantityRequest is the JSON body for setting a line's quantity.
type SetQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// SelectRequest is the JSON body for selection endpoints.
type SelectRequest struct {
	Selected *bool `json:"selected" validate:"required"`
}

// GetBasket handles GET /api/v1/basket
func (h *BasketHandler) GetBasket(w http.ResponseWriter, r *http.Request) {
	b, err := h.basket.Get(r.Context(), clientID(r))
	h.respond(w, r, b, err)
}

// AddLine handles POST /api/v1/basket/lines
func (h *BasketHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	var req AddLineRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	b, err := h.basket.AddLine(r.Context(), clientID(r), basket.AddLineInput{
		ProductVariantID: req.ProductVariantID,
		Quantity:         req.Quantity,
		UnitPrice:        req.UnitPrice,
		ProductID:        req.ProductID,
		Name:             req.Name,
		SKU:              req.SKU,
		ImageURL:         req.ImageURL,
	})
	h.respond(w, r, b, err)
}

// SetQuantity handles PUT /api/v1/basket/lines/{variantId}
func (h *BasketHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req SetQuantityRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	b, err := h.basket.SetQuantity(r.Context(), clientID(r), chi.URLParam(r, "variantId"), req.Quantity)
	h.respond(w, r, b, err)
}

// RemoveLine handles DELETE /api/v1/basket/lines/{variantId}
func (h *BasketHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	b, err := h.basket.RemoveLine(r.Context(), clientID(r), chi.URLParam(r, "variantId"))
	h.respond(w, r, b, err)
}

// ToggleSelected handles PUT /api/v1/basket/lines/{variantId}/selected
func (h *BasketHandler) ToggleSelected(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	b, err := h.basket.ToggleSelected(r.Context(), clientID(r), chi.URLParam(r, "variantId"), *req.Selected)
	h.respond(w, r, b, err)
}

// SelectAll handles PUT /api/v1/basket/selected
func (h *BasketHandler) SelectAll(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	b, err := h.basket.SelectAll(r.Context(), clientID(r), *req.Selected)
	h.respond(w, r, b, err)
}

// ClearBasket handles DELETE /api/v1/basket
func (h *BasketHandler) ClearBasket(w http.ResponseWriter, r *http.Request) {
	if err := h.basket.Clear(r.Context(), clientID(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BasketHandler) respond(w http.ResponseWriter, r *http.Request, b *domain.Basket, err error) {
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, b)
}
