package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pavelchamgl/reli.one-sub000/internal/catalog"
	"github.com/pavelchamgl/reli.one-sub000/internal/remote"
	"github.com/pavelchamgl/reli.one-sub000/pkg/httputil"
	"github.com/pavelchamgl/reli.one-sub000/pkg/pagination"
)

// CatalogService lists products.
type CatalogService interface {
	ListProducts(ctx context.Context, f catalog.Filters) (pagination.Result[remote.Product], error)
}

// CatalogHandler handles catalog endpoints.
type CatalogHandler struct {
	catalog CatalogService
	logger  *slog.Logger
}

// NewCatalogHandler creates a new catalog HTTP handler.
func NewCatalogHandler(svc CatalogService, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: svc, logger: logger}
}

// ListProducts handles GET /api/v1/catalog/products
func (h *CatalogHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	f, err := catalog.ParseFilters(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	page, err := h.catalog.ListProducts(r.Context(), f)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}
