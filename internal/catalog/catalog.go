// Package catalog proxies the product listing of the remote API with the
// filters the storefront uses.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pavelchamgl/reli.one-sub000/internal/remote"
	apperrors "github.com/pavelchamgl/reli.one-sub000/pkg/errors"
	"github.com/pavelchamgl/reli.one-sub000/pkg/pagination"
	"github.com/pavelchamgl/reli.one-sub000/pkg/slug"
	"github.com/pavelchamgl/reli.one-sub000/pkg/tracing"
)

// Orderings lists the accepted ordering values.
var Orderings = []string{"price", "-price", "rating", "-rating", "name", "-name"}

// ProductLister is the part of the remote client the catalog uses.
type ProductLister interface {
	ListProducts(ctx context.Context, query url.Values) (*remote.ProductPage, error)
}

// Filters are the normalized listing filters.
type Filters struct {
	CategoryValue string
	CategoryID    int
	Ordering      string
	MinPrice      *decimal.Decimal
	MaxPrice      *decimal.Decimal
	Page          pagination.Params
}

// ParseFilters reads and normalizes the listing filters from q.
// categoryValue is slugified, pagination falls back to defaults, and price
// bounds must be non-negative decimals with min not above max.
func ParseFilters(q url.Values) (Filters, error) {
	f := Filters{Page: pagination.FromQuery(q)}
	fields := map[string]string{}

	if v := strings.TrimSpace(q.Get("categoryValue")); v != "" {
		f.CategoryValue = slug.Generate(v)
	}
	if v := q.Get("categoryID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id < 1 {
			fields["categoryID"] = "must be a positive integer"
		}
		f.CategoryID = id
	}
	if v := q.Get("ordering"); v != "" {
		if !slices.Contains(Orderings, v) {
			fields["ordering"] = "must be one of " + strings.Join(Orderings, ", ")
		}
		f.Ordering = v
	}

	var err error
	if f.MinPrice, err = parsePrice(q.Get("min_price")); err != nil {
		fields["min_price"] = err.Error()
	}
	if f.MaxPrice, err = parsePrice(q.Get("max_price")); err != nil {
		fields["max_price"] = err.Error()
	}

	if len(fields) > 0 {
		return Filters{}, apperrors.Validation("invalid catalog filters", fields)
	}
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		return Filters{}, apperrors.InvalidInput("min_price must not exceed max_price")
	}
	return f, nil
}

func parsePrice(v string) (*decimal.Decimal, error) {
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, errors.New("must be a decimal number")
	}
	if d.IsNegative() {
		return nil, errors.New("must not be negative")
	}
	return &d, nil
}

// Query encodes the filters for the remote API.
func (f Filters) Query() url.Values {
	q := url.Values{}
	if f.CategoryValue != "" {
		q.Set("categoryValue", f.CategoryValue)
	}
	if f.CategoryID > 0 {
		q.Set("categoryID", strconv.Itoa(f.CategoryID))
	}
	if f.Ordering != "" {
		q.Set("ordering", f.Ordering)
	}
	if f.MinPrice != nil {
		q.Set("min_price", f.MinPrice.String())
	}
	if f.MaxPrice != nil {
		q.Set("max_price", f.MaxPrice.String())
	}
	f.Page.Encode(q)
	return q
}

// Catalog lists products.
type Catalog struct {
	api    ProductLister
	logger *slog.Logger
}

// New creates a catalog.
func New(api ProductLister, logger *slog.Logger) *Catalog {
	return &Catalog{api: api, logger: logger}
}

// ListProducts returns one page of products matching f.
func (c *Catalog) ListProducts(ctx context.Context, f Filters) (pagination.Result[remote.Product], error) {
	ctx, span := tracing.StartSpan(ctx, "catalog", "ListProducts")
	defer span.End()

	page, err := c.api.ListProducts(ctx, f.Query())
	if err != nil {
		c.logger.WarnContext(ctx, "product listing failed", slog.String("error", err.Error()))
		return pagination.Result[remote.Product]{}, err
	}
	return pagination.NewResult(page.Results, page.Count, f.Page), nil
}
