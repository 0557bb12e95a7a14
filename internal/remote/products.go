package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry as listed by the API.
type Product struct {
	ID         int             `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Image      string          `json:"image,omitempty"`
	Rating     decimal.Decimal `json:"rating"`
	CategoryID int             `json:"category_id,omitempty"`
}

// ProductPage is one page of the product listing.
type ProductPage struct {
	Count   int       `json:"count"`
	Results []Product `json:"results"`
}

// ListProducts lists products. query is forwarded as is.
func (c *Client) ListProducts(ctx context.Context, query url.Values) (*ProductPage, error) {
	var page ProductPage
	if err := c.do(ctx, call{method: http.MethodGet, path: "/products/", query: query}, &page); err != nil {
		return nil, err
	}
	if page.Results == nil {
		page.Results = []Product{}
	}
	return &page, nil
}
