package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
)

// BasketItem is a line of the server basket.
type BasketItem struct {
	ProductVariantID string          `json:"product_variant_id"`
	Quantity         int             `json:"quantity"`
	Selected         bool            `json:"selected"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	ProductID        string          `json:"product_id,omitempty"`
	Name             string          `json:"name,omitempty"`
	SKU              string          `json:"sku,omitempty"`
	ImageURL         string          `json:"image_url,omitempty"`
}

// ItemFromLine converts a basket line to its wire form.
func ItemFromLine(l domain.BasketLine) BasketItem {
	return BasketItem{
		ProductVariantID: l.ProductVariantID,
		Quantity:         l.Quantity,
		Selected:         l.Selected,
		UnitPrice:        l.UnitPrice,
		ProductID:        l.ProductID,
		Name:             l.Name,
		SKU:              l.SKU,
		ImageURL:         l.ImageURL,
	}
}

// Line converts the item back to a basket line.
func (i BasketItem) Line() domain.BasketLine {
	return domain.BasketLine{
		ProductVariantID: i.ProductVariantID,
		ProductID:        i.ProductID,
		Name:             i.Name,
		SKU:              i.SKU,
		ImageURL:         i.ImageURL,
		Quantity:         i.Quantity,
		UnitPrice:        i.UnitPrice,
		Selected:         i.Selected,
	}
}

type basketResponse struct {
	Items []BasketItem `json:"items"`
}

// GetBasket returns the server basket lines. Lines with a quantity below one
// are dropped.
func (c *Client) GetBasket(ctx context.Context, access string) ([]domain.BasketLine, error) {
	var resp basketResponse
	if err := c.do(ctx, call{method: http.MethodGet, path: "/basket/", token: access}, &resp); err != nil {
		return nil, err
	}

	lines := make([]domain.BasketLine, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Quantity < 1 || item.ProductVariantID == "" {
			continue
		}
		lines = append(lines, item.Line())
	}
	return lines, nil
}

// UpsertBasketItem sets the server line to item. Repeating the call with the
// same key has no further effect.
func (c *Client) UpsertBasketItem(ctx context.Context, access, idemKey string, item BasketItem) error {
	return c.do(ctx, call{
		method:  http.MethodPost,
		path:    "/basket/items/",
		token:   access,
		idemKey: idemKey,
		body:    item,
	}, nil)
}

// UpdateBasketItem changes quantity and selection of an existing line.
func (c *Client) UpdateBasketItem(ctx context.Context, access, idemKey, variantID string, quantity int, selected bool) error {
	return c.do(ctx, call{
		method:  http.MethodPatch,
		path:    "/basket/items/" + url.PathEscape(variantID) + "/",
		token:   access,
		idemKey: idemKey,
		body: map[string]any{
			"quantity": quantity,
			"selected": selected,
		},
	}, nil)
}

// RemoveBasketItem deletes a server line.
func (c *Client) RemoveBasketItem(ctx context.Context, access, idemKey, variantID string) error {
	return c.do(ctx, call{
		method:  http.MethodDelete,
		path:    "/basket/items/" + url.PathEscape(variantID) + "/",
		token:   access,
		idemKey: idemKey,
	}, nil)
}

// ClearBasket empties the server basket.
func (c *Client) ClearBasket(ctx context.Context, access, idemKey string) error {
	return c.do(ctx, call{
		method:  http.MethodDelete,
		path:    "/basket/",
		token:   access,
		idemKey: idemKey,
	}, nil)
}
