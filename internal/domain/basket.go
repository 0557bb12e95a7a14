package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// BasketMode says where a basket is authoritative.
type BasketMode string

const (
	// ModeLocal is an anonymous basket kept only in the client store.
	ModeLocal BasketMode = "local"
	// ModeServer is a basket whose mutations are mirrored to the remote API.
	ModeServer BasketMode = "server"
)

// DefaultCurrency is used for new baskets.
const DefaultCurrency = "CZK"

// BasketLine is one product variant in a basket.
type BasketLine struct {
	ProductVariantID string          `json:"productVariantId"`
	ProductID        string          `json:"productId,omitempty"`
	Name             string          `json:"name,omitempty"`
	SKU              string          `json:"sku,omitempty"`
	ImageURL         string          `json:"imageUrl,omitempty"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	Selected         bool            `json:"selected"`
}

// Subtotal returns unit price times quantity.
func (l BasketLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Basket is the per-client basket snapshot.
type Basket struct {
	ClientID  string       `json:"clientId"`
	Lines     []BasketLine `json:"lines"`
	Currency  string       `json:"currency"`
	Version   int          `json:"version"`
	Mode      BasketMode   `json:"mode"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// NewBasket returns an empty local basket.
func NewBasket(clientID string, now time.Time) *Basket {
	return &Basket{
		ClientID:  clientID,
		Lines:     []BasketLine{},
		Currency:  DefaultCurrency,
		Mode:      ModeLocal,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TotalSelected sums the subtotals of selected lines. The result is exact;
// round only for display.
func (b *Basket) TotalSelected() decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.Lines {
		if l.Selected {
			total = total.Add(l.Subtotal())
		}
	}
	return total
}

// SelectedLines returns copies of the selected lines in basket order.
func (b *Basket) SelectedLines() []BasketLine {
	out := make([]BasketLine, 0, len(b.Lines))
	for _, l := range b.Lines {
		if l.Selected && l.Quantity >= 1 {
			out = append(out, l)
		}
	}
	return out
}

// SelectedIDs returns the variant ids of the selected lines.
func (b *Basket) SelectedIDs() []string {
	ids := make([]string, 0, len(b.Lines))
	for _, l := range b.Lines {
		if l.Selected {
			ids = append(ids, l.ProductVariantID)
		}
	}
	return ids
}

// FindLine returns the index of the line for variantID, or -1.
func (b *Basket) FindLine(variantID string) int {
	for i := range b.Lines {
		if b.Lines[i].ProductVariantID == variantID {
			return i
		}
	}
	return -1
}

// ItemCount returns the total quantity across all lines.
func (b *Basket) ItemCount() int {
	n := 0
	for _, l := range b.Lines {
		n += l.Quantity
	}
	return n
}

// Clone returns a deep copy, so subscribers can hold on to a snapshot.
func (b *Basket) Clone() *Basket {
	c := *b
	c.Lines = append([]BasketLine(nil), b.Lines...)
	return &c
}

// MarshalJSON adds the derived totalSelected, rounded to two places.
func (b Basket) MarshalJSON() ([]byte, error) {
	type plain Basket
	return json.Marshal(struct {
		plain
		TotalSelected string `json:"totalSelected"`
		ItemCount     int    `json:"itemCount"`
	}{
		plain:         plain(b),
		TotalSelected: b.TotalSelected().StringFixed(2),
		ItemCount:     b.ItemCount(),
	})
}
