package remote

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
)

// OrderLine is a line of a submitted order.
type OrderLine struct {
	ProductVariantID string          `json:"product_variant_id"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
}

// OrderRequest is the body of POST /orders/.
type OrderRequest struct {
	Lines         []OrderLine             `json:"lines"`
	TotalAmount   decimal.Decimal         `json:"total_amount"`
	Currency      string                  `json:"currency"`
	Delivery      *domain.DeliveryDetails `json:"delivery"`
	PaymentMethod string                  `json:"payment_method"`
	Reference     string                  `json:"reference"`
}

// OrderResult is what the API returns for a created order. PaymentURL is
// where the shopper completes card or PayPal payments.
type OrderResult struct {
	OrderID    string `json:"order_id"`
	PaymentURL string `json:"payment_url,omitempty"`
}

// NewOrderRequest builds the order body from a payment session.
func NewOrderRequest(s *domain.PaymentSession) OrderRequest {
	req := OrderRequest{
		Lines:       make([]OrderLine, len(s.Lines)),
		TotalAmount: s.TotalAmount,
		Currency:    s.Currency,
		Delivery:    s.DeliveryDetails,
		Reference:   s.ID,
	}
	for i, l := range s.Lines {
		req.Lines[i] = OrderLine{
			ProductVariantID: l.ProductVariantID,
			Quantity:         l.Quantity,
			UnitPrice:        l.UnitPrice,
		}
	}
	if s.PaymentMethod != nil {
		req.PaymentMethod = s.PaymentMethod.Type
	}
	return req
}

// CreateOrder submits an order and starts its payment. access may be empty
// for guest checkout.
func (c *Client) CreateOrder(ctx context.Context, access, idemKey string, req OrderRequest) (*OrderResult, error) {
	var res OrderResult
	err := c.do(ctx, call{
		method:  http.MethodPost,
		path:    "/orders/",
		token:   access,
		idemKey: idemKey,
		body:    req,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
