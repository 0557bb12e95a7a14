package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stage is a step of the payment wizard.
type Stage string

// SubmissionClaimTTL is how long a submission claim blocks other writers.
// An older claim was left by a crashed request and may be taken over.
const SubmissionClaimTTL = 2 * time.Minute

const (
	StageContent   Stage = "content"
	StageDelivery  Stage = "delivery"
	StagePayment   Stage = "payment"
	StageSubmitted Stage = "submitted"
)

// Next returns the stage after s. Submitted has no successor.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageContent:
		return StageDelivery, true
	case StageDelivery:
		return StagePayment, true
	case StagePayment:
		return StageSubmitted, true
	}
	return s, false
}

// Previous returns the stage before s. Content and submitted have none.
func (s Stage) Previous() (Stage, bool) {
	switch s {
	case StageDelivery:
		return StageContent, true
	case StagePayment:
		return StageDelivery, true
	}
	return s, false
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageContent, StageDelivery, StagePayment, StageSubmitted:
		return true
	}
	return false
}

// Payment method types accepted by the shop.
const (
	PaymentCard         = "card"
	PaymentPayPal       = "paypal"
	PaymentBankTransfer = "bank_transfer"
)

// Address is a home delivery address.
type Address struct {
	FullName    string `json:"fullName" validate:"required,max=200"`
	AddressLine string `json:"addressLine" validate:"required,max=300"`
	City        string `json:"city" validate:"required,max=100"`
	PostalCode  string `json:"postalCode" validate:"required,max=20"`
	Country     string `json:"country" validate:"required,len=2"`
	Phone       string `json:"phone" validate:"required,phone"`
}

// PickupPoint is a carrier pickup location chosen in the map widget.
type PickupPoint struct {
	Carrier   string `json:"carrier" validate:"required"`
	PointID   string `json:"pointId" validate:"required"`
	PointName string `json:"pointName" validate:"required"`
}

// DeliveryDetails holds either an address or a pickup point plus a contact
// e-mail.
type DeliveryDetails struct {
	Email       string       `json:"email" validate:"required,email"`
	Address     *Address     `json:"address,omitempty" validate:"required_without=PickupPoint"`
	PickupPoint *PickupPoint `json:"pickupPoint,omitempty" validate:"required_without=Address"`
}

// PaymentMethod is the method picked on the last stage.
type PaymentMethod struct {
	Type string `json:"type" validate:"required,oneof=card paypal bank_transfer"`
}

// PaymentSession is one run through the payment wizard.
type PaymentSession struct {
	ID              string           `json:"id"`
	ClientID        string           `json:"clientId"`
	Stage           Stage            `json:"stage"`
	Lines           []BasketLine     `json:"lines"`
	TotalAmount     decimal.Decimal  `json:"totalAmount"`
	Currency        string           `json:"currency"`
	DeliveryDetails *DeliveryDetails `json:"deliveryDetails,omitempty"`
	PaymentMethod   *PaymentMethod   `json:"paymentMethod,omitempty"`
	OrderID         string           `json:"orderId,omitempty"`
	PaymentURL      string           `json:"paymentUrl,omitempty"`
	FailureReason   string           `json:"failureReason,omitempty"`
	IdempotencyKey  string           `json:"-"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	SubmittedAt     *time.Time       `json:"submittedAt,omitempty"`
}

// SetLines replaces the line snapshot and recomputes the total.
func (s *PaymentSession) SetLines(lines []BasketLine) {
	s.Lines = lines
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	s.TotalAmount = total
}

// VariantIDs returns the variant ids in the snapshot.
func (s *PaymentSession) VariantIDs() []string {
	ids := make([]string, len(s.Lines))
	for i, l := range s.Lines {
		ids[i] = l.ProductVariantID
	}
	return ids
}

// IsTerminal reports whether the session can no longer change.
func (s *PaymentSession) IsTerminal() bool {
	return s.Stage == StageSubmitted
}
