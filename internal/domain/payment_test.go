package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/pavelchamgl/reli.one-sub000/pkg/validator"
)

func TestStage_Transitions(t *testing.T) {
	next, ok := StageContent.Next()
	assert.True(t, ok)
	assert.Equal(t, StageDelivery, next)

	next, ok = StagePayment.Next()
	assert.True(t, ok)
	assert.Equal(t, StageSubmitted, next)

	_, ok = StageSubmitted.Next()
	assert.False(t, ok)

	prev, ok := StagePayment.Previous()
	assert.True(t, ok)
	assert.Equal(t, StageDelivery, prev)

	_, ok = StageContent.Previous()
	assert.False(t, ok)
	_, ok = StageSubmitted.Previous()
	assert.False(t, ok)

	assert.True(t, StageDelivery.Valid())
	assert.False(t, Stage("shipping").Valid())
}

func TestPaymentSession_SetLines(t *testing.T) {
	s := &PaymentSession{}
	s.SetLines([]BasketLine{line("v1", 2, "10.00", true), line("v2", 1, "5.50", true)})

	assert.True(t, decimal.RequireFromString("25.50").Equal(s.TotalAmount))
	assert.Equal(t, []string{"v1", "v2"}, s.VariantIDs())
}

func validAddress() *Address {
	return &Address{
		FullName:    "Jana Nováková",
		AddressLine: "Vodičkova 12",
		City:        "Praha",
		PostalCode:  "110 00",
		Country:     "CZ",
		Phone:       "+420 777 123 456",
	}
}

func TestDeliveryDetails_Validation(t *testing.T) {
	tests := []struct {
		name      string
		details   DeliveryDetails
		wantField string
	}{
		{
			name:    "address",
			details: DeliveryDetails{Email: "jana@example.cz", Address: validAddress()},
		},
		{
			name: "pickup point",
			details: DeliveryDetails{Email: "jana@example.cz", PickupPoint: &PickupPoint{
				Carrier: "zasilkovna", PointID: "1234", PointName: "Praha 1, Vodičkova",
			}},
		},
		{
			name:      "neither",
			details:   DeliveryDetails{Email: "jana@example.cz"},
			wantField: "address",
		},
		{
			name:      "bad email",
			details:   DeliveryDetails{Email: "not-an-email", Address: validAddress()},
			wantField: "email",
		},
		{
			name: "incomplete address",
			details: DeliveryDetails{Email: "jana@example.cz", Address: &Address{
				FullName: "Jana", AddressLine: "Vodičkova 12", PostalCode: "11000", Country: "CZ", Phone: "+420777123456",
			}},
			wantField: "address.city",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.details)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *validator.ValidationError
			if assert.ErrorAs(t, err, &verr) {
				assert.Contains(t, verr.Fields(), tt.wantField)
			}
		})
	}
}

func TestPaymentMethod_Validation(t *testing.T) {
	assert.NoError(t, validator.Validate(PaymentMethod{Type: PaymentCard}))
	assert.NoError(t, validator.Validate(PaymentMethod{Type: PaymentBankTransfer}))
	assert.Error(t, validator.Validate(PaymentMethod{Type: "bitcoin"}))
	assert.Error(t, validator.Validate(PaymentMethod{}))
}
