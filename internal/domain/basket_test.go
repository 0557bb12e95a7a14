package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(id string, qty int, price string, selected bool) BasketLine {
	return BasketLine{
		ProductVariantID: id,
		Quantity:         qty,
		UnitPrice:        decimal.RequireFromString(price),
		Selected:         selected,
	}
}

func TestBasket_TotalSelected(t *testing.T) {
	tests := []struct {
		name  string
		lines []BasketLine
		want  string
	}{
		{"empty", nil, "0"},
		{"nothing selected", []BasketLine{line("v1", 2, "10.00", false)}, "0"},
		{"all selected", []BasketLine{line("v1", 2, "10.00", true), line("v2", 1, "5.00", true)}, "25"},
		{"partial", []BasketLine{line("v1", 2, "10.00", true), line("v2", 1, "5.00", false)}, "20"},
		{"fractional", []BasketLine{line("v1", 3, "0.10", true)}, "0.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Basket{Lines: tt.lines}
			assert.True(t, decimal.RequireFromString(tt.want).Equal(b.TotalSelected()), "got %s", b.TotalSelected())
		})
	}
}

func TestBasket_SelectedLinesAndIDs(t *testing.T) {
	b := &Basket{Lines: []BasketLine{
		line("v1", 1, "1.00", true),
		line("v2", 1, "1.00", false),
		line("v3", 2, "1.00", true),
	}}

	assert.Equal(t, []string{"v1", "v3"}, b.SelectedIDs())
	require.Len(t, b.SelectedLines(), 2)
	assert.Equal(t, "v3", b.SelectedLines()[1].ProductVariantID)
	assert.Equal(t, 4, b.ItemCount())
}

func TestBasket_FindLine(t *testing.T) {
	b := &Basket{Lines: []BasketLine{line("v1", 1, "1", false), line("v2", 1, "1", false)}}

	assert.Equal(t, 1, b.FindLine("v2"))
	assert.Equal(t, -1, b.FindLine("missing"))
}

func TestBasket_CloneIsIndependent(t *testing.T) {
	b := &Basket{Lines: []BasketLine{line("v1", 1, "1", false)}}
	c := b.Clone()
	c.Lines[0].Quantity = 5

	assert.Equal(t, 1, b.Lines[0].Quantity)
}

func TestBasket_MarshalJSON_AddsDerivedTotal(t *testing.T) {
	b := NewBasket("client-1", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	b.Lines = []BasketLine{line("v1", 2, "10", true), line("v2", 1, "5", true)}

	data, err := json.Marshal(b)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "25.00", out["totalSelected"])
	assert.Equal(t, float64(3), out["itemCount"])
	assert.Equal(t, "local", out["mode"])

	// The derived fields are ignored when the snapshot is read back.
	var back Basket
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Len(t, back.Lines, 2)
	assert.True(t, back.TotalSelected().Equal(decimal.NewFromInt(25)))
}
