package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"ascii", "Electronics", "electronics"},
		{"spaces", "Home and Garden", "home-and-garden"},
		{"czech diacritics", "Dámské oblečení", "damske-obleceni"},
		{"czech ring and caron", "Příslušenství & Doplňky", "prislusenstvi-doplnky"},
		{"slovak", "Ľahké topánky", "lahke-topanky"},
		{"polish stroke", "Łódź", "lodz"},
		{"german sharp s", "Straße", "strasse"},
		{"punctuation", "T-Shirts (Men's)", "t-shirts-men-s"},
		{"collapses runs", "a -- b __ c", "a-b-c"},
		{"trims", "  !!Sale!!  ", "sale"},
		{"digits", "iPhone 15 Pro", "iphone-15-pro"},
		{"empty", "", ""},
		{"only symbols", "***", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Generate(tt.input))
		})
	}
}

func TestIsSlug(t *testing.T) {
	assert.True(t, IsSlug("damske-obleceni"))
	assert.False(t, IsSlug("Dámské oblečení"))
	assert.False(t, IsSlug("-leading"))
	assert.False(t, IsSlug(""))
}
