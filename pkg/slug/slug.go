package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Letters that do not decompose into a base letter plus combining marks.
var special = strings.NewReplacer(
	"ł", "l", "ø", "o", "đ", "d", "ß", "ss", "æ", "ae", "œ", "oe", "ı", "i",
)

// Generate turns a category or product name into the lower-case,
// hyphen-separated form the catalog API expects for categoryValue.
// Diacritics are stripped after NFD decomposition:
//
//   - "Dámské oblečení" → "damske-obleceni"
//   - "Příslušenství & Doplňky" → "prislusenstvi-doplnky"
//   - "  Hello   World! " → "hello-world"
func Generate(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = special.Replace(s)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}

	s = nonAlnum.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// IsSlug reports whether s is already in Generate's output form.
func IsSlug(s string) bool {
	return s != "" && Generate(s) == s
}
