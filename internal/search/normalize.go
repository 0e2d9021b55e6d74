// Package search derives the visible article sequence from the merge store,
// enablement flags, the active selection and a debounced query.
package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds s for matching: lower case, canonical decomposition and
// combining marks removed, so "Mașină" and "masina" compare equal.
func Normalize(s string) string {
	// transform chains hold state, so each call builds its own.
	lower := strings.ToLower(s)
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), lower)
	if err != nil {
		return lower
	}
	return folded
}

// Matches reports whether any field contains query after normalization. An
// empty query matches everything.
func Matches(query string, fields ...string) bool {
	q := Normalize(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return matchesNormalized(q, fields...)
}

func matchesNormalized(normalizedQuery string, fields ...string) bool {
	for _, field := range fields {
		if strings.Contains(Normalize(field), normalizedQuery) {
			return true
		}
	}
	return false
}
