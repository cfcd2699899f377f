package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeName folds an employee name for search: no diacritics, lowercase,
// dashes and repeated whitespace collapsed to single spaces.
func NormalizeName(name string) string {
	name = strings.ToLower(RemoveDiacritics(name))
	name = strings.ReplaceAll(name, "-", " ")
	return strings.Join(strings.Fields(name), " ")
}

// NameMatches reports whether every word of query occurs in name after normalization.
func NameMatches(name, query string) bool {
	n := NormalizeName(name)
	for _, w := range strings.Fields(NormalizeName(query)) {
		if !strings.Contains(n, w) {
			return false
		}
	}
	return true
}
