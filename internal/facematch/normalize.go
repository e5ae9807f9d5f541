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

// NormalizeName normalizes a display name for comparison (lowercase, no diacritics,
// spaces for dashes and underscores, collapsed whitespace).
func NormalizeName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}

// NameMatches reports whether the display name contains the query, ignoring
// case and diacritics. An empty query matches everything.
func NameMatches(displayName, query string) bool {
	q := NormalizeName(query)
	if q == "" {
		return true
	}
	return strings.Contains(NormalizeName(displayName), q)
}

// DisplayNameFromFile turns an import file stem such as "s-104_Jana-Novakova"
// into an identity id and a display name. The id is everything before the first
// underscore; without an underscore the display name falls back to the id.
func DisplayNameFromFile(stem string) (id, displayName string) {
	id, rest, found := strings.Cut(stem, "_")
	if !found || strings.TrimSpace(rest) == "" {
		return id, id
	}
	return id, strings.Join(strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(rest)), " ")
}
