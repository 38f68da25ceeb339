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

// NormalizeSubjectName normalizes a subject label for comparison: lowercase, no diacritics,
// dashes and underscores as spaces, collapsed whitespace. Labeled gallery directories are
// often named "jan-novak" or "Jan_Novak" while investigators type "Jan Novák".
func NormalizeSubjectName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}

// SameSubject reports whether two labels refer to the same subject after normalization.
func SameSubject(a, b string) bool {
	return NormalizeSubjectName(a) == NormalizeSubjectName(b)
}
