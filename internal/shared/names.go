package shared

import (
	"strings"

	"golang.org/x/text/cases"
)

// NameKey folds a display name into its uniqueness key. Names differing only
// by case or surrounding whitespace share a key.
func NameKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// MatchesSearch reports whether any field contains term, ignoring case.
func MatchesSearch(term string, fields ...string) bool {
	term = NameKey(term)
	if term == "" {
		return true
	}
	folder := cases.Fold()
	for _, f := range fields {
		if strings.Contains(folder.String(f), term) {
			return true
		}
	}
	return false
}
