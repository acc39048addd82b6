package identity

import (
	"regexp"
	"strings"
)

var multiSpaceRegex = regexp.MustCompile(`\s+`)

// CleanName trims a reference-entity name and collapses internal whitespace,
// so "ЖК  Солнечный " and "ЖК Солнечный" resolve to the same row.
// Case is preserved.
func CleanName(name string) string {
	return strings.TrimSpace(multiSpaceRegex.ReplaceAllString(name, " "))
}

// CleanAddress applies the same normalization to addresses used as part of
// the building complex key.
func CleanAddress(addr string) string {
	addr = strings.ReplaceAll(addr, "\u00a0", " ")
	return CleanName(addr)
}
