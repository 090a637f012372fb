// Package strings provides string-list helpers used when normalizing
// configuration lists (quasi-identifier sets, priority lists, column lists).
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{"  bairro ", "sexo", "bairro", "", "  "})
//	// Returns: []string{"bairro", "sexo"}
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}

// Duplicates returns the trimmed values that occur more than once, in order of
// their second occurrence. Config validation uses it to reject ambiguous lists
// instead of silently collapsing them.
func Duplicates(values []string) []string {
	seen := make(map[string]int, len(values))
	var dups []string
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		seen[trimmed]++
		if seen[trimmed] == 2 {
			dups = append(dups, trimmed)
		}
	}
	return dups
}
