package utils

import "strings"

// EscapeSQLWildcards escapes LIKE pattern characters so user input matches
// literally. Queries using the result must carry ESCAPE '\'.
func EscapeSQLWildcards(input string) string {
	input = strings.ReplaceAll(input, "\\", "\\\\")
	input = strings.ReplaceAll(input, "%", "\\%")
	input = strings.ReplaceAll(input, "_", "\\_")
	return input
}

// SanitizeSearchQuery prepares a search term for LIKE matching: trimmed,
// length-capped, wildcards escaped, wrapped for partial match.
func SanitizeSearchQuery(input string) string {
	input = strings.TrimSpace(input)
	if len(input) > 100 {
		input = input[:100]
	}
	return "%" + EscapeSQLWildcards(input) + "%"
}
