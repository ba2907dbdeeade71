package utils

import (
	"strings"
	"unicode"
)

// Normalizes SMTP line endings (\r\n) to \n.
func Decode(text string) string {
	return strings.ReplaceAll(text, "\r\n", "\n")
}

// Collapses a body into a single line of at most limit runes, suitable
// for a listing.
func Snippet(text string, limit int) string {
	text = strings.Join(strings.FieldsFunc(Decode(text), unicode.IsSpace), " ")

	runes := []rune(text)
	if limit > 0 && len(runes) > limit {
		return strings.TrimSpace(string(runes[:limit])) + "…"
	}
	return text
}
