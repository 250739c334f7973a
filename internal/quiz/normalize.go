package quiz

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes a free-text answer: trimmed, lowercased, with every
// run of whitespace collapsed to one space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// RevealPrefix shows the first n letters or digits of answer and replaces the
// rest with underscores. Spaces and punctuation are always shown.
func RevealPrefix(answer string, n int) string {
	var b strings.Builder
	shown := 0
	for _, r := range strings.TrimSpace(answer) {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			b.WriteRune(r)
		case shown < n:
			b.WriteRune(r)
			shown++
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
