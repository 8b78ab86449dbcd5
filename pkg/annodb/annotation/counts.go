package annotation

import (
	"strings"
	"unicode"
)

// countText computes the three sentence counters: whitespace-separated
// words, letter/digit token runs, and letter runes.
func countText(text string) (words, tokens, alpha int64) {
	words = int64(len(strings.Fields(text)))

	inToken := false
	for _, r := range text {
		if unicode.IsLetter(r) {
			alpha++
		}
		if unicode.IsLetter(r) || unicode.IsNumber(r) || (inToken && r == '-') {
			if !inToken {
				tokens++
				inToken = true
			}
		} else {
			inToken = false
		}
	}
	return words, tokens, alpha
}
