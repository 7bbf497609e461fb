package chat

import (
	"strings"
	"unicode/utf8"
)

// ApproximateTokens is a word/character heuristic, not a tokenizer: the larger
// of the word count and a quarter of the rune count. Blank text counts as zero.
func ApproximateTokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	words := len(strings.Fields(text))
	chars := (utf8.RuneCountInString(text) + 3) / 4
	return max(words, chars)
}
