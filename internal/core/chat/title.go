package chat

import "strings"

const (
	titleMaxWords = 8
	titleMaxRunes = 80
	untitled      = "Untitled"
)

// DeriveTitle names a conversation after the first words of its opening message.
func DeriveTitle(content string) string {
	words := strings.Fields(content)
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	title := []rune(strings.Join(words, " "))
	if len(title) > titleMaxRunes {
		title = title[:titleMaxRunes]
	}
	out := strings.TrimSpace(string(title))
	if out == "" {
		return untitled
	}
	return out
}
