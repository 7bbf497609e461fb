package chat

import "github.com/markdave123-py/Parley/internal/models"

// Budget bounds the history submitted with a turn.
type Budget struct {
	MaxMessages int
	MaxTokens   int
}

// BuildContextWindow keeps the newest messages that fit the budget, oldest first.
// The most recent user message is always included, even when it alone is over budget.
func BuildContextWindow(history []models.Message, budget Budget) []models.Message {
	if len(history) == 0 {
		return nil
	}

	start := len(history)
	tokens := 0
	for i := len(history) - 1; i >= 0; i-- {
		if budget.MaxMessages > 0 && len(history)-i > budget.MaxMessages {
			break
		}
		cost := messageTokens(history[i])
		if budget.MaxTokens > 0 && tokens+cost > budget.MaxTokens {
			break
		}
		tokens += cost
		start = i
	}

	window := make([]models.Message, 0, len(history)-start+1)
	window = append(window, history[start:]...)

	lastUser := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			lastUser = i
			break
		}
	}
	if lastUser >= 0 && lastUser < start {
		window = append([]models.Message{history[lastUser]}, window...)
	}
	return window
}

func messageTokens(m models.Message) int {
	if m.TokenCount > 0 {
		return m.TokenCount
	}
	return ApproximateTokens(m.Content)
}
