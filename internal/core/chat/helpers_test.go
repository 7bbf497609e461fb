package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markdave123-py/Parley/internal/models"
)

func TestApproximateTokens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"blank", "   \n\t", 0},
		{"empty", "", 0},
		{"short words", "a b c d e", 5},
		{"long word", "supercalifragilistic", 5},
		{"multibyte counts runes", "日本語のテキスト", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ApproximateTokens(tt.in))
		})
	}
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "Hello there, how are you today?", DeriveTitle("Hello there, how are you today?"))
	assert.Equal(t, "one two three four five six seven eight", DeriveTitle("one two three four five six seven eight nine ten"))
	assert.Equal(t, "Untitled", DeriveTitle("   "))
	assert.Equal(t, "spaced out words", DeriveTitle("  spaced \n out\twords "))

	long := ""
	for i := 0; i < 3; i++ {
		long += "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz "
	}
	got := DeriveTitle(long)
	assert.LessOrEqual(t, len([]rune(got)), 80)
}

func TestEstimateCost(t *testing.T) {
	assert.Equal(t, 0.0, EstimateCost("llama-3.1-8b-instant", 0, 0))
	assert.InDelta(t, 0.00013, EstimateCost("llama-3.1-8b-instant", 1000, 1000), 1e-12)
	assert.InDelta(t, 0.0002, EstimateCost("unknown-model", 1000, 1000), 1e-12)
	assert.Equal(t, EstimateCost("gemma2-9b-it", 123, 456), EstimateCost("gemma2-9b-it", 123, 456))
}

func TestEstimateCostIsMonotonic(t *testing.T) {
	for _, model := range []string{"llama-3.1-8b-instant", "gemma2-9b-it", "other"} {
		prev := -1.0
		for n := 0; n <= 5000; n += 250 {
			c := EstimateCost(model, n, 100)
			assert.GreaterOrEqual(t, c, prev, "input %d on %s", n, model)
			prev = c
		}
		prev = -1.0
		for n := 0; n <= 5000; n += 250 {
			c := EstimateCost(model, 100, n)
			assert.GreaterOrEqual(t, c, prev, "output %d on %s", n, model)
			prev = c
		}
	}
}

func msg(role, content string, tokens int) models.Message {
	return models.Message{Role: role, Content: content, TokenCount: tokens}
}

func contents(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestBuildContextWindowKeepsNewestInOrder(t *testing.T) {
	history := []models.Message{
		msg(models.RoleUser, "u1", 10),
		msg(models.RoleAssistant, "a1", 10),
		msg(models.RoleUser, "u2", 10),
		msg(models.RoleAssistant, "a2", 10),
		msg(models.RoleUser, "u3", 10),
	}

	got := BuildContextWindow(history, Budget{MaxMessages: 3, MaxTokens: 1000})
	assert.Equal(t, []string{"u2", "a2", "u3"}, contents(got))

	got = BuildContextWindow(history, Budget{MaxMessages: 10, MaxTokens: 25})
	assert.Equal(t, []string{"a2", "u3"}, contents(got))

	got = BuildContextWindow(history, Budget{MaxMessages: 10, MaxTokens: 1000})
	assert.Equal(t, []string{"u1", "a1", "u2", "a2", "u3"}, contents(got))
}

func TestBuildContextWindowAlwaysHasLastUserMessage(t *testing.T) {
	history := []models.Message{
		msg(models.RoleAssistant, "a0", 1),
		msg(models.RoleUser, "huge question", 10_000),
	}
	got := BuildContextWindow(history, Budget{MaxMessages: 20, MaxTokens: 100})
	assert.Equal(t, []string{"huge question"}, contents(got))

	// last user message sits behind a large assistant reply
	history = []models.Message{
		msg(models.RoleUser, "question", 5),
		msg(models.RoleAssistant, "long answer", 500),
		msg(models.RoleAssistant, "tail", 5),
	}
	got = BuildContextWindow(history, Budget{MaxMessages: 20, MaxTokens: 50})
	assert.Equal(t, []string{"question", "tail"}, contents(got))
}

func TestBuildContextWindowEmpty(t *testing.T) {
	assert.Empty(t, BuildContextWindow(nil, Budget{MaxMessages: 5, MaxTokens: 5}))
}
