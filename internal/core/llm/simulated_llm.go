package llm

import (
	"context"
	"strings"
	"time"

	"github.com/markdave123-py/Parley/internal/core"
)

// SimulatedLLM echoes the last message back word by word. It stands in when no
// upstream API key is configured.
type SimulatedLLM struct {
	Delay time.Duration
}

func (s *SimulatedLLM) Name() string { return "simulated" }

func (s *SimulatedLLM) StreamCompletion(ctx context.Context, _ string, messages []core.PromptMessage, fn core.FragmentFunc) error {
	last := ""
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	reply := "Simulated response for: " + last

	for _, word := range strings.Split(reply, " ") {
		if s.Delay > 0 {
			t := time.NewTimer(s.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(word + " "); err != nil {
			return err
		}
	}
	return nil
}

var _ core.CompletionProvider = (*SimulatedLLM)(nil)
