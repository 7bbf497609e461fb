package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/markdave123-py/Parley/internal/core"
	"github.com/markdave123-py/Parley/internal/models"
)

type GeminiLLM struct {
	client *genai.Client
}

func NewGeminiLLM(ctx context.Context, apiKey string) (*GeminiLLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini provider needs GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GeminiLLM{client: cl}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiLLM) Name() string { return "gemini" }

func (g *GeminiLLM) StreamCompletion(ctx context.Context, model string, messages []core.PromptMessage, fn core.FragmentFunc) error {
	system, history, last := splitForGemini(messages)

	m := g.client.GenerativeModel(model)
	if system != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}
	cs := m.StartChat()
	cs.History = history

	iter := cs.SendMessageStream(ctx, genai.Text(last))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return &core.ProviderError{Provider: g.Name(), Err: err}
		}
		if text := responseText(resp); text != "" {
			if err := fn(text); err != nil {
				return err
			}
		}
	}
}

// splitForGemini folds system entries into one instruction and turns the rest
// into chat history, holding back the final message as the one to send.
func splitForGemini(messages []core.PromptMessage) (string, []*genai.Content, string) {
	var (
		system []string
		turns  []core.PromptMessage
	)
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}

	last := ""
	if n := len(turns); n > 0 {
		last = turns[n-1].Content
		turns = turns[:n-1]
	}

	history := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == models.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Content)}})
	}
	return strings.Join(system, "\n\n"), history, last
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

var _ core.CompletionProvider = (*GeminiLLM)(nil)
