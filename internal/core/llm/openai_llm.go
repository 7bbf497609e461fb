package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/markdave123-py/Parley/internal/core"
)

// OpenAILLM streams chat completions from any OpenAI-compatible endpoint (Groq by default).
type OpenAILLM struct {
	client *openai.Client
}

func NewOpenAILLM(apiKey, baseURL string) (*OpenAILLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai-compatible provider needs an API key")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAILLM{client: openai.NewClientWithConfig(cfg)}, nil
}

func (o *OpenAILLM) Name() string { return "openai" }

func (o *OpenAILLM) StreamCompletion(ctx context.Context, model string, messages []core.PromptMessage, fn core.FragmentFunc) error {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return &core.ProviderError{Provider: o.Name(), Err: err}
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &core.ProviderError{Provider: o.Name(), Err: err}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := fn(delta); err != nil {
			return err
		}
	}
}

func toOpenAIMessages(messages []core.PromptMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

var _ core.CompletionProvider = (*OpenAILLM)(nil)
