package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/markdave123-py/Parley/internal/config"
	"github.com/markdave123-py/Parley/internal/core"
)

// NewProvider builds the completion provider selected by cfg.LLMProvider.
func NewProvider(ctx context.Context, cfg *config.Config) (core.CompletionProvider, error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		return NewOpenAILLM(cfg.GroqAPIKey, cfg.LLMBaseURL)
	case config.ProviderGemini:
		return NewGeminiLLM(ctx, cfg.GeminiAPIKey)
	case config.ProviderSimulated, "":
		return &SimulatedLLM{Delay: 10 * time.Millisecond}, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}
