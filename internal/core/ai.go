package core

import "context"

// PromptMessage is one role-tagged entry submitted to a completion provider.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FragmentFunc receives generated text in order. Returning an error stops the stream.
type FragmentFunc func(fragment string) error

// CompletionProvider wraps the upstream model call.
type CompletionProvider interface {
	// StreamCompletion submits messages to model and delivers fragments to fn
	// until the upstream stream ends. Upstream failures are *ProviderError.
	StreamCompletion(ctx context.Context, model string, messages []PromptMessage, fn FragmentFunc) error
	Name() string
}
