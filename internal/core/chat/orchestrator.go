package chat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Parley/internal/core"
	"github.com/markdave123-py/Parley/internal/models"
	"github.com/markdave123-py/Parley/internal/observability"
)

const (
	thinkingSuffix = "\nProvide brief reasoning bullets before the final answer."
	finishStop     = "stop"
)

// TurnStore is the part of the store a turn touches.
type TurnStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	SetAutoTitle(ctx context.Context, id, title string) (bool, error)
}

// TurnRequest is one user submission.
type TurnRequest struct {
	Content  string
	Model    string
	Thinking bool
}

// Options tunes an Orchestrator; zero Tracer and Logger fall back to no-op and slog.Default.
type Options struct {
	Budget              Budget
	DefaultSystemPrompt string
	Metrics             *observability.Metrics
	Tracer              trace.Tracer
	Logger              *slog.Logger
}

// Orchestrator drives one user turn to one assistant turn.
type Orchestrator struct {
	store    TurnStore
	provider core.CompletionProvider
	budget   Budget
	prompt   string
	metrics  *observability.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	locks    *turnLocks
	now      func() time.Time
}

func NewOrchestrator(store TurnStore, provider core.CompletionProvider, opts Options) *Orchestrator {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("chat")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    store,
		provider: provider,
		budget:   opts.Budget,
		prompt:   opts.DefaultSystemPrompt,
		metrics:  opts.Metrics,
		tracer:   tracer,
		logger:   logger,
		locks:    newTurnLocks(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewMessageID returns an assistant message id: "msg_" and 12 hex characters.
func NewMessageID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	return "msg_" + hex.EncodeToString(b[:])
}

type preparedTurn struct {
	model       string
	messages    []core.PromptMessage
	inputTokens int
}

// SubmitTurn runs a turn to completion and returns the stored assistant message.
// Provider failures are returned as *core.ProviderError and nothing is stored for the reply.
func (o *Orchestrator) SubmitTurn(ctx context.Context, conv *models.Conversation, req TurnRequest) (*models.Message, error) {
	release, err := o.locks.acquire(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span := o.tracer.Start(ctx, "chat.SubmitTurn", trace.WithAttributes(
		attribute.String("conversation.id", conv.ID),
	))
	defer span.End()

	turn, err := o.prepareTurn(ctx, conv, req)
	if err != nil {
		o.fail(span, observability.ModeBlocking, observability.OutcomeStorageError, err)
		return nil, err
	}

	var buf strings.Builder
	start := time.Now()
	err = o.provider.StreamCompletion(ctx, turn.model, turn.messages, func(fragment string) error {
		buf.WriteString(fragment)
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		err = o.asProviderError(err)
		o.fail(span, observability.ModeBlocking, observability.OutcomeProviderError, err)
		return nil, err
	}
	o.metrics.RecordLatency(turn.model, elapsed.Seconds())

	msg := o.assistantMessage(uuid.NewString(), conv.ID, turn, buf.String(), elapsed.Milliseconds())
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		o.fail(span, observability.ModeBlocking, observability.OutcomeStorageError, err)
		return nil, fmt.Errorf("save assistant message: %w", err)
	}

	o.metrics.RecordTurn(observability.ModeBlocking, observability.OutcomeCompleted)
	o.metrics.RecordTokens("output", msg.TokenCount)
	return msg, nil
}

// StreamTurn runs a turn and hands each event to emit as fragments arrive.
//
// It returns an error only when the turn fails before the first event; after
// that every outcome is reported through events. A cancelled ctx or a failing
// emit is a client disconnect: no further events are emitted and the reply is
// not stored.
func (o *Orchestrator) StreamTurn(ctx context.Context, conv *models.Conversation, req TurnRequest, emit func(Event) error) error {
	release, err := o.locks.acquire(ctx, conv.ID)
	if err != nil {
		return err
	}
	defer release()

	ctx, span := o.tracer.Start(ctx, "chat.StreamTurn", trace.WithAttributes(
		attribute.String("conversation.id", conv.ID),
	))
	defer span.End()

	turn, err := o.prepareTurn(ctx, conv, req)
	if err != nil {
		o.fail(span, observability.ModeStreaming, observability.OutcomeStorageError, err)
		return err
	}

	o.metrics.StreamStarted()
	defer o.metrics.StreamFinished()

	msgID := NewMessageID()
	span.SetAttributes(attribute.String("message.id", msgID), attribute.String("model", turn.model))

	if emit(MessageStart(msgID, turn.model)) != nil || emit(ContentBlockStart()) != nil {
		o.disconnected(span, conv.ID, 0)
		return nil
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fragments := make(chan string)
	g, gctx := errgroup.WithContext(streamCtx)
	g.Go(func() error {
		defer close(fragments)
		return o.provider.StreamCompletion(gctx, turn.model, turn.messages, func(fragment string) error {
			select {
			case fragments <- fragment:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	var (
		buf  strings.Builder
		sent int
		gone bool
	)
	for fragment := range fragments {
		if ctx.Err() != nil || emit(ContentBlockDelta(fragment)) != nil {
			gone = true
			break
		}
		buf.WriteString(fragment)
		sent++
		o.metrics.RecordFragment()
	}

	if gone {
		cancel()
		for range fragments {
		}
	}
	genErr := g.Wait()

	if gone || ctx.Err() != nil {
		o.disconnected(span, conv.ID, sent)
		return nil
	}

	if genErr != nil {
		genErr = o.asProviderError(genErr)
		o.fail(span, observability.ModeStreaming, observability.OutcomeProviderError, genErr)
		_ = emit(ErrorEvent(ErrorTypeGeneration, genErr.Error()))
		return nil
	}

	full := buf.String()
	if strings.TrimSpace(full) != "" {
		msg := o.assistantMessage(msgID, conv.ID, turn, full, 0)
		if err := o.store.AppendMessage(ctx, msg); err != nil {
			o.fail(span, observability.ModeStreaming, observability.OutcomeStorageError, err)
			_ = emit(ErrorEvent(ErrorTypeStorage, "failed to save assistant message"))
			return nil
		}
	}

	outputTokens := ApproximateTokens(full)
	for _, ev := range []Event{ContentBlockStop(), MessageDelta(outputTokens), MessageStop()} {
		if err := emit(ev); err != nil {
			o.logger.Debug("client left after reply was stored", "conversation_id", conv.ID, "event", ev.Name)
			break
		}
	}

	o.metrics.RecordTurn(observability.ModeStreaming, observability.OutcomeCompleted)
	o.metrics.RecordTokens("output", outputTokens)
	return nil
}

// prepareTurn stores the user message, names the conversation on its first
// turn and assembles the prompt.
func (o *Orchestrator) prepareTurn(ctx context.Context, conv *models.Conversation, req TurnRequest) (*preparedTurn, error) {
	userMsg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        req.Content,
		TokenCount:     ApproximateTokens(req.Content),
		Metadata:       map[string]any{},
		CreatedAt:      o.now(),
	}
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	if conv.TitleIsDefault {
		title := DeriveTitle(req.Content)
		changed, err := o.store.SetAutoTitle(ctx, conv.ID, title)
		if err != nil {
			return nil, fmt.Errorf("set title: %w", err)
		}
		if changed {
			conv.Title = title
			conv.TitleIsDefault = false
		}
	}

	history, err := o.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	messages := o.buildPrompt(conv, BuildContextWindow(history, o.budget), req.Thinking)
	input := 0
	for _, m := range messages {
		input += ApproximateTokens(m.Content)
	}
	o.metrics.RecordTokens("input", input)

	model := req.Model
	if model == "" {
		model = conv.Model
	}
	return &preparedTurn{model: model, messages: messages, inputTokens: input}, nil
}

func (o *Orchestrator) buildPrompt(conv *models.Conversation, window []models.Message, thinking bool) []core.PromptMessage {
	system := o.prompt
	if conv.SystemPrompt != nil && *conv.SystemPrompt != "" {
		system = *conv.SystemPrompt
	}
	if thinking {
		system += thinkingSuffix
	}

	out := make([]core.PromptMessage, 0, len(window)+1)
	out = append(out, core.PromptMessage{Role: models.RoleSystem, Content: system})
	for _, m := range window {
		switch m.Role {
		case models.RoleUser, models.RoleAssistant, models.RoleSystem:
			out = append(out, core.PromptMessage{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

func (o *Orchestrator) assistantMessage(id, conversationID string, turn *preparedTurn, text string, latencyMs int64) *models.Message {
	content := strings.TrimSpace(text)
	output := ApproximateTokens(content)
	model := turn.model
	finish := finishStop
	return &models.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        content,
		TokenCount:     output,
		Model:          &model,
		FinishReason:   &finish,
		LatencyMs:      &latencyMs,
		Metadata: map[string]any{
			"usage": map[string]any{
				"input_tokens":  turn.inputTokens,
				"output_tokens": output,
			},
		},
		EstimatedCostUSD: EstimateCost(turn.model, turn.inputTokens, output),
		CreatedAt:        o.now(),
	}
}

func (o *Orchestrator) asProviderError(err error) error {
	var pe *core.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &core.ProviderError{Provider: o.provider.Name(), Err: err}
}

func (o *Orchestrator) fail(span trace.Span, mode, outcome string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	o.metrics.RecordTurn(mode, outcome)
	o.logger.Error("turn failed", "mode", mode, "outcome", outcome, "error", err)
}

func (o *Orchestrator) disconnected(span trace.Span, conversationID string, sent int) {
	span.SetAttributes(attribute.Bool("client.disconnected", true), attribute.Int("fragments.sent", sent))
	o.metrics.RecordDisconnect()
	o.metrics.RecordTurn(observability.ModeStreaming, observability.OutcomeDisconnected)
	o.logger.Info("client disconnected mid-stream", "conversation_id", conversationID, "fragments_sent", sent)
}
