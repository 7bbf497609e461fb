package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/markdave123-py/Parley/internal/api/respond"
	"github.com/markdave123-py/Parley/internal/core/chat"
	"github.com/markdave123-py/Parley/internal/models"
	"github.com/markdave123-py/Parley/internal/services"
)

type ChatHandler struct {
	convs  *services.ConversationService
	orch   *chat.Orchestrator
	logger *slog.Logger
}

func NewChatHandler(convs *services.ConversationService, orch *chat.Orchestrator, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{convs: convs, orch: orch, logger: logger}
}

type messageRequest struct {
	Content  string `json:"content" validate:"required,min=1,max=20000"`
	Model    string `json:"model" validate:"omitempty,max=100"`
	Thinking bool   `json:"thinking"`
}

func (req messageRequest) turn() chat.TurnRequest {
	return chat.TurnRequest{Content: req.Content, Model: req.Model, Thinking: req.Thinking}
}

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r, 50, 200)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	items, total, err := h.convs.Messages(r.Context(), currentUserID(r), chi.URLParam(r, "id"), page, size)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, pageResponse[models.Message]{Items: items, Page: page, PageSize: size, Total: total})
}

// CreateMessage runs a blocking turn and answers with the assistant message.
func (h *ChatHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	conv, req, ok := h.prepare(w, r)
	if !ok {
		return
	}
	msg, err := h.orch.SubmitTurn(r.Context(), conv, req.turn())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, msg)
}

// StreamMessage runs a turn and relays its events as server-sent events.
func (h *ChatHandler) StreamMessage(w http.ResponseWriter, r *http.Request) {
	conv, req, ok := h.prepare(w, r)
	if !ok {
		return
	}
	sse := NewSSEWriter(w)
	if err := h.orch.StreamTurn(r.Context(), conv, req.turn(), sse.Send); err != nil {
		if !sse.Started() {
			respond.Error(w, r, err)
			return
		}
		h.logger.Error("stream ended with error", "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
}

// Events sends a single heartbeat for the conversation and closes the stream.
func (h *ChatHandler) Events(w http.ResponseWriter, r *http.Request) {
	conv, err := h.convs.Get(r.Context(), currentUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := NewSSEWriter(w).Send(chat.Heartbeat(conv.ID)); err != nil {
		h.logger.Debug("heartbeat not delivered", "conversation_id", conv.ID, "error", err)
	}
}

func (h *ChatHandler) prepare(w http.ResponseWriter, r *http.Request) (*models.Conversation, messageRequest, bool) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, err)
		return nil, req, false
	}
	conv, err := h.convs.Get(r.Context(), currentUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, r, err)
		return nil, req, false
	}
	return conv, req, true
}
