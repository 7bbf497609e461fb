package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appMiddleware "github.com/markdave123-py/Parley/internal/api/middlewares"
	"github.com/markdave123-py/Parley/internal/api/respond"
	"github.com/markdave123-py/Parley/internal/core"
	"github.com/markdave123-py/Parley/internal/models"
	"github.com/markdave123-py/Parley/internal/services"
)

// TranscriptExporter queues a conversation transcript for upload.
type TranscriptExporter interface {
	Enqueue(userID, conversationID string) (string, error)
}

type ConversationHandler struct {
	convs    *services.ConversationService
	exporter TranscriptExporter
}

// NewConversationHandler wires the CRUD endpoints. exporter may be nil when no
// object storage is configured.
func NewConversationHandler(convs *services.ConversationService, exporter TranscriptExporter) *ConversationHandler {
	return &ConversationHandler{convs: convs, exporter: exporter}
}

type createConversationRequest struct {
	Title        *string        `json:"title" validate:"omitempty,max=500"`
	Model        string         `json:"model" validate:"omitempty,max=100"`
	SystemPrompt *string        `json:"system_prompt"`
	Metadata     map[string]any `json:"metadata"`
}

type updateConversationRequest struct {
	Title        *string `json:"title" validate:"omitempty,max=500"`
	SystemPrompt *string `json:"system_prompt"`
	IsArchived   *bool   `json:"is_archived"`
}

func currentUserID(r *http.Request) string {
	user, _ := appMiddleware.UserFromContext(r.Context())
	return user.ID
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	conv, err := h.convs.Create(r.Context(), currentUserID(r), services.NewConversation{
		Title:        req.Title,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Metadata:     req.Metadata,
	})
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r, 20, 100)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	items, total, err := h.convs.List(r.Context(), currentUserID(r), page, size)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, pageResponse[models.Conversation]{Items: items, Page: page, PageSize: size, Total: total})
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, err := h.convs.Get(r.Context(), currentUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	conv, err := h.convs.Update(r.Context(), currentUserID(r), chi.URLParam(r, "id"), models.ConversationUpdate{
		Title:        req.Title,
		SystemPrompt: req.SystemPrompt,
		IsArchived:   req.IsArchived,
	})
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	hard := false
	if raw := r.URL.Query().Get("hard_delete"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respond.Error(w, r, fmt.Errorf("%w: hard_delete must be a boolean", core.ErrValidation))
			return
		}
		hard = v
	}
	if err := h.convs.Delete(r.Context(), currentUserID(r), chi.URLParam(r, "id"), hard); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"message": "Deleted"})
}

func (h *ConversationHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		respond.Error(w, r, fmt.Errorf("transcript export is not configured: %w", core.ErrUnavailable))
		return
	}
	userID := currentUserID(r)
	conv, err := h.convs.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	key, err := h.exporter.Enqueue(userID, conv.ID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, map[string]string{"status": "queued", "key": key})
}
