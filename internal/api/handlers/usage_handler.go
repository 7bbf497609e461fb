package handlers

import (
	"net/http"

	"github.com/markdave123-py/Parley/internal/api/respond"
	"github.com/markdave123-py/Parley/internal/services"
)

type UsageHandler struct {
	convs    *services.ConversationService
	primary  string
	fallback string
}

func NewUsageHandler(convs *services.ConversationService, primary, fallback string) *UsageHandler {
	return &UsageHandler{convs: convs, primary: primary, fallback: fallback}
}

func (h *UsageHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.convs.Usage(r.Context(), currentUserID(r))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, stats)
}

func (h *UsageHandler) Models(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]any{
		"primary":   h.primary,
		"fallback":  h.fallback,
		"available": []string{h.primary, h.fallback},
	})
}
