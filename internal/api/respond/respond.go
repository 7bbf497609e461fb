// Package respond writes JSON bodies and the shared error envelope.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/markdave123-py/Parley/internal/core"
)

const internalMessage = "An unexpected error occurred."

type errorDetail struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

// Error maps err onto a status code and writes the error envelope. Anything
// unrecognised is logged and answered with a generic 500 carrying the request id.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status, typ, msg := classify(err)
	reqID := middleware.GetReqID(r.Context())

	if status == http.StatusTooManyRequests {
		var rl *core.RateLimitError
		if errors.As(err, &rl) {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		}
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"request_id", reqID, "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}

	JSON(w, status, errorEnvelope{Error: errorDetail{Type: typ, Message: msg, RequestID: reqID}})
}

// Internal writes the generic 500 envelope without an underlying error.
func Internal(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorDetail{
		Type: "internal_error", Message: internalMessage, RequestID: middleware.GetReqID(r.Context()),
	}})
}

func classify(err error) (int, string, string) {
	var (
		pe *core.ProviderError
		rl *core.RateLimitError
	)
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_error", err.Error()
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found", "Conversation not found"
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden, "forbidden", "Forbidden"
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", err.Error()
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, "conflict", err.Error()
	case errors.As(err, &rl):
		return http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded"
	case errors.As(err, &pe):
		return http.StatusBadGateway, "provider_error", pe.Error()
	case errors.Is(err, core.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", internalMessage
	}
}
