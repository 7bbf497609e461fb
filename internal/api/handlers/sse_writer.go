package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/markdave123-py/Parley/internal/core/chat"
)

// SSEWriter frames chat events as server-sent events. Headers go out with the
// first event so a failure before it can still be answered with JSON.
type SSEWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	return &SSEWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *SSEWriter) Started() bool { return s.started }

func setSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Send writes one "event:/data:" frame and flushes it.
func (s *SSEWriter) Send(ev chat.Event) error {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Name, err)
	}
	if !s.started {
		setSSEHeaders(s.w)
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
		return err
	}
	return s.rc.Flush()
}
