package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestMetricsRecordAndExpose(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTurn(ModeStreaming, OutcomeCompleted)
	m.RecordTurn(ModeStreaming, OutcomeCompleted)
	m.RecordFragment()
	m.StreamStarted()
	m.RecordTokens("output", 5)
	m.RecordTokens("output", 0)

	body := scrape(t, m)
	assert.Contains(t, body, `parley_chat_turns_total{mode="streaming",outcome="completed"} 2`)
	assert.Contains(t, body, "parley_chat_active_streams 1")
	assert.Contains(t, body, `parley_chat_tokens_total{direction="output"} 5`)
	assert.Contains(t, body, "parley_chat_stream_fragments_total 1")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTurn(ModeBlocking, OutcomeProviderError)
		m.RecordFragment()
		m.StreamStarted()
		m.StreamFinished()
		m.RecordLatency("x", 1)
		m.RecordDisconnect()
		m.RecordTokens("input", 3)
		m.RecordExport("uploaded")
		m.RecordRateLimited("gen")
	})
}

func TestInitTracingDisabledIsNoop(t *testing.T) {
	tracer, shutdown, err := InitTracing(context.Background(), "parley", false)
	require.NoError(t, err)
	_, span := tracer.Start(context.Background(), "turn")
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}
