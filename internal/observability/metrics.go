package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn modes and outcomes used as label values.
const (
	ModeBlocking  = "blocking"
	ModeStreaming = "streaming"

	OutcomeCompleted     = "completed"
	OutcomeProviderError = "provider_error"
	OutcomeStorageError  = "storage_error"
	OutcomeDisconnected  = "disconnected"
)

// Metrics holds the Prometheus collectors of the chat pipeline. A nil *Metrics
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	turns         *prometheus.CounterVec
	fragments     prometheus.Counter
	activeStreams prometheus.Gauge
	latency       *prometheus.HistogramVec
	disconnects   prometheus.Counter
	tokens        *prometheus.CounterVec
	exports       *prometheus.CounterVec
	rateLimitHits *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Tests pass a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Completed or aborted turns by mode and outcome",
		}, []string{"mode", "outcome"}),
		fragments: f.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "chat",
			Name:      "stream_fragments_total",
			Help:      "Text fragments relayed to streaming clients",
		}),
		activeStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "parley",
			Subsystem: "chat",
			Name:      "active_streams",
			Help:      "Streaming turns currently in flight",
		}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "parley",
			Subsystem: "chat",
			Name:      "completion_latency_seconds",
			Help:      "Upstream completion latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"model"}),
		disconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "chat",
			Name:      "client_disconnects_total",
			Help:      "Streaming turns abandoned by the client",
		}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "chat",
			Name:      "tokens_total",
			Help:      "Approximate tokens by direction",
		}, []string{"direction"}),
		exports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "export",
			Name:      "jobs_total",
			Help:      "Transcript export jobs by status",
		}, []string{"status"}),
		rateLimitHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}, []string{"scope"}),
	}
}

func (m *Metrics) RecordTurn(mode, outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) RecordFragment() {
	if m == nil {
		return
	}
	m.fragments.Inc()
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

func (m *Metrics) StreamFinished() {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
}

func (m *Metrics) RecordLatency(model string, seconds float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(model).Observe(seconds)
}

func (m *Metrics) RecordDisconnect() {
	if m == nil {
		return
	}
	m.disconnects.Inc()
}

// RecordTokens counts n tokens in direction "input" or "output".
func (m *Metrics) RecordTokens(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokens.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) RecordExport(status string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimitHits.WithLabelValues(scope).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
