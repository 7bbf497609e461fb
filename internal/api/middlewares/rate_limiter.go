package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/markdave123-py/Parley/internal/api/respond"
	"github.com/markdave123-py/Parley/internal/core"
	"github.com/markdave123-py/Parley/internal/observability"
)

// Limiter scopes.
const (
	ScopeStandard   = "std"
	ScopeGeneration = "gen"
)

const sweepThreshold = 10_000

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter allows limit requests per window for each key, refilling evenly
// across the window. It is created once at startup and shared by reference.
//
// It is a token bucket, not a sliding log: the sustained rate is limit per
// window, but a client that starts with a full bucket can be admitted up to
// 2*limit times within a single window (the burst plus one window of refill).
type RateLimiter struct {
	limit   int
	window  time.Duration
	metrics *observability.Metrics
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func NewRateLimiter(limit int, window time.Duration, metrics *observability.Metrics) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		metrics: metrics,
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}
}

// Allow consumes one token for key. When none is left it reports how long
// until the next one.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= sweepThreshold {
			l.sweep(now)
		}
		e = &limiterEntry{lim: rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit)}
		l.entries[key] = e
	}
	e.lastSeen = now

	res := e.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, l.window
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *RateLimiter) sweep(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > l.window {
			delete(l.entries, k)
		}
	}
}

// Middleware limits authenticated requests per user under scope. It must run
// after Authenticate.
func (l *RateLimiter) Middleware(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if allowed, retry := l.Allow(scope + ":" + user.ID); !allowed {
				l.metrics.RecordRateLimited(scope)
				respond.Error(w, r, &core.RateLimitError{RetryAfter: retry})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
