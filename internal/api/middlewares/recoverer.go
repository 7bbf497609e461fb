package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/markdave123-py/Parley/internal/api/respond"
)

// Recoverer turns a panic into the generic JSON 500 and logs it with the request id.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				logger.ErrorContext(r.Context(), "panic recovered",
					"request_id", chimw.GetReqID(r.Context()),
					"panic", rvr,
					"stack", string(debug.Stack()),
				)
				respond.Internal(w, r)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
