package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/markdave123-py/Parley/internal/api/respond"
	"github.com/markdave123-py/Parley/internal/core"
	"github.com/markdave123-py/Parley/internal/models"
)

type ctxKey struct{}

// Authenticator resolves credentials to a user.
type Authenticator interface {
	AuthenticateAccessToken(ctx context.Context, token string) (*models.User, error)
	AuthenticateAPIKey(ctx context.Context, key string) (*models.User, error)
}

// Authenticate accepts "Authorization: Bearer <access token>" or an X-API-Key
// header and stores the resolved user in the request context.
func Authenticate(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				user *models.User
				err  error
			)
			header := r.Header.Get("Authorization")
			apiKey := r.Header.Get("X-API-Key")

			switch {
			case header != "":
				token, ok := strings.CutPrefix(header, "Bearer ")
				if !ok || token == "" {
					respond.Error(w, r, fmt.Errorf("invalid authorization header: %w", core.ErrUnauthorized))
					return
				}
				user, err = auth.AuthenticateAccessToken(r.Context(), token)
			case apiKey != "":
				user, err = auth.AuthenticateAPIKey(r.Context(), apiKey)
			default:
				respond.Error(w, r, fmt.Errorf("missing credentials: %w", core.ErrUnauthorized))
				return
			}
			if err != nil {
				respond.Error(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(ctxKey{}).(*models.User)
	return user, ok && user != nil
}
