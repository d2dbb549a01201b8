package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hiennguyen9874/api-base-project/internal/auth"
	"github.com/hiennguyen9874/api-base-project/internal/db/models"
	"github.com/hiennguyen9874/api-base-project/internal/telemetry"
)

// AccessTokenCookie carries the access token for browser clients.
const AccessTokenCookie = "access_token"

// Authenticator resolves an access token to an active principal.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.Principal, *auth.Claims, error)
}

// AccessToken extracts the bearer token from the Authorization header,
// falling back to the access_token cookie.
func AccessToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(AccessTokenCookie); err == nil {
		return c.Value
	}
	return ""
}

// RequireAuthentication rejects requests without a valid access token and
// stores the principal on the request context.
func RequireAuthentication(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = telemetry.OrDefault(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := AccessToken(r)
			if token == "" {
				WriteError(w, auth.ErrUnauthenticated)
				return
			}

			p, claims, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				logger.Debug("authentication failed", "method", r.Method, "path", r.URL.Path, "error", err)
				WriteError(w, err)
				return
			}

			ctx := auth.SetPrincipalContext(r.Context(), auth.AuthenticatedPrincipal{
				ID:       p.ID,
				Email:    p.Email,
				FullName: p.FullName,
				TokenID:  claims.ID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
