package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hiennguyen9874/api-base-project/internal/auth"
	"github.com/hiennguyen9874/api-base-project/internal/telemetry"
)

// Authorizer decides whether subject may call method on path.
type Authorizer interface {
	Authorize(ctx context.Context, subject, method, path string) error
}

// RequireAuthorization checks the authenticated principal against policy
// using the request method and raw URL path. It must run after
// RequireAuthentication.
func RequireAuthorization(authz Authorizer, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = telemetry.OrDefault(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.GetPrincipalFromContext(r.Context())
			if !ok || principal.Email == "" {
				WriteError(w, auth.ErrUnauthenticated)
				return
			}

			if err := authz.Authorize(r.Context(), principal.Email, r.Method, r.URL.Path); err != nil {
				logger.Info("request denied", "principal", principal.Email, "method", r.Method, "path", r.URL.Path, "error", err)
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
