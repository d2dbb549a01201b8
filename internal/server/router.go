package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hiennguyen9874/api-base-project/internal/app"
	"github.com/hiennguyen9874/api-base-project/internal/middleware"
)

// healthTimeout bounds the dependency checks of /health.
const healthTimeout = 3 * time.Second

// RouterOptions controls the construction of the HTTP router.
// The zero value is valid apart from App.
type RouterOptions struct {
	App         *app.App
	CORSOptions *cors.Options
	Middleware  []func(http.Handler) http.Handler
	// HealthHandler replaces the default dependency check on /health.
	HealthHandler http.HandlerFunc
	ExtraRoutes   func(chi.Router)
}

// DefaultCORSOptions returns the shared development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			RefreshTokenHeader,
			"X-Request-Id",
		},
		ExposedHeaders:   []string{"Retry-After", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func healthHandler(ping func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := ping(ctx); err != nil {
			w.Header().Set("Retry-After", middleware.RetryAfterSeconds)
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy, and
// the versioned API mounted under app.APIPrefix.
func NewRouter(opts RouterOptions) chi.Router {
	a := opts.App
	logger := a.Logger

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger, a.ServerMetrics))
	r.Use(chimw.Recoverer)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	authn := middleware.RequireAuthentication(a.Sessions, logger)
	authz := middleware.RequireAuthorization(a.Policy, logger)

	r.Route(app.APIPrefix+"/v0", func(r chi.Router) {
		r.Route("/authen", func(r chi.Router) {
			r.Post("/login", HandleLogin(a.Sessions, logger))
			r.Post("/refresh", HandleRefresh(a.Sessions, logger))
			r.Post("/logout", HandleLogout(a.Sessions, logger))
			r.Post("/logout-all", HandleLogoutAll(a.Sessions, logger))
		})

		r.Group(func(r chi.Router) {
			r.Use(authn, authz)

			r.Get("/users/me", HandleMe(a.Principals, a.Policy, logger))

			r.Route("/author", func(r chi.Router) {
				r.Get("/policy", HandleListPolicies(a.Policy, logger))
				r.Post("/policy", HandleAddPolicies(a.Policy, false, logger))
				r.Put("/policy", HandleUpdatePolicy(a.Policy, logger))
				r.Delete("/policy", HandleRemovePolicies(a.Policy, false, logger))
				r.Get("/policy/{role}/all", HandleRolePolicies(a.Policy, logger))
				r.Post("/policies", HandleAddPolicies(a.Policy, true, logger))
				r.Delete("/policies", HandleRemovePolicies(a.Policy, true, logger))

				r.Get("/group", HandleListGroups(a.Policy, logger))
				r.Post("/group", HandleAddGroup(a.Policy, logger))
				r.Delete("/group", HandleRemoveGroup(a.Policy, logger))

				r.Get("/roles/{email}", HandleRolesFor(a.Policy, logger))
			})
		})
	})

	health := opts.HealthHandler
	if health == nil {
		health = healthHandler(a.Ping)
	}
	r.Get("/health", health)

	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}

	return r
}
