package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiennguyen9874/api-base-project/internal/auth"
	"github.com/hiennguyen9874/api-base-project/internal/cache"
	"github.com/hiennguyen9874/api-base-project/internal/db/models"
	"github.com/hiennguyen9874/api-base-project/internal/lock"
)

type mockAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]*models.Principal
	errs   map[string]error
	seen   []string
}

func (m *mockAuthenticator) Authenticate(_ context.Context, token string) (*models.Principal, *auth.Claims, error) {
	m.mu.Lock()
	m.seen = append(m.seen, token)
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.errs[token]; ok {
		return nil, nil, err
	}
	if p, ok := m.tokens[token]; ok {
		claims := &auth.Claims{Type: auth.TokenTypeAccess}
		claims.ID = "jti-" + token
		return p, claims, nil
	}
	return nil, nil, fmt.Errorf("access token: %w", auth.ErrInvalid)
}

type mockAuthorizer struct {
	mu      sync.RWMutex
	allowed map[string]bool
	calls   []string
}

func (m *mockAuthorizer) Authorize(_ context.Context, subject, method, path string) error {
	key := subject + " " + method + " " + path
	m.mu.Lock()
	m.calls = append(m.calls, key)
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.allowed[key] {
		return nil
	}
	return fmt.Errorf("%s: %w", key, auth.ErrForbidden)
}

func echoPrincipal(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.GetPrincipalFromContext(r.Context())
	_ = json.NewEncoder(w).Encode(p)
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Detail
}

func TestRequireAuthentication(t *testing.T) {
	authn := &mockAuthenticator{
		tokens: map[string]*models.Principal{"good": {ID: "id-1", Email: "a@x.com", FullName: "A"}},
		errs: map[string]error{
			"expired":  fmt.Errorf("access token: %w", auth.ErrExpired),
			"inactive": fmt.Errorf("authenticate: %w", auth.ErrInactive),
		},
	}
	h := RequireAuthentication(authn, nil)(http.HandlerFunc(echoPrincipal))

	tests := []struct {
		name       string
		header     string
		cookie     string
		wantStatus int
		wantDetail string
	}{
		{name: "bearer header", header: "Bearer good", wantStatus: http.StatusOK},
		{name: "scheme is case insensitive", header: "bearer good", wantStatus: http.StatusOK},
		{name: "cookie fallback", cookie: "good", wantStatus: http.StatusOK},
		{name: "missing token", wantStatus: http.StatusUnauthorized, wantDetail: "not authenticated"},
		{name: "basic scheme ignored", header: "Basic good", wantStatus: http.StatusUnauthorized, wantDetail: "not authenticated"},
		{name: "expired", header: "Bearer expired", wantStatus: http.StatusUnauthorized, wantDetail: "token expired"},
		{name: "invalid", header: "Bearer forged", wantStatus: http.StatusUnauthorized, wantDetail: "could not validate credentials"},
		{name: "inactive", header: "Bearer inactive", wantStatus: http.StatusForbidden, wantDetail: "inactive principal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v0/users/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				var p auth.AuthenticatedPrincipal
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
				assert.Equal(t, auth.AuthenticatedPrincipal{ID: "id-1", Email: "a@x.com", FullName: "A", TokenID: "jti-good"}, p)
				return
			}
			assert.Equal(t, tt.wantDetail, decodeDetail(t, rec))
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestRequireAuthorization(t *testing.T) {
	authz := &mockAuthorizer{allowed: map[string]bool{"a@x.com GET /api/v0/users/me": true}}
	h := RequireAuthorization(authz, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(method, path string, p *auth.AuthenticatedPrincipal) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if p != nil {
			req = req.WithContext(auth.SetPrincipalContext(req.Context(), *p))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	alice := &auth.AuthenticatedPrincipal{Email: "a@x.com"}
	assert.Equal(t, http.StatusNoContent, serve(http.MethodGet, "/api/v0/users/me", alice).Code)
	assert.Equal(t, http.StatusForbidden, serve(http.MethodDelete, "/api/v0/users/me", alice).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(http.MethodGet, "/api/v0/users/me", nil).Code)

	authz.mu.RLock()
	defer authz.mu.RUnlock()
	assert.Equal(t, []string{"a@x.com GET /api/v0/users/me", "a@x.com DELETE /api/v0/users/me"}, authz.calls)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", auth.ErrNotFound), http.StatusUnauthorized},
		{fmt.Errorf("x: %w", auth.ErrWrongCredential), http.StatusUnauthorized},
		{fmt.Errorf("x: %w", auth.ErrInvalid), http.StatusUnauthorized},
		{fmt.Errorf("x: %w", auth.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("x: %w", lock.ErrDenied), http.StatusConflict},
		{fmt.Errorf("x: %w", lock.ErrUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("x: %w", cache.ErrUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}

	rec := httptest.NewRecorder()
	WriteError(rec, fmt.Errorf("x: %w", cache.ErrUnavailable))
	assert.Equal(t, RetryAfterSeconds, rec.Header().Get("Retry-After"))
	assert.Equal(t, "service temporarily unavailable", decodeDetail(t, rec))
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(RequestLogger(logger, nil))
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "request", line["msg"])
	assert.Equal(t, "/items/42", line["path"])
	assert.Equal(t, "/items/{id}", line["route"])
	assert.Equal(t, float64(http.StatusTeapot), line["status"])
}
