// Package session issues, rotates and revokes access/refresh token pairs.
//
// Access tokens are stateless. Refresh tokens are additionally tracked in
// the sorted set RefreshToken:<principal>, scored by expiry; a refresh token
// is usable only while it is both validly signed and a member of that set.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hiennguyen9874/api-base-project/internal/auth"
	"github.com/hiennguyen9874/api-base-project/internal/cache"
	"github.com/hiennguyen9874/api-base-project/internal/db/models"
	"github.com/hiennguyen9874/api-base-project/internal/telemetry"
)

const tracerName = "apibase/services/session"

// PrincipalStore is what the session manager needs from the principal service.
type PrincipalStore interface {
	GetByEmail(ctx context.Context, email string) (*models.Principal, error)
	TouchLastLogin(ctx context.Context, p *models.Principal) error
}

// Manager owns the refresh-token lifecycle.
type Manager struct {
	principals PrincipalStore
	cache      *cache.Cache
	tokens     *auth.TokenIssuer
	pruneGrace time.Duration
	metrics    *telemetry.AuthMetrics
	logger     *slog.Logger
}

// NewManager wires a manager. metrics may be nil.
func NewManager(principals PrincipalStore, c *cache.Cache, tokens *auth.TokenIssuer, pruneGrace time.Duration, metrics *telemetry.AuthMetrics, logger *slog.Logger) *Manager {
	return &Manager{
		principals: principals,
		cache:      c,
		tokens:     tokens,
		pruneGrace: pruneGrace,
		metrics:    metrics,
		logger:     telemetry.OrDefault(logger).With("component", "session"),
	}
}

// pruneCutoff is "now minus grace" in epoch seconds. Members scored at or
// below it are swept on every touch of the set.
func (m *Manager) pruneCutoff() float64 {
	return float64(m.tokens.Now().Add(-m.pruneGrace).Unix())
}

func (m *Manager) record(ctx context.Context, op string, start time.Time, err error) {
	m.metrics.RecordAuth(ctx, op, err == nil, float64(time.Since(start).Microseconds())/1000)
}

// Login verifies credentials and issues a tracked pair. Failures are
// auth.ErrNotFound, auth.ErrWrongCredential or auth.ErrInactive, checked in that order.
func (m *Manager) Login(ctx context.Context, email, password string) (pair auth.TokenPair, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "session.Login", attribute.String(telemetry.AttrPrincipal, email))
	defer span.End()
	defer func(start time.Time) {
		m.record(ctx, "login", start, err)
		telemetry.RecordError(span, err)
	}(time.Now())

	p, err := m.principals.GetByEmail(ctx, email)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if !auth.VerifyPassword(password, p.PasswordHash) {
		return auth.TokenPair{}, fmt.Errorf("login %s: %w", p.Email, auth.ErrWrongCredential)
	}
	if !p.CanAuthenticate() {
		return auth.TokenPair{}, fmt.Errorf("login %s: %w", p.Email, auth.ErrInactive)
	}

	pair, err = m.issue(ctx, p.Email)
	if err != nil {
		return auth.TokenPair{}, err
	}

	if err := m.principals.TouchLastLogin(ctx, p); err != nil {
		m.logger.Warn("record last login failed", "principal", p.Email, "error", err)
	}
	m.logger.Info("login", "principal", p.Email)
	return pair, nil
}

// IssueFor mints and tracks a pair for a principal that was verified elsewhere.
func (m *Manager) IssueFor(ctx context.Context, p *models.Principal) (auth.TokenPair, error) {
	if !p.CanAuthenticate() {
		return auth.TokenPair{}, fmt.Errorf("issue for %s: %w", p.Email, auth.ErrInactive)
	}
	return m.issue(ctx, p.Email)
}

func (m *Manager) issue(ctx context.Context, principal string) (auth.TokenPair, error) {
	pair, err := m.tokens.Mint(principal)
	if err != nil {
		return auth.TokenPair{}, err
	}
	score := float64(pair.RefreshExpiresAt.Unix())
	if err := m.cache.TrackMember(ctx, cache.RefreshTokenKey(principal), pair.RefreshToken, score, m.pruneCutoff()); err != nil {
		return auth.TokenPair{}, fmt.Errorf("track refresh token: %w", err)
	}
	return pair, nil
}

// Refresh rotates a refresh token. The old token is removed from the tracked
// set by the same atomic step that checks its membership, so of any number
// of concurrent calls with one token at most one succeeds; the rest get
// auth.ErrNotFound. The principal is looked up only after consumption, so a
// deactivated account loses the token as well as the refresh.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (pair auth.TokenPair, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "session.Refresh")
	defer span.End()
	defer func(start time.Time) {
		m.record(ctx, "refresh", start, err)
		telemetry.RecordError(span, err)
	}(time.Now())

	claims, err := m.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return auth.TokenPair{}, err
	}
	span.SetAttributes(attribute.String(telemetry.AttrPrincipal, claims.Subject))

	consumed, err := m.cache.ConsumeMember(ctx, cache.RefreshTokenKey(claims.Subject), refreshToken, m.pruneCutoff())
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("consume refresh token: %w", err)
	}
	if !consumed {
		return auth.TokenPair{}, fmt.Errorf("refresh token for %s: %w", claims.Subject, auth.ErrNotFound)
	}

	p, err := m.principals.GetByEmail(ctx, claims.Subject)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if !p.CanAuthenticate() {
		return auth.TokenPair{}, fmt.Errorf("refresh %s: %w", p.Email, auth.ErrInactive)
	}

	return m.issue(ctx, p.Email)
}

// Logout removes exactly one refresh token. Expired tokens are accepted
// here so a client can always clean up after itself.
func (m *Manager) Logout(ctx context.Context, refreshToken string) (err error) {
	defer func(start time.Time) { m.record(ctx, "logout", start, err) }(time.Now())

	claims, err := m.tokens.ParseRefreshIgnoringExpiry(refreshToken)
	if err != nil {
		return err
	}
	if _, err := m.cache.ZRem(ctx, cache.RefreshTokenKey(claims.Subject), refreshToken); err != nil {
		return fmt.Errorf("remove refresh token: %w", err)
	}
	return nil
}

// LogoutAll deletes the principal's whole tracked set. Access tokens already
// handed out stay valid until they expire.
func (m *Manager) LogoutAll(ctx context.Context, principal string) (err error) {
	defer func(start time.Time) { m.record(ctx, "logout_all", start, err) }(time.Now())

	if err := m.cache.Delete(ctx, cache.RefreshTokenKey(principal)); err != nil {
		return fmt.Errorf("revoke refresh tokens of %s: %w", principal, err)
	}
	m.logger.Info("logout all", "principal", principal)
	return nil
}

// LogoutAllWithToken is LogoutAll for the principal named by a refresh token.
func (m *Manager) LogoutAllWithToken(ctx context.Context, refreshToken string) error {
	claims, err := m.tokens.ParseRefreshIgnoringExpiry(refreshToken)
	if err != nil {
		return err
	}
	return m.LogoutAll(ctx, claims.Subject)
}

// VerifyAccess checks an access token's signature and expiry only.
func (m *Manager) VerifyAccess(token string) (*auth.Claims, error) {
	return m.tokens.ParseAccess(token)
}

// Authenticate resolves an access token to an active principal.
func (m *Manager) Authenticate(ctx context.Context, accessToken string) (*models.Principal, *auth.Claims, error) {
	claims, err := m.VerifyAccess(accessToken)
	if err != nil {
		return nil, nil, err
	}
	p, err := m.principals.GetByEmail(ctx, claims.Subject)
	if err != nil {
		return nil, nil, err
	}
	if !p.CanAuthenticate() {
		return nil, nil, fmt.Errorf("authenticate %s: %w", p.Email, auth.ErrInactive)
	}
	return p, claims, nil
}

// IsNotFound reports whether err is a principal or tracked-token miss.
func IsNotFound(err error) bool {
	return errors.Is(err, auth.ErrNotFound)
}
