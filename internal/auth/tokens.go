package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType is carried in the typ claim so an access token can never be
// presented as a refresh token or the other way round.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the signed claim set of both token kinds.
type Claims struct {
	Type TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Expiry returns the exp claim, or the zero time when absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// TokenPair is the result of login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenType        string    `json:"token_type"`
}

// TokenIssuerConfig holds signing secrets and lifetimes.
type TokenIssuerConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// TokenIssuer mints and verifies HS256 access/refresh tokens.
type TokenIssuer struct {
	cfg TokenIssuerConfig
	now func() time.Time
}

// NewTokenIssuer validates cfg and returns an issuer using the wall clock.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, fmt.Errorf("token issuer: secrets are required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("token issuer: ttls must be positive")
	}
	return &TokenIssuer{cfg: cfg, now: time.Now}, nil
}

// WithClock returns a copy of the issuer that reads time from now.
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	cp := *t
	cp.now = now
	return &cp
}

// Now is the issuer's clock in UTC.
func (t *TokenIssuer) Now() time.Time {
	return t.now().UTC()
}

// Mint creates a fresh access/refresh pair for subject. Each token gets a
// random jti, so two pairs minted in the same second never collide.
func (t *TokenIssuer) Mint(subject string) (TokenPair, error) {
	now := t.Now().Truncate(time.Second)

	access, accessExp, err := t.sign(subject, TokenTypeAccess, now, t.cfg.AccessTTL, t.cfg.AccessSecret)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := t.sign(subject, TokenTypeRefresh, now, t.cfg.RefreshTTL, t.cfg.RefreshSecret)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		TokenType:        "bearer",
	}, nil
}

func (t *TokenIssuer) sign(subject string, typ TokenType, now time.Time, ttl time.Duration, secret string) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    t.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, exp, nil
}

// ParseAccess verifies signature, type and expiry of an access token.
func (t *TokenIssuer) ParseAccess(token string) (*Claims, error) {
	return t.parse(token, TokenTypeAccess, t.cfg.AccessSecret, true)
}

// ParseRefresh verifies signature, type and expiry of a refresh token.
func (t *TokenIssuer) ParseRefresh(token string) (*Claims, error) {
	return t.parse(token, TokenTypeRefresh, t.cfg.RefreshSecret, true)
}

// ParseRefreshIgnoringExpiry verifies signature and type only. Logout uses it
// to identify the principal behind an already-expired token.
func (t *TokenIssuer) ParseRefreshIgnoringExpiry(token string) (*Claims, error) {
	return t.parse(token, TokenTypeRefresh, t.cfg.RefreshSecret, false)
}

func (t *TokenIssuer) parse(token string, typ TokenType, secret string, checkExpiry bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.Now),
	}
	if checkExpiry {
		opts = append(opts, jwt.WithExpirationRequired())
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s token: %w", typ, ErrExpired)
		}
		return nil, fmt.Errorf("%s token: %w: %v", typ, ErrInvalid, err)
	}
	if claims.Type != typ || claims.Subject == "" {
		return nil, fmt.Errorf("%s token: %w: unexpected claims", typ, ErrInvalid)
	}
	return claims, nil
}
