package auth

import "errors"

var (
	// ErrNotFound covers an unknown principal and a refresh token that is not
	// (or no longer) tracked. Reuse of a consumed refresh token is reported
	// the same way so a replay cannot be told apart from a forgery.
	ErrNotFound = errors.New("not found")
	// ErrWrongCredential is a password mismatch.
	ErrWrongCredential = errors.New("wrong credential")
	// ErrInactive is a disabled or non-ACTIVE account.
	ErrInactive = errors.New("inactive principal")
	// ErrExpired is a token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrInvalid is a malformed token, bad signature or wrong token type.
	ErrInvalid = errors.New("invalid token")
	// ErrForbidden is a negative policy decision.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthenticated means no credential was presented.
	ErrUnauthenticated = errors.New("not authenticated")
)
