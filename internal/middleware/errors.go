package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hiennguyen9874/api-base-project/internal/auth"
	"github.com/hiennguyen9874/api-base-project/internal/cache"
	"github.com/hiennguyen9874/api-base-project/internal/lock"
)

// RetryAfterSeconds is sent with 503 responses caused by a store outage.
const RetryAfterSeconds = "5"

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// StatusFor maps a domain error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, auth.ErrNotFound),
		errors.Is(err, auth.ErrWrongCredential),
		errors.Is(err, auth.ErrExpired),
		errors.Is(err, auth.ErrInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrInactive), errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, lock.ErrDenied):
		return http.StatusConflict
	case errors.Is(err, lock.ErrUnavailable), errors.Is(err, cache.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// detailFor keeps credential failures indistinguishable to the client.
func detailFor(status int, err error) string {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return "not authenticated"
	case errors.Is(err, auth.ErrExpired):
		return "token expired"
	case errors.Is(err, auth.ErrInactive):
		return "inactive principal"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	case status == http.StatusUnauthorized:
		return "could not validate credentials"
	case status == http.StatusConflict:
		return "resource busy"
	case status == http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	default:
		return http.StatusText(status)
	}
}

// WriteError renders err as JSON with the status from StatusFor.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	WriteErrorStatus(w, status, detailFor(status, err))
}

// WriteErrorStatus renders a plain error detail with status.
func WriteErrorStatus(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	switch status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", "Bearer")
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", RetryAfterSeconds)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Detail: detail})
}
