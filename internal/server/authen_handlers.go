package server

import (
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/hiennguyen9874/api-base-project/internal/auth"
	"github.com/hiennguyen9874/api-base-project/internal/middleware"
)

// RefreshTokenCookie and RefreshTokenHeader carry the refresh token. The
// cookie wins when both are present.
const (
	RefreshTokenCookie = "refresh_token"
	RefreshTokenHeader = "refresh_token"
)

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// readCredentials accepts an OAuth2 password form (username, password) or a
// JSON body with email or username.
func readCredentials(r *http.Request) (string, string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var req loginRequest
	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
		parse := r.ParseForm
		if ct == "multipart/form-data" {
			parse = func() error { return r.ParseMultipartForm(maxBodyBytes) }
		}
		if err := parse(); err != nil {
			return "", "", errBadRequest
		}
		req.Username = r.PostForm.Get("username")
		req.Email = r.PostForm.Get("email")
		req.Password = r.PostForm.Get("password")
	default:
		if err := decodeJSON(r, &req); err != nil {
			return "", "", err
		}
	}

	email := req.Email
	if email == "" {
		email = req.Username
	}
	if email == "" || req.Password == "" {
		return "", "", errBadRequest
	}
	return email, req.Password, nil
}

// refreshToken reads the refresh token from its cookie, then its header.
func refreshToken(r *http.Request) (string, bool) {
	if c, err := r.Cookie(RefreshTokenCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	if v := r.Header.Get(RefreshTokenHeader); v != "" {
		return v, true
	}
	return "", false
}

func tokenCookie(r *http.Request, name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
}

func setTokenCookies(w http.ResponseWriter, r *http.Request, pair auth.TokenPair) {
	http.SetCookie(w, tokenCookie(r, middleware.AccessTokenCookie, pair.AccessToken, pair.AccessExpiresAt))
	http.SetCookie(w, tokenCookie(r, RefreshTokenCookie, pair.RefreshToken, pair.RefreshExpiresAt))
}

func clearTokenCookies(w http.ResponseWriter, r *http.Request) {
	for _, name := range []string{middleware.AccessTokenCookie, RefreshTokenCookie} {
		c := tokenCookie(r, name, "", time.Unix(0, 0))
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

// HandleLogin handles POST /v0/authen/login.
func HandleLogin(sessions sessionService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, password, err := readCredentials(r)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}

		pair, err := sessions.Login(r.Context(), email, password)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		setTokenCookies(w, r, pair)
		writeJSON(w, http.StatusOK, pair)
	}
}

// HandleRefresh handles POST /v0/authen/refresh. The presented token is
// consumed; a second use answers 401.
func HandleRefresh(sessions sessionService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := refreshToken(r)
		if !ok {
			writeError(w, r, logger, auth.ErrUnauthenticated)
			return
		}

		pair, err := sessions.Refresh(r.Context(), token)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		setTokenCookies(w, r, pair)
		writeData(w, pair)
	}
}

// HandleLogout handles POST /v0/authen/logout.
func HandleLogout(sessions sessionService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := refreshToken(r)
		if !ok {
			writeError(w, r, logger, auth.ErrUnauthenticated)
			return
		}
		if err := sessions.Logout(r.Context(), token); err != nil {
			writeError(w, r, logger, err)
			return
		}
		clearTokenCookies(w, r)
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleLogoutAll handles POST /v0/authen/logout-all. Every refresh token of
// the principal named by the presented token is revoked.
func HandleLogoutAll(sessions sessionService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := refreshToken(r)
		if !ok {
			writeError(w, r, logger, auth.ErrUnauthenticated)
			return
		}
		if err := sessions.LogoutAllWithToken(r.Context(), token); err != nil {
			writeError(w, r, logger, err)
			return
		}
		clearTokenCookies(w, r)
		w.WriteHeader(http.StatusNoContent)
	}
}
