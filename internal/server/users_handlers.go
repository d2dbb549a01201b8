package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hiennguyen9874/api-base-project/internal/auth"
	"github.com/hiennguyen9874/api-base-project/internal/db/models"
)

// userView is the public form of a principal; it never carries the hash.
type userView struct {
	ID            string               `json:"id"`
	Email         string               `json:"email"`
	FullName      string               `json:"full_name"`
	IsActive      bool                 `json:"is_active"`
	AccountStatus models.AccountStatus `json:"account_status"`
	LastLoginAt   *time.Time           `json:"last_login_at"`
	CreatedAt     time.Time            `json:"created_at"`
	Roles         []string             `json:"roles"`
}

type roleLister interface {
	RolesFor(ctx context.Context, principal string) ([]string, error)
}

// HandleMe handles GET /v0/users/me.
func HandleMe(principals principalReader, roles roleLister, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, ok := auth.GetPrincipalFromContext(r.Context())
		if !ok {
			writeError(w, r, logger, auth.ErrUnauthenticated)
			return
		}

		p, err := principals.GetByEmail(r.Context(), current.Email)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		rs, err := roles.RolesFor(r.Context(), p.Email)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		if rs == nil {
			rs = []string{}
		}

		writeData(w, userView{
			ID:            p.ID,
			Email:         p.Email,
			FullName:      p.FullName,
			IsActive:      p.IsActive,
			AccountStatus: p.AccountStatus,
			LastLoginAt:   p.LastLoginAt,
			CreatedAt:     p.CreatedAt,
			Roles:         rs,
		})
	}
}
