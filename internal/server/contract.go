package server

import (
	"context"

	"github.com/hiennguyen9874/api-base-project/internal/auth"
	"github.com/hiennguyen9874/api-base-project/internal/db/models"
	"github.com/hiennguyen9874/api-base-project/internal/middleware"
	"github.com/hiennguyen9874/api-base-project/internal/services/policy"
	"github.com/hiennguyen9874/api-base-project/internal/services/principal"
	"github.com/hiennguyen9874/api-base-project/internal/services/session"
)

// sessionService is the token lifecycle used by the authen handlers.
type sessionService interface {
	middleware.Authenticator
	Login(ctx context.Context, email, password string) (auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAllWithToken(ctx context.Context, refreshToken string) error
}

// principalReader backs the users handlers.
type principalReader interface {
	GetByEmail(ctx context.Context, email string) (*models.Principal, error)
}

// policyAdmin is the policy surface of the author handlers.
type policyAdmin interface {
	middleware.Authorizer
	Policies(ctx context.Context) ([]policy.Policy, error)
	PoliciesForRole(ctx context.Context, role string) ([]policy.Policy, error)
	AddPolicies(ctx context.Context, ps ...policy.Policy) (bool, error)
	UpdatePolicy(ctx context.Context, old, updated policy.Policy) error
	RemovePolicies(ctx context.Context, ps ...policy.Policy) (bool, error)
	Groups(ctx context.Context) ([]policy.Group, error)
	AssignRole(ctx context.Context, principal, role string) error
	RevokeRole(ctx context.Context, principal, role string) (bool, error)
	RolesFor(ctx context.Context, principal string) ([]string, error)
}

var (
	_ sessionService  = (*session.Manager)(nil)
	_ principalReader = (*principal.Service)(nil)
	_ policyAdmin     = (*policy.Engine)(nil)
)
