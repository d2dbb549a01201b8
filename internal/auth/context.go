package auth

import "context"

// AuthenticatedPrincipal is the verified identity attached to a request.
type AuthenticatedPrincipal struct {
	ID       string
	Email    string
	FullName string
	// TokenID is the jti of the access token that authenticated the request.
	TokenID string
}

type principalContextKey struct{}

// SetPrincipalContext stores the authenticated principal on the context.
func SetPrincipalContext(ctx context.Context, principal AuthenticatedPrincipal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// GetPrincipalFromContext retrieves the authenticated principal from the context.
func GetPrincipalFromContext(ctx context.Context) (AuthenticatedPrincipal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(AuthenticatedPrincipal)
	return principal, ok
}
