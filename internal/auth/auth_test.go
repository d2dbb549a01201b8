package auth

import (
	"context"
	"testing"

	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	assert.True(t, VerifyPassword("s3cret", hash))
	assert.False(t, VerifyPassword("wrong", hash))
	assert.False(t, VerifyPassword("s3cret", "not-a-bcrypt-hash"))
	assert.False(t, VerifyPassword("s3cret", ""))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path, prefix, want string
	}{
		{"/api/v0/users/me", "/api", "/v0/users/me/"},
		{"/api/v0/users/me/", "/api", "/v0/users/me/"},
		{"/v0/items", "/api", "/v0/items/"},
		{"/api", "/api", "/"},
		{"", "", "/"},
		{"v0/items", "", "/v0/items/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePath(tt.path, tt.prefix), tt.path)
	}
}

func TestPrincipalContext(t *testing.T) {
	_, ok := GetPrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := SetPrincipalContext(context.Background(), AuthenticatedPrincipal{Email: "a@x.com"})
	p, ok := GetPrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "a@x.com", p.Email)
}

func TestEmbeddedModelWithBaseline(t *testing.T) {
	enforcer, err := NewEnforcer("", fileadapter.NewAdapter("../../configs/rbac_policy.csv"))
	require.NoError(t, err)

	_, err = enforcer.AddRoleForUser("alice@x.com", "role:user")
	require.NoError(t, err)
	_, err = enforcer.AddRoleForUser("root@x.com", "role:admin")
	require.NoError(t, err)

	tests := []struct {
		sub, obj, act string
		want          bool
	}{
		{"alice@x.com", "/v0/users/me/", "GET", true},
		{"alice@x.com", "/v0/users/me/", "DELETE", false},
		{"alice@x.com", "/v0/author/policy/", "GET", false},
		{"root@x.com", "/v0/author/policy/", "DELETE", true},
		{"root@x.com", "/v0/users/me/", "GET", true},
		{"nobody@x.com", "/v0/users/me/", "GET", false},
	}
	for _, tt := range tests {
		ok, err := enforcer.Enforce(tt.sub, tt.obj, tt.act)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "%s %s %s", tt.sub, tt.act, tt.obj)
	}
}
