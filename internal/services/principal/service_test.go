package principal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiennguyen9874/api-base-project/internal/auth"
	"github.com/hiennguyen9874/api-base-project/internal/cache"
	"github.com/hiennguyen9874/api-base-project/internal/db/dbtest"
	"github.com/hiennguyen9874/api-base-project/internal/db/models"
	"github.com/hiennguyen9874/api-base-project/internal/repository"
)

type mockRoleAssigner struct {
	mu     sync.RWMutex
	grants map[string][]string
}

func (m *mockRoleAssigner) AssignRole(_ context.Context, principal, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grants == nil {
		m.grants = map[string][]string{}
	}
	m.grants[principal] = append(m.grants[principal], role)
	return nil
}

func (m *mockRoleAssigner) rolesOf(principal string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grants[principal]
}

type fixture struct {
	svc   *Service
	repo  *repository.BunPrincipalRepository
	roles *mockRoleAssigner
	mr    *miniredis.Miniredis
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.NewSQLite(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := repository.NewBunPrincipalRepository(db)
	roles := &mockRoleAssigner{}
	svc := NewService(repo, cache.New(client), roles, Config{CacheTTL: time.Hour, DefaultRole: "role:user"}, nil)
	return fixture{svc: svc, repo: repo, roles: roles, mr: mr}
}

func TestService_CreateGrantsDefaultRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, CreateInput{Email: " A@X.com ", Password: "pw", FullName: "A"})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", p.Email)
	assert.True(t, p.IsActive)
	assert.True(t, auth.VerifyPassword("pw", p.PasswordHash))
	assert.Equal(t, []string{"role:user"}, f.roles.rolesOf("a@x.com"))

	_, err = f.svc.Create(ctx, CreateInput{Email: "a@x.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = f.svc.Create(ctx, CreateInput{Email: "root@x.com", Password: "pw", Role: "role:admin"})
	require.NoError(t, err)
	assert.Equal(t, []string{"role:admin"}, f.roles.rolesOf("root@x.com"))
}

func TestService_GetByEmailReadThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{Email: "a@x.com", Password: "pw"})
	require.NoError(t, err)
	assert.False(t, f.mr.Exists("Cache:Principal:a@x.com"))

	got, err := f.svc.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.True(t, f.mr.Exists("Cache:Principal:a@x.com"))
	assert.True(t, auth.VerifyPassword("pw", got.PasswordHash), "cached entry keeps the hash used by login")

	// a write that bypasses the service is not seen until the entry goes away
	row, err := f.repo.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	row.FullName = "changed"
	require.NoError(t, f.repo.Update(ctx, row))

	got, err = f.svc.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Empty(t, got.FullName)

	require.NoError(t, f.svc.SetActive(ctx, "a@x.com", false))
	assert.False(t, f.mr.Exists("Cache:Principal:a@x.com"))

	got, err = f.svc.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, "changed", got.FullName)
}

func TestService_Mutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, CreateInput{Email: "a@x.com", Password: "pw"})
	require.NoError(t, err)

	require.NoError(t, f.svc.SetPassword(ctx, "a@x.com", "new"))
	got, err := f.svc.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, auth.VerifyPassword("new", got.PasswordHash))

	require.NoError(t, f.svc.SetStatus(ctx, "a@x.com", models.AccountStatusSuspended))
	got, err = f.svc.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, got.CanAuthenticate())
	assert.Error(t, f.svc.SetStatus(ctx, "a@x.com", "BOGUS"))

	require.NoError(t, f.svc.TouchLastLogin(ctx, p))
	got, err = f.svc.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.NotNil(t, got.LastLoginAt)

	require.NoError(t, f.svc.Delete(ctx, "a@x.com"))
	_, err = f.svc.GetByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	assert.ErrorIs(t, f.svc.SetActive(ctx, "a@x.com", true), auth.ErrNotFound)
}

func TestService_CacheOutageFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{Email: "a@x.com", Password: "pw"})
	require.NoError(t, err)

	f.mr.Close()

	got, err := f.svc.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", got.Email)

	err = f.svc.SetActive(ctx, "a@x.com", false)
	assert.ErrorIs(t, err, cache.ErrUnavailable, "a write whose invalidation failed is reported")
}
