package policy

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiennguyen9874/api-base-project/internal/app"
	"github.com/hiennguyen9874/api-base-project/internal/auth"
	"github.com/hiennguyen9874/api-base-project/internal/config"
	"github.com/hiennguyen9874/api-base-project/internal/db/dbtest"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	cacheClient := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	lockClient := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	t.Cleanup(func() {
		_ = cacheClient.Close()
		_ = lockClient.Close()
	})

	cfg := &config.Config{
		Token: config.TokenConfig{
			AccessSecret:  "a",
			RefreshSecret: "r",
			AccessTTL:     time.Minute,
			RefreshTTL:    time.Hour,
		},
		Cache:  config.CacheConfig{PrincipalTTL: time.Hour, RulesTTL: time.Hour},
		Casbin: config.CasbinConfig{DefaultRole: "role:user"},
		Lock:   config.LockConfig{SavePolicyHold: 5 * time.Second, SavePolicyAcquire: 200 * time.Millisecond},
	}
	a, err := app.NewWithClients(cfg, app.Clients{DB: dbtest.NewSQLite(t), CacheClient: cacheClient, LockClient: lockClient}, nil)
	require.NoError(t, err)
	return a
}

func TestBootstrap_Idempotent(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	opts := bootstrapOptions{
		baseline: "../../configs/rbac_policy.csv",
		email:    "root@example.com",
		password: "root-pass",
		role:     "role:admin",
	}

	var out bytes.Buffer
	require.NoError(t, runBootstrap(ctx, a, opts, &out))
	assert.Contains(t, out.String(), "Created superuser root@example.com")
	assert.Contains(t, out.String(), "3 policies and 1 groupings added")

	out.Reset()
	require.NoError(t, runBootstrap(ctx, a, opts, &out))
	assert.Contains(t, out.String(), "already exists")
	assert.Contains(t, out.String(), "0 policies and 0 groupings added")

	require.NoError(t, a.Policy.Authorize(ctx, "root@example.com", "DELETE", "/api/v0/author/policy"))

	_, err := a.Sessions.Login(ctx, "root@example.com", "root-pass")
	require.NoError(t, err)
}

func TestBootstrap_MissingSuperuserNeedsPassword(t *testing.T) {
	a := newTestApp(t)

	err := runBootstrap(context.Background(), a, bootstrapOptions{
		baseline: "../../configs/rbac_policy.csv",
		email:    "root@example.com",
		role:     "role:admin",
	}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no password was given")

	_, err = a.Principals.GetByEmail(context.Background(), "root@example.com")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestPrintPolicy(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	_, err := a.Policy.Bootstrap(ctx, "../../configs/rbac_policy.csv")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printPolicy(ctx, a, &out))
	assert.Contains(t, out.String(), "p, role:user, /v0/users/me/, GET\n")
	assert.Contains(t, out.String(), "g, role:admin, role:user\n")

	out.Reset()
	require.NoError(t, savePolicy(ctx, a, &out))
	assert.Equal(t, "Policy saved\n", out.String())
}
