package policy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/hiennguyen9874/api-base-project/internal/cache"
	"github.com/hiennguyen9874/api-base-project/internal/db/dbtest"
	"github.com/hiennguyen9874/api-base-project/internal/db/models"
	"github.com/hiennguyen9874/api-base-project/internal/lock"
	"github.com/hiennguyen9874/api-base-project/internal/repository"
)

const baselinePath = "../../../configs/rbac_policy.csv"

type fixture struct {
	db     *bun.DB
	store  *Store
	cache  *cache.Cache
	locks  *lock.Manager
	mr     *miniredis.Miniredis
	lockMR *miniredis.Miniredis
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.NewSQLite(t)

	mr := miniredis.RunT(t)
	cacheClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cacheClient.Close() })

	lockMR := miniredis.RunT(t)
	lockClient := redis.NewClient(&redis.Options{Addr: lockMR.Addr()})
	t.Cleanup(func() { _ = lockClient.Close() })

	c := cache.New(cacheClient)
	return fixture{
		db:     db,
		store:  NewStore(repository.NewBunPolicyRuleRepository(db), c, time.Hour, nil),
		cache:  c,
		locks:  lock.NewManager(lockClient, nil, nil),
		mr:     mr,
		lockMR: lockMR,
	}
}

func (f fixture) engine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(f.store, f.locks, EngineConfig{
		APIPrefix:         "/api",
		SavePolicyHold:    time.Minute,
		SavePolicyAcquire: 200 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return e
}

func rule(ptype string, values ...string) *models.PolicyRule {
	return models.NewPolicyRule(ptype, values)
}

func lines(rules []models.PolicyRule) []string {
	out := make([]string, 0, len(rules))
	for i := range rules {
		out = append(out, rules[i].Line())
	}
	return out
}

func TestStore_LoadAllReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rules, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
	assert.False(t, f.mr.Exists(cache.RulesAllKey), "empty result must not be cached")

	added, err := f.store.Add(ctx, rule("p", "alice", "/data/", "GET"))
	require.NoError(t, err)
	assert.True(t, added)

	rules, err = f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p, alice, /data/, GET"}, lines(rules))
	assert.True(t, f.mr.Exists(cache.RulesAllKey))

	// a write that bypasses the store is invisible until the snapshot goes
	_, err = repository.NewBunPolicyRuleRepository(f.db).Add(ctx, rule("p", "bob", "/data/", "GET"))
	require.NoError(t, err)
	rules, err = f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	require.NoError(t, f.store.Invalidate(ctx))
	rules, err = f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}

func TestStore_MutationsInvalidateSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Add(ctx,
		rule("p", "x", "admin", "GET"),
		rule("p", "y", "user", "GET"),
		rule("g", "a@x.com", "role:user"),
	)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func() (bool, error)
		want   []string
	}{
		{
			name:   "add",
			mutate: func() (bool, error) { return f.store.Add(ctx, rule("p", "z", "user", "POST")) },
			want:   []string{"p, x, admin, GET", "p, y, user, GET", "g, a@x.com, role:user", "p, z, user, POST"},
		},
		{
			name:   "remove",
			mutate: func() (bool, error) { return f.store.Remove(ctx, rule("p", "z", "user", "POST")) },
			want:   []string{"p, x, admin, GET", "p, y, user, GET", "g, a@x.com, role:user"},
		},
		{
			name: "update",
			mutate: func() (bool, error) {
				return f.store.Update(ctx, []*models.PolicyRule{rule("p", "y", "user", "GET")}, []*models.PolicyRule{rule("p", "y", "user", "PUT")})
			},
			want: []string{"p, x, admin, GET", "p, y, user, PUT", "g, a@x.com, role:user"},
		},
		{
			name:   "remove filtered",
			mutate: func() (bool, error) { return f.store.RemoveFiltered(ctx, "g", 0, "a@x.com") },
			want:   []string{"p, x, admin, GET", "p, y, user, PUT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.store.LoadAll(ctx)
			require.NoError(t, err)
			require.True(t, f.mr.Exists(cache.RulesAllKey))

			changed, err := tt.mutate()
			require.NoError(t, err)
			assert.True(t, changed)
			assert.False(t, f.mr.Exists(cache.RulesAllKey))

			rules, err := f.store.LoadAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, lines(rules))
		})
	}
}

func TestStore_RemoveFilteredExample(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Add(ctx, rule("p", "x", "admin", "GET"), rule("p", "y", "user", "GET"))
	require.NoError(t, err)

	removed, err := f.store.RemoveFiltered(ctx, "p", 7, "admin")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = f.store.RemoveFiltered(ctx, "p", 1, "admin")
	require.NoError(t, err)
	assert.True(t, removed)

	rules, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p, y, user, GET"}, lines(rules))

	removed, err = f.store.RemoveFiltered(ctx, "p", 1, "admin")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestStore_AddIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	added, err := f.store.Add(ctx, rule("p", "alice", "/data/", "GET"))
	require.NoError(t, err)
	assert.True(t, added)

	_, err = f.store.LoadAll(ctx)
	require.NoError(t, err)

	added, err = f.store.Add(ctx, rule("p", "alice", "/data/", "GET"))
	require.NoError(t, err)
	assert.False(t, added)
	assert.True(t, f.mr.Exists(cache.RulesAllKey), "no-op write keeps the snapshot")
}

func TestStore_UpdateFilteredReturnsReplaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Add(ctx, rule("p", "alice", "/a/", "GET"), rule("p", "alice", "/b/", "GET"), rule("p", "bob", "/a/", "GET"))
	require.NoError(t, err)
	_, err = f.store.LoadAll(ctx)
	require.NoError(t, err)

	replaced, err := f.store.UpdateFiltered(ctx, "p", 0, []string{"alice"}, []*models.PolicyRule{rule("p", "alice", "/c/", "POST")})
	require.NoError(t, err)
	assert.Equal(t, []string{"p, alice, /a/, GET", "p, alice, /b/, GET"}, lines(replaced))
	assert.False(t, f.mr.Exists(cache.RulesAllKey))

	rules, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p, bob, /a/, GET", "p, alice, /c/, POST"}, lines(rules))
}

func TestStore_LoadAllSurvivesCacheOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Add(ctx, rule("p", "alice", "/data/", "GET"))
	require.NoError(t, err)

	f.mr.Close()

	rules, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	_, err = f.store.Add(ctx, rule("p", "bob", "/data/", "GET"))
	assert.ErrorIs(t, err, cache.ErrUnavailable, "a write that cannot invalidate must say so")
}

func TestStore_SaveAllReplacesTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Add(ctx, rule("p", "old", "/x/", "GET"))
	require.NoError(t, err)
	_, err = f.store.LoadAll(ctx)
	require.NoError(t, err)

	require.NoError(t, f.store.SaveAll(ctx, []*models.PolicyRule{rule("p", "new", "/y/", "GET"), rule("g", "a", "b")}))
	assert.False(t, f.mr.Exists(cache.RulesAllKey))

	rules, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p, new, /y/, GET", "g, a, b"}, lines(rules))

	page, total, err := f.store.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"g, a, b"}, lines(page))
}
