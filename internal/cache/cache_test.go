package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), m
}

func TestCache_SetGetDelete(t *testing.T) {
	c, m := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	assert.Equal(t, time.Minute, m.TTL("k"))

	val, ok, err := c.Get(ctx, "k", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, c.Delete(ctx, "k", "missing"))
	_, ok, err = c.Get(ctx, "k", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Second))
	m.FastForward(2 * time.Second)
	_, ok, err = c.Get(ctx, "short", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_GetRefreshesTTLOnlyUpward(t *testing.T) {
	c, m := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 10*time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("v"), 2*time.Hour))
	require.NoError(t, c.Set(ctx, "forever", []byte("v"), 0))

	for _, key := range []string{"short", "long", "forever"} {
		_, ok, err := c.Get(ctx, key, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}

	assert.Equal(t, time.Hour, m.TTL("short"))
	assert.Equal(t, 2*time.Hour, m.TTL("long"))
	assert.Equal(t, time.Duration(0), m.TTL("forever"))

	_, ok, err := c.Get(ctx, "absent", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_JSON(t *testing.T) {
	c, m := newTestCache(t)
	ctx := context.Background()

	type item struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.SetJSON(ctx, "j", item{Name: "x"}, time.Minute))

	var got item
	ok, err := c.GetJSON(ctx, "j", 0, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", got.Name)

	require.NoError(t, m.Set("bad", "{not json"))
	ok, err = c.GetJSON(ctx, "bad", 0, &got)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, m.Exists("bad"))
}

func TestCache_SortedSetPrimitives(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.ZAdd(ctx, "z", "a", 10, false))
	require.NoError(t, c.ZAdd(ctx, "z", "a", 5, true))
	score, ok, err := c.ZScore(ctx, "z", "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, float64(10), score)

	require.NoError(t, c.ZAdd(ctx, "z", "a", 20, true))
	score, _, err = c.ZScore(ctx, "z", "a")
	require.NoError(t, err)
	assert.Equal(t, float64(20), score)

	require.NoError(t, c.ZAdd(ctx, "z", "b", 1, true))
	n, err := c.ZRemRangeByScore(ctx, "z", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	removed, err := c.ZRem(ctx, "z", "a")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = c.ZRem(ctx, "z", "a")
	require.NoError(t, err)
	assert.False(t, removed)

	_, ok, err = c.ZScore(ctx, "z", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_ExpireAt(t *testing.T) {
	c, m := newTestCache(t)
	ctx := context.Background()

	now := time.Now()
	m.SetTime(now)
	require.NoError(t, c.ZAdd(ctx, "z", "a", 1, false))
	require.NoError(t, c.ExpireAt(ctx, "z", now.Add(time.Hour)))
	assert.InDelta(t, time.Hour.Seconds(), m.TTL("z").Seconds(), 1)
}

func TestCache_TrackMemberPrunesAndExtends(t *testing.T) {
	c, m := newTestCache(t)
	ctx := context.Background()

	now := time.Now()
	m.SetTime(now)
	cutoff := float64(now.Add(-time.Minute).Unix())

	require.NoError(t, c.TrackMember(ctx, "set", "old", float64(now.Add(-time.Hour).Unix()), cutoff))
	require.NoError(t, c.TrackMember(ctx, "set", "t1", float64(now.Add(time.Hour).Unix()), cutoff))
	require.NoError(t, c.TrackMember(ctx, "set", "t2", float64(now.Add(2*time.Hour).Unix()), cutoff))

	members, err := m.ZMembers("set")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2"}, members)
	assert.InDelta(t, (2 * time.Hour).Seconds(), m.TTL("set").Seconds(), 2)

	// a lower score never shrinks an existing member
	require.NoError(t, c.TrackMember(ctx, "set", "t2", float64(now.Unix()), cutoff))
	score, err := m.ZScore("set", "t2")
	require.NoError(t, err)
	assert.Equal(t, float64(now.Add(2*time.Hour).Unix()), score)
}

func TestCache_ConsumeMemberIsSingleUse(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	now := time.Now()
	cutoff := float64(now.Add(-time.Minute).Unix())
	require.NoError(t, c.TrackMember(ctx, "set", "tok", float64(now.Add(time.Hour).Unix()), cutoff))

	has, err := c.HasMember(ctx, "set", "tok", cutoff)
	require.NoError(t, err)
	assert.True(t, has)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.ConsumeMember(ctx, "set", "tok", cutoff)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	has, err = c.HasMember(ctx, "set", "tok", cutoff)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestCache_ConsumeMemberPrunesExpired(t *testing.T) {
	c, m := newTestCache(t)
	ctx := context.Background()

	_, err := m.ZAdd("set", 100, "stale")
	require.NoError(t, err)

	ok, err := c.ConsumeMember(ctx, "set", "stale", 200)
	require.NoError(t, err)
	assert.False(t, ok, "a member below the cutoff is pruned, not consumed")
}

func TestCache_UnavailableIsDistinct(t *testing.T) {
	m, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1})
	defer client.Close()
	c := New(client)
	m.Close()

	err = c.Set(context.Background(), "k", []byte("v"), 0)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, _, err = c.Get(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "RefreshToken:a@x.com", RefreshTokenKey("a@x.com"))
	assert.Equal(t, "Cache:Principal:a@x.com", PrincipalKey("a@x.com"))
}
