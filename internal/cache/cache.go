// Package cache wraps the Redis cache keyspace: plain string entries with
// TTLs, JSON snapshots, and sorted sets whose compound updates run as Lua
// scripts so concurrent callers never observe a half-applied sequence.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps connection-level failures talking to Redis.
var ErrUnavailable = errors.New("cache unavailable")

// Key prefixes of the cache keyspace.
const (
	RefreshTokenPrefix = "RefreshToken:"
	PrincipalPrefix    = "Cache:Principal:"
	RulesAllKey        = "Cache:Rules:all"
)

// RefreshTokenKey is the tracked refresh-token set of principal.
func RefreshTokenKey(principal string) string { return RefreshTokenPrefix + principal }

// PrincipalKey is the cached principal record.
func PrincipalKey(principal string) string { return PrincipalPrefix + principal }

// Cache is a thin typed layer over a go-redis client.
type Cache struct {
	client redis.UniversalClient
}

// New wraps client. The caller owns the client and closes it.
func New(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// Client exposes the underlying client for health checks.
func (c *Cache) Client() redis.UniversalClient { return c.client }

// classify maps go-redis errors: misses become nil, server replies and
// context errors pass through, anything else is ErrUnavailable.
func classify(op string, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return fmt.Errorf("cache %s: %w", op, err)
	}
	return fmt.Errorf("cache %s: %w: %w", op, ErrUnavailable, err)
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return classify("ping", c.client.Ping(ctx).Err())
}

// Set stores value under key. A ttl <= 0 stores without expiry.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return classify("set", c.client.Set(ctx, key, value, ttl).Err())
}

// Get returns the value and whether it was present. When refreshTTL > 0 the
// key's TTL is extended to refreshTTL on a hit, but only if that lengthens it;
// keys without expiry are left alone.
func (c *Cache) Get(ctx context.Context, key string, refreshTTL time.Duration) ([]byte, bool, error) {
	var (
		val string
		err error
	)
	if refreshTTL > 0 {
		val, err = getRefreshScript.Run(ctx, c.client, []string{key}, refreshTTL.Milliseconds()).Text()
	} else {
		val, err = c.client.Get(ctx, key).Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("get", err)
	}
	return []byte(val), true, nil
}

// Delete removes keys. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return classify("delete", c.client.Del(ctx, keys...).Err())
}

// SetJSON marshals v and stores it.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

// GetJSON loads key into v. It reports false on a miss. An undecodable entry
// is deleted and reported as a miss.
func (c *Cache) GetJSON(ctx context.Context, key string, refreshTTL time.Duration, v any) (bool, error) {
	data, ok, err := c.Get(ctx, key, refreshTTL)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		_ = c.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

// ZAdd sets member's score. With onlyIfGreater an existing member is only
// updated when score is higher; new members are always added.
func (c *Cache) ZAdd(ctx context.Context, key, member string, score float64, onlyIfGreater bool) error {
	z := redis.Z{Score: score, Member: member}
	if onlyIfGreater {
		return classify("zadd", c.client.ZAddGT(ctx, key, z).Err())
	}
	return classify("zadd", c.client.ZAdd(ctx, key, z).Err())
}

// ZRem removes member and reports whether it was present.
func (c *Cache) ZRem(ctx context.Context, key, member string) (bool, error) {
	n, err := c.client.ZRem(ctx, key, member).Result()
	if err != nil {
		return false, classify("zrem", err)
	}
	return n > 0, nil
}

// ZRemRangeByScore removes members with min <= score <= max.
func (c *Cache) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	n, err := c.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Result()
	if err != nil {
		return 0, classify("zremrangebyscore", err)
	}
	return n, nil
}

// ZScore returns member's score and whether it is present.
func (c *Cache) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := c.client.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify("zscore", err)
	}
	return score, true, nil
}

// ExpireAt sets an absolute expiry on key.
func (c *Cache) ExpireAt(ctx context.Context, key string, at time.Time) error {
	return classify("expireat", c.client.ExpireAt(ctx, key, at).Err())
}

// TrackMember adds member with score (only if greater), prunes members
// scored at or below pruneBefore, and moves the key expiry to the highest
// remaining score. All three steps run as one script.
func (c *Cache) TrackMember(ctx context.Context, key, member string, score, pruneBefore float64) error {
	err := trackScript.Run(ctx, c.client, []string{key}, member, formatScore(score), formatScore(pruneBefore)).Err()
	return classify("track member", err)
}

// ConsumeMember prunes members scored at or below pruneBefore and then
// removes member, reporting whether this call removed it. Of any number of
// concurrent callers for the same member at most one sees true.
func (c *Cache) ConsumeMember(ctx context.Context, key, member string, pruneBefore float64) (bool, error) {
	n, err := consumeScript.Run(ctx, c.client, []string{key}, member, formatScore(pruneBefore)).Int64()
	if err != nil {
		return false, classify("consume member", err)
	}
	return n == 1, nil
}

// HasMember prunes like ConsumeMember and reports whether member is still present.
func (c *Cache) HasMember(ctx context.Context, key, member string, pruneBefore float64) (bool, error) {
	n, err := hasScript.Run(ctx, c.client, []string{key}, member, formatScore(pruneBefore)).Int64()
	if err != nil {
		return false, classify("has member", err)
	}
	return n == 1, nil
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
