package cache

import "github.com/redis/go-redis/v9"

// KEYS[1] key, ARGV[1] ttl in milliseconds
var getRefreshScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return false
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl >= 0 and ttl < tonumber(ARGV[1]) then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return v
`)

// KEYS[1] set, ARGV[1] member, ARGV[2] score, ARGV[3] prune cutoff
var trackScript = redis.NewScript(`
local cur = redis.call('ZSCORE', KEYS[1], ARGV[1])
if (not cur) or tonumber(ARGV[2]) > tonumber(cur) then
  redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
end
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[3])
local top = redis.call('ZRANGE', KEYS[1], -1, -1, 'WITHSCORES')
if top[2] then
  redis.call('EXPIREAT', KEYS[1], math.ceil(tonumber(top[2])))
end
return 1
`)

// KEYS[1] set, ARGV[1] member, ARGV[2] prune cutoff
var consumeScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
return redis.call('ZREM', KEYS[1], ARGV[1])
`)

// KEYS[1] set, ARGV[1] member, ARGV[2] prune cutoff
var hasScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  return 1
end
return 0
`)
