package ratelimiter

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript refills and consumes atomically using the server clock.
// KEYS[1] bucket hash; ARGV capacity, refill rate, interval ms, n, ttl ms.
// Returns {allowed, remaining, reset_at_ms}.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local n = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local t = redis.call('TIME')
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call('HMGET', KEYS[1], 'tokens', 'refill')
local tokens = tonumber(state[1])
local refill = tonumber(state[2])
if tokens == nil or refill == nil then
  tokens = capacity
  refill = now
end

local elapsed = math.floor((now - refill) / interval)
if elapsed > 0 then
  tokens = math.min(tokens + elapsed * rate, capacity)
  refill = refill + elapsed * interval
  if tokens == capacity then refill = now end
end

local allowed = 0
if tokens >= n then
  tokens = tokens - n
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'refill', refill)
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, tokens, refill + interval}
`)

// RedisStore shares buckets across replicas.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore panics if client is nil. Keys are prefix+"ratelimit:"+key.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if client == nil {
		panic("ratelimiter: redis client is required")
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Take(ctx context.Context, key string, n int, cfg Config) (Result, error) {
	ttl := max(cfg.idleTTL(), cfg.RefillInterval)
	raw, err := takeScript.Run(ctx, s.client, []string{s.prefix + "ratelimit:" + key},
		cfg.Capacity, cfg.RefillRate, cfg.RefillInterval.Milliseconds(), n, ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, errors.Join(ErrStoreUnavailable, err)
	}
	if len(raw) != 3 {
		return Result{}, errors.Join(ErrStoreUnavailable, errors.New("unexpected script reply"))
	}
	return Result{
		Allowed:   raw[0] == 1,
		Limit:     cfg.Capacity,
		Remaining: int(raw[1]),
		ResetAt:   time.UnixMilli(raw[2]),
	}, nil
}
