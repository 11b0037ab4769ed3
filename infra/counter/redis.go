package counter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hemolink/hemolink/core/ratelimit"
)

// Each script performs the full read-modify-write server side so that
// concurrent checks from multiple process instances stay atomic.
var (
	fixedScript = redis.NewScript(`
local window = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local consume = tonumber(ARGV[4])
local slot = math.floor(now / window)
local key = KEYS[1] .. ':' .. slot
local count = tonumber(redis.call('GET', key) or '0')
local allowed = 0
if count < max then
  allowed = 1
  if consume == 1 then
    count = redis.call('INCR', key)
    if count == 1 then
      redis.call('PEXPIRE', key, window)
    end
  end
end
local remaining = max - count
if remaining < 0 then remaining = 0 end
return {allowed, remaining, (slot + 1) * window}
`)

	slidingScript = redis.NewScript(`
local window = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local consume = tonumber(ARGV[4])
local member = ARGV[5]
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, now - window)
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < max then
  allowed = 1
  if consume == 1 then
    redis.call('ZADD', KEYS[1], now, member)
    redis.call('PEXPIRE', KEYS[1], window)
    count = count + 1
  end
end
local reset = now
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
local remaining = max - count
if remaining < 0 then remaining = 0 end
return {allowed, remaining, math.floor(reset)}
`)

	bucketScript = redis.NewScript(`
local window = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local consume = tonumber(ARGV[4])
local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = max
  ts = now
end
tokens = math.min(max, tokens + (now - ts) * max / window)
local allowed = 0
if tokens >= 1 then
  allowed = 1
  if consume == 1 then
    tokens = tokens - 1
  end
end
if consume == 1 then
  redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
  redis.call('PEXPIRE', KEYS[1], window * 2)
end
local reset = now
if tokens < 1 then
  reset = now + math.ceil((1 - tokens) * window / max)
end
return {allowed, math.floor(tokens), math.floor(reset)}
`)
)

// RedisStore is the distributed CounterStore shared by every process
// instance contacting the same scope key.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix overrides the key namespace.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore wraps the given client.
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: "ratelimit"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(key string) string { return s.prefix + ":" + key }

func (s *RedisStore) run(ctx context.Context, script *redis.Script, key string, args ...any) (ratelimit.Outcome, error) {
	vals, err := script.Run(ctx, s.rdb, []string{s.key(key)}, args...).Int64Slice()
	if err != nil {
		return ratelimit.Outcome{}, err
	}
	return ratelimit.Outcome{
		Allowed:   vals[0] == 1,
		Remaining: int(vals[1]),
		ResetAt:   time.UnixMilli(vals[2]),
	}, nil
}

// FixedWindow implements ratelimit.CounterStore.
func (s *RedisStore) FixedWindow(ctx context.Context, key string, now time.Time, window time.Duration, max int, consume bool) (ratelimit.Outcome, error) {
	return s.run(ctx, fixedScript, key, window.Milliseconds(), max, now.UnixMilli(), b2i(consume))
}

// SlidingWindow implements ratelimit.CounterStore.
func (s *RedisStore) SlidingWindow(ctx context.Context, key string, now time.Time, window time.Duration, max int, consume bool) (ratelimit.Outcome, error) {
	member := uuid.NewString()
	return s.run(ctx, slidingScript, key, window.Milliseconds(), max, now.UnixMilli(), b2i(consume), member)
}

// TokenBucket implements ratelimit.CounterStore.
func (s *RedisStore) TokenBucket(ctx context.Context, key string, now time.Time, window time.Duration, max int, consume bool) (ratelimit.Outcome, error) {
	return s.run(ctx, bucketScript, key, window.Milliseconds(), max, now.UnixMilli(), b2i(consume))
}

// Reset implements ratelimit.CounterStore. Fixed-window slot keys are found
// by pattern; this is an explicit admin operation, not a hot path.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	keys, err := s.rdb.Keys(ctx, s.key(key)+"*").Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
