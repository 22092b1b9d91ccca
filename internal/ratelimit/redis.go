package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucket refills at ARGV[2] tokens/s up to ARGV[3] and takes ARGV[4].
// It returns {allowed, remaining tokens, retry after ms}; Redis truncates
// the fractional token count.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
else
  local delta = math.max(0, now_ms - ts)
  tokens = math.min(burst, tokens + (delta / 1000.0) * rate)
end

local allowed = 0
local retry_ms = 0
if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
elseif rate > 0 then
  retry_ms = math.ceil(((cost - tokens) / rate) * 1000.0)
else
  retry_ms = 1000
end

redis.call("HSET", key, "tokens", tokens, "ts", now_ms)
redis.call("PEXPIRE", key, ttl_ms)
return {allowed, tokens, retry_ms}
`)

// RedisLimiter shares buckets across every upstream instance pointed at
// the same Redis.
type RedisLimiter struct {
	rdb *redis.Client
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, rps float64, burst float64, cost float64) (Decision, error) {
	res, err := tokenBucket.Run(ctx, r.rdb, []string{key},
		time.Now().UnixMilli(), rps, burst, cost, bucketTTL(rps, burst).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) != 3 {
		return Decision{}, redis.Nil
	}

	dec := Decision{
		Allowed:   res[0] == 1,
		Remaining: float64(res[1]),
		LimitRPS:  rps,
		Burst:     burst,
	}
	if !dec.Allowed {
		dec.RetryAfterSeconds = int((res[2] + 999) / 1000)
		if dec.RetryAfterSeconds < 1 {
			dec.RetryAfterSeconds = 1
		}
	}
	return dec, nil
}

func (r *RedisLimiter) Close() error { return r.rdb.Close() }

// bucketTTL keeps a key around at least as long as a full refill takes.
func bucketTTL(rps, burst float64) time.Duration {
	ttl := 5 * time.Minute
	if rps > 0 {
		if full := time.Duration(burst/rps*float64(time.Second)) * 2; full > ttl {
			ttl = full
		}
	}
	return ttl
}
