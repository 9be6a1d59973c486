package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// fixedWindowScript counts a hit and starts the window's expiry on the
// first hit, so the window boundary is shared by every replica.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

// slidingWindowScript keeps hit timestamps in a sorted set, prunes the
// expired ones and admits the hit only while the window has room.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, now - window)
local count = redis.call("ZCARD", KEYS[1])

local allowed = 0
if count < limit then
	redis.call("ZADD", KEYS[1], now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call("PEXPIRE", KEYS[1], window)

local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local retry = 0
if allowed == 0 and oldest[2] ~= nil then
	retry = tonumber(oldest[2]) + window - now
end
return {allowed, count, retry}
`)

// RedisStore shares counters between gateway replicas.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// FixedWindowIncr implements Store.
func (s *RedisStore) FixedWindowIncr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := fixedWindowScript.Run(ctx, s.client,
		[]string{keyPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("fixed window incr failed: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("fixed window incr returned %d values", len(res))
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

// SlidingWindowAllow implements Store.
func (s *RedisStore) SlidingWindowAllow(ctx context.Context, key string, window time.Duration, limit int64) (bool, int64, time.Duration, error) {
	now := time.Now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, s.client,
		[]string{keyPrefix + key},
		now, window.Milliseconds(), limit, uuid.NewString()).Int64Slice()
	if err != nil {
		return false, 0, 0, fmt.Errorf("sliding window allow failed: %w", err)
	}
	if len(res) != 3 {
		return false, 0, 0, fmt.Errorf("sliding window allow returned %d values", len(res))
	}
	return res[0] == 1, res[1], time.Duration(res[2]) * time.Millisecond, nil
}

// Close implements Store. The client is owned by the caller.
func (s *RedisStore) Close() error {
	return nil
}
