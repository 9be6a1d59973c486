package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout. The poll marker shares the record's lifetime through its
// own short expiry.
const (
	codeKeyPrefix = "deviceflow:code:"
	userKeyPrefix = "deviceflow:user:"
	pollKeyPrefix = "deviceflow:poll:"
)

// slowDownBumpSeconds is how much the advertised interval grows per
// premature poll, per RFC 8628 §3.5.
const slowDownBumpSeconds = 5

// createScript claims the user code and writes the record in one step.
// A zero reply means the user code is already taken.
var createScript = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2], "NX") == false then
	return 0
end
redis.call("HSET", KEYS[2], unpack(ARGV, 3))
redis.call("PEXPIRE", KEYS[2], ARGV[2])
return 1
`)

// setDecisionScript transitions a pending record and reports the prior
// status, so a second decision cannot overwrite the first.
var setDecisionScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if status == false then
	return "missing"
end
if status ~= "pending" then
	return status
end
redis.call("HSET", KEYS[1], "status", ARGV[1], "subject", ARGV[2])
return "pending"
`)

// consumeScript spends an approval exactly once.
var consumeScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if status == false then
	return "missing"
end
if status ~= "approved" then
	return status
end
redis.call("HSET", KEYS[1], "status", "consumed")
return "approved"
`)

// touchPollScript enforces the polling interval. A zero reply admits
// the poll; otherwise the reply is the new, extended interval.
var touchPollScript = redis.NewScript(`
if redis.call("SET", KEYS[1], "1", "PX", ARGV[1], "NX") then
	return 0
end
return redis.call("HINCRBY", KEYS[2], "interval", ARGV[2])
`)

// RedisStore is the Redis-backed Store shared by all gateway replicas.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func codeKey(deviceCode string) string { return codeKeyPrefix + deviceCode }
func userKey(userCode string) string   { return userKeyPrefix + userCode }
func pollKey(deviceCode string) string { return pollKeyPrefix + deviceCode }

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, record *Record, ttl time.Duration) error {
	args := append([]interface{}{record.DeviceCode, ttl.Milliseconds()}, record.fields()...)
	res, err := createScript.Run(ctx, s.client,
		[]string{userKey(record.UserCode), codeKey(record.DeviceCode)}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to create device authorization: %w", err)
	}
	if res == 0 {
		return ErrUserCodeTaken
	}
	return nil
}

// GetByDeviceCode implements Store.
func (s *RedisStore) GetByDeviceCode(ctx context.Context, deviceCode string) (*Record, error) {
	h, err := s.client.HGetAll(ctx, codeKey(deviceCode)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read device authorization: %w", err)
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	return recordFromHash(h), nil
}

// GetByUserCode implements Store.
func (s *RedisStore) GetByUserCode(ctx context.Context, userCode string) (*Record, error) {
	deviceCode, err := s.client.Get(ctx, userKey(userCode)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user code: %w", err)
	}
	return s.GetByDeviceCode(ctx, deviceCode)
}

// SetDecision implements Store.
func (s *RedisStore) SetDecision(ctx context.Context, userCode string, approve bool, subject string) (Status, error) {
	deviceCode, err := s.client.Get(ctx, userKey(userCode)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve user code: %w", err)
	}

	status := string(StatusApproved)
	if !approve {
		status = string(StatusDenied)
	}

	prior, err := setDecisionScript.Run(ctx, s.client,
		[]string{codeKey(deviceCode)}, status, subject).Text()
	if err != nil {
		return "", fmt.Errorf("failed to record decision: %w", err)
	}
	if prior == "missing" {
		return "", ErrNotFound
	}
	return Status(prior), nil
}

// Consume implements Store.
func (s *RedisStore) Consume(ctx context.Context, deviceCode string) (*Record, bool, error) {
	prior, err := consumeScript.Run(ctx, s.client, []string{codeKey(deviceCode)}).Text()
	if err != nil {
		return nil, false, fmt.Errorf("failed to consume device authorization: %w", err)
	}
	if prior == "missing" {
		return nil, false, ErrNotFound
	}

	record, err := s.GetByDeviceCode(ctx, deviceCode)
	if err != nil {
		return nil, false, err
	}
	if prior == string(StatusApproved) {
		record.Status = StatusConsumed
		return record, true, nil
	}
	// Not spent; report the state it was found in.
	record.Status = Status(prior)
	return record, false, nil
}

// TouchPoll implements Store.
func (s *RedisStore) TouchPoll(ctx context.Context, deviceCode string, interval time.Duration) (bool, int, error) {
	res, err := touchPollScript.Run(ctx, s.client,
		[]string{pollKey(deviceCode), codeKey(deviceCode)},
		interval.Milliseconds(), slowDownBumpSeconds).Int()
	if err != nil {
		return false, 0, fmt.Errorf("failed to record poll: %w", err)
	}
	if res == 0 {
		return true, int(interval.Seconds()), nil
	}
	return false, res, nil
}

// Close implements Store. The client is owned by the caller.
func (s *RedisStore) Close() error {
	return nil
}
