package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wearforce/gateway/internal/auth"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	issuer, err := auth.NewIssuer("wearforce-gateway",
		[]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)

	return NewManager(cfg, NewRedisStore(client), issuer), mr
}

func defaultTestConfig() Config {
	return Config{
		VerificationURI: "https://wearforce.example.com/device",
		Expiry:          10 * time.Minute,
		PollInterval:    5 * time.Second,
		AllowedClients:  []string{"wearforce-watchos"},
	}
}

func TestInitiate(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, defaultTestConfig())
	ctx := context.Background()

	resp, err := m.Initiate(ctx, "wearforce-watchos", "chat")
	require.NoError(t, err)

	assert.Len(t, resp.DeviceCode, 43)
	assert.Len(t, resp.UserCode, 9)
	assert.Equal(t, "https://wearforce.example.com/device", resp.VerificationURI)
	assert.Contains(t, resp.VerificationURIComplete, "user_code=")
	assert.Equal(t, int64(600), resp.ExpiresIn)
	assert.Equal(t, 5, resp.Interval)
}

func TestInitiateRejectsUnknownClient(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, defaultTestConfig())

	_, err := m.Initiate(context.Background(), "rogue-client", "")
	assert.ErrorIs(t, err, ErrInvalidClient)

	_, err = m.Initiate(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestInitiateRetriesUserCodeCollision(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, defaultTestConfig())
	ctx := context.Background()

	// Force the first generated code of the second initiation to
	// collide, then recover.
	codes := []string{"AAAA-BBBB", "AAAA-BBBB", "CCCC-DDDD"}
	m.newUserCode = func() (string, error) {
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}

	first, err := m.Initiate(ctx, "wearforce-watchos", "")
	require.NoError(t, err)
	assert.Equal(t, "AAAA-BBBB", first.UserCode)

	second, err := m.Initiate(ctx, "wearforce-watchos", "")
	require.NoError(t, err)
	assert.Equal(t, "CCCC-DDDD", second.UserCode)
}

// wrappingStore decorates a Store the way a caller adding context
// would, so sentinel errors only surface through errors.Is.
type wrappingStore struct {
	Store
}

func (s wrappingStore) Create(ctx context.Context, record *Record, ttl time.Duration) error {
	if err := s.Store.Create(ctx, record, ttl); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	return nil
}

func TestInitiateRetriesWrappedCollisionError(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	issuer, err := auth.NewIssuer("wearforce-gateway",
		[]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)

	m := NewManager(defaultTestConfig(), wrappingStore{NewRedisStore(client)}, issuer)
	ctx := context.Background()

	codes := []string{"AAAA-BBBB", "AAAA-BBBB", "CCCC-DDDD"}
	m.newUserCode = func() (string, error) {
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}

	_, err = m.Initiate(ctx, "wearforce-watchos", "")
	require.NoError(t, err)

	second, err := m.Initiate(ctx, "wearforce-watchos", "")
	require.NoError(t, err)
	assert.Equal(t, "CCCC-DDDD", second.UserCode)
}

func TestInitiateGivesUpAfterRepeatedCollisions(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, defaultTestConfig())
	ctx := context.Background()

	m.newUserCode = func() (string, error) { return "AAAA-BBBB", nil }

	_, err := m.Initiate(ctx, "wearforce-watchos", "")
	require.NoError(t, err)

	_, err = m.Initiate(ctx, "wearforce-watchos", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUserCodeTaken)
}

func TestPollGrantTypeAndRequestValidation(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, defaultTestConfig())
	ctx := context.Background()

	_, err := m.Poll(ctx, "authorization_code", "x", "wearforce-watchos")
	assert.ErrorIs(t, err, ErrUnsupportedGrantType)

	_, err = m.Poll(ctx, GrantType, "", "wearforce-watchos")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = m.Poll(ctx, GrantType, "unknown-device-code", "wearforce-watchos")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestPollClientMismatch(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, Config{
		VerificationURI: "https://wearforce.example.com/device",
		Expiry:          10 * time.Minute,
		PollInterval:    5 * time.Second,
	})
	ctx := context.Background()

	resp, err := m.Initiate(ctx, "client-a", "")
	require.NoError(t, err)

	_, err = m.Poll(ctx, GrantType, resp.DeviceCode, "client-b")
	assert.ErrorIs(t, err, ErrInvalidClient)
}

func TestPollPendingThenSlowDown(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, defaultTestConfig())
	ctx := context.Background()

	resp, err := m.Initiate(ctx, "wearforce-watchos", "")
	require.NoError(t, err)

	_, err = m.Poll(ctx, GrantType, resp.DeviceCode, "wearforce-watchos")
	assert.ErrorIs(t, err, ErrAuthorizationPending)

	// Polling again inside the interval must extend it.
	_, err = m.Poll(ctx, GrantType, resp.DeviceCode, "wearforce-watchos")
	require.ErrorIs(t, err, ErrSlowDown)

	var oauthErr *Error
	require.ErrorAs(t, err, &oauthErr)
	assert.Contains(t, oauthErr.Description, "10 seconds")
}

func TestPollExpiredDeviceCode(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	cfg.Expiry = 10 * time.Millisecond
	m, _ := newTestManager(t, cfg)
	ctx := context.Background()

	resp, err := m.Initiate(ctx, "wearforce-watchos", "")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = m.Poll(ctx, GrantType, resp.DeviceCode, "wearforce-watchos")
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestPollDenied(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, defaultTestConfig())
	ctx := context.Background()

	resp, err := m.Initiate(ctx, "wearforce-watchos", "")
	require.NoError(t, err)

	_, err = m.Authorize(ctx, resp.UserCode, "user-42", false)
	require.NoError(t, err)

	_, err = m.Poll(ctx, GrantType, resp.DeviceCode, "wearforce-watchos")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestPollFailsClosedOnStoreOutage(t *testing.T) {
	t.Parallel()

	m, mr := newTestManager(t, defaultTestConfig())
	ctx := context.Background()

	resp, err := m.Initiate(ctx, "wearforce-watchos", "")
	require.NoError(t, err)

	mr.Close()

	_, err = m.Poll(ctx, GrantType, resp.DeviceCode, "wearforce-watchos")
	require.Error(t, err)

	var oauthErr *Error
	assert.False(t, errors.As(err, &oauthErr),
		"a store outage must not be reported as a protocol error")
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, defaultTestConfig())
	ctx := context.Background()

	resp, err := m.Initiate(ctx, "wearforce-watchos", "chat")
	require.NoError(t, err)

	t.Run("accepts lowercase and unseparated input", func(t *testing.T) {
		record, err := m.Get(ctx, NormalizeUserCode(resp.UserCode))
		require.NoError(t, err)
		assert.Equal(t, StatusPending, record.Status)
	})

	t.Run("rejects malformed codes", func(t *testing.T) {
		_, err := m.Authorize(ctx, "NOPE", "user-42", true)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("rejects unknown codes", func(t *testing.T) {
		_, err := m.Authorize(ctx, "ZZZZ-ZZZZ", "user-42", true)
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("requires a subject", func(t *testing.T) {
		_, err := m.Authorize(ctx, resp.UserCode, "", true)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("records the approval once", func(t *testing.T) {
		record, err := m.Authorize(ctx, resp.UserCode, "user-42", true)
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, record.Status)
		assert.Equal(t, "user-42", record.Subject)

		_, err = m.Authorize(ctx, resp.UserCode, "user-43", false)
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})
}

// TestDeviceFlowEndToEnd walks the full grant: a watch initiates,
// polls while pending, the user approves on their phone, the watch
// collects a token and the device code cannot be replayed.
func TestDeviceFlowEndToEnd(t *testing.T) {
	t.Parallel()

	m, mr := newTestManager(t, defaultTestConfig())
	ctx := context.Background()

	resp, err := m.Initiate(ctx, "wearforce-watchos", "chat notifications")
	require.NoError(t, err)

	_, err = m.Poll(ctx, GrantType, resp.DeviceCode, "wearforce-watchos")
	require.ErrorIs(t, err, ErrAuthorizationPending)

	record, err := m.Authorize(ctx, resp.UserCode, "user-42", true)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, record.Status)

	// Wait out the polling interval before the next attempt.
	mr.FastForward(6 * time.Second)

	pair, err := m.Poll(ctx, GrantType, resp.DeviceCode, "wearforce-watchos")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, "chat notifications", pair.Scope)

	issuer, err := auth.NewIssuer("wearforce-gateway",
		[]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	claims, err := issuer.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)
	assert.Equal(t, "wearforce-watchos", claims.ClientID)

	// Device codes are single use.
	mr.FastForward(6 * time.Second)
	_, err = m.Poll(ctx, GrantType, resp.DeviceCode, "wearforce-watchos")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}
