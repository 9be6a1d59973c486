package deviceflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client), mr
}

func pendingRecord(deviceCode, userCode string) *Record {
	now := time.Now().UTC()
	return &Record{
		DeviceCode: deviceCode,
		UserCode:   userCode,
		ClientID:   "wearforce-watchos",
		Scope:      "read",
		Status:     StatusPending,
		Interval:   5,
		CreatedAt:  now,
		ExpiresAt:  now.Add(10 * time.Minute),
	}
}

func TestRedisStoreCreateAndGet(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	record := pendingRecord("device-1", "ABCDEFGH")
	require.NoError(t, store.Create(ctx, record, 10*time.Minute))

	byDevice, err := store.GetByDeviceCode(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFGH", byDevice.UserCode)
	assert.Equal(t, "wearforce-watchos", byDevice.ClientID)
	assert.Equal(t, StatusPending, byDevice.Status)
	assert.Equal(t, 5, byDevice.Interval)

	byUser, err := store.GetByUserCode(ctx, "ABCDEFGH")
	require.NoError(t, err)
	assert.Equal(t, "device-1", byUser.DeviceCode)
}

func TestRedisStoreCreateUserCodeCollision(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingRecord("device-1", "ABCDEFGH"), time.Minute))

	err := store.Create(ctx, pendingRecord("device-2", "ABCDEFGH"), time.Minute)
	assert.ErrorIs(t, err, ErrUserCodeTaken)

	// The losing record must not exist under its device code.
	_, err = store.GetByDeviceCode(ctx, "device-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreGetMissing(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetByDeviceCode(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetByUserCode(ctx, "NOPENOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreRecordsExpire(t *testing.T) {
	t.Parallel()

	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingRecord("device-1", "ABCDEFGH"), time.Minute))

	mr.FastForward(2 * time.Minute)

	_, err := store.GetByDeviceCode(ctx, "device-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetByUserCode(ctx, "ABCDEFGH")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreSetDecision(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingRecord("device-1", "ABCDEFGH"), time.Minute))

	prior, err := store.SetDecision(ctx, "ABCDEFGH", true, "user-42")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, prior)

	record, err := store.GetByDeviceCode(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, record.Status)
	assert.Equal(t, "user-42", record.Subject)

	// A second decision reports the first and changes nothing.
	prior, err = store.SetDecision(ctx, "ABCDEFGH", false, "user-43")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, prior)

	record, err = store.GetByDeviceCode(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, record.Status)
	assert.Equal(t, "user-42", record.Subject)
}

func TestRedisStoreConsume(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingRecord("device-1", "ABCDEFGH"), time.Minute))

	// Pending records cannot be consumed.
	record, spent, err := store.Consume(ctx, "device-1")
	require.NoError(t, err)
	assert.False(t, spent)
	assert.Equal(t, StatusPending, record.Status)

	_, err = store.SetDecision(ctx, "ABCDEFGH", true, "user-42")
	require.NoError(t, err)

	record, spent, err = store.Consume(ctx, "device-1")
	require.NoError(t, err)
	assert.True(t, spent)
	assert.Equal(t, StatusConsumed, record.Status)
	assert.Equal(t, "user-42", record.Subject)

	// Single use: the second consume does not spend.
	record, spent, err = store.Consume(ctx, "device-1")
	require.NoError(t, err)
	assert.False(t, spent)
	assert.Equal(t, StatusConsumed, record.Status)

	_, _, err = store.Consume(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreTouchPoll(t *testing.T) {
	t.Parallel()

	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingRecord("device-1", "ABCDEFGH"), time.Minute))

	ok, interval, err := store.TouchPoll(ctx, "device-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, interval)

	// An immediate second poll is too fast and extends the interval.
	ok, interval, err = store.TouchPoll(ctx, "device-1", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 10, interval)

	record, err := store.GetByDeviceCode(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, 10, record.Interval)

	// After the interval elapses the poll is admitted again.
	mr.FastForward(6 * time.Second)
	ok, _, err = store.TouchPoll(ctx, "device-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
