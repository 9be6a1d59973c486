package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFixedWindowIncr(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	count, remaining, err := s.FixedWindowIncr(ctx, "client-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, remaining)

	count, _, err = s.FixedWindowIncr(ctx, "client-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// A new window starts once the old one lapses.
	now = now.Add(2 * time.Minute)
	count, _, err = s.FixedWindowIncr(ctx, "client-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemorySlidingWindowAllow(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, _, err := s.SlidingWindowAllow(ctx, "client-a", time.Minute, 2)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, count, retryAfter, err := s.SlidingWindowAllow(ctx, "client-a", time.Minute, 2)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, time.Minute, retryAfter)

	// Half a window later the oldest hit still blocks.
	now = now.Add(30 * time.Second)
	allowed, _, retryAfter, err = s.SlidingWindowAllow(ctx, "client-a", time.Minute, 2)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 30*time.Second, retryAfter)

	// Once it slides out, admission resumes.
	now = now.Add(31 * time.Second)
	allowed, _, _, err = s.SlidingWindowAllow(ctx, "client-a", time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, allowed)
}
