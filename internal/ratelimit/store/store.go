// Package store provides the counter backends for rate limiting.
package store

import (
	"context"
	"time"
)

// Store is a counter backend. Both operations are atomic so concurrent
// callers across replicas never over-admit.
type Store interface {
	// FixedWindowIncr adds one hit to key's current window and returns
	// the running count together with the time left in the window.
	FixedWindowIncr(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)

	// SlidingWindowAllow records a hit if the trailing window holds
	// fewer than limit hits. It returns the admission decision, the
	// hit count after the call and how long until the oldest hit
	// leaves the window.
	SlidingWindowAllow(ctx context.Context, key string, window time.Duration, limit int64) (allowed bool, count int64, retryAfter time.Duration, err error)

	// Close releases backend resources.
	Close() error
}
