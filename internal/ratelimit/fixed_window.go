package ratelimit

import (
	"context"
	"time"

	"github.com/wearforce/gateway/internal/ratelimit/store"
)

// FixedWindowLimiter counts hits in back-to-back windows. Cheap and
// predictable; a burst straddling a boundary can briefly see up to
// twice the budget.
type FixedWindowLimiter struct {
	store    store.Store
	requests int64
	window   time.Duration
}

// NewFixedWindowLimiter builds a fixed window limiter on a Store.
func NewFixedWindowLimiter(s store.Store, cfg Config) (*FixedWindowLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &FixedWindowLimiter{
		store:    s,
		requests: int64(cfg.Requests),
		window:   cfg.Window,
	}, nil
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	count, remaining, err := l.store.FixedWindowIncr(ctx, key, l.window)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Allowed:   count <= l.requests,
		Limit:     int(l.requests),
		Remaining: int(max64(l.requests-count, 0)),
		ResetAt:   time.Now().Add(remaining),
	}
	if !result.Allowed {
		result.RetryAfter = remaining
	}
	return result, nil
}

// Close implements Limiter.
func (l *FixedWindowLimiter) Close() error {
	return l.store.Close()
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
