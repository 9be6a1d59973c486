package ratelimit

import (
	"context"
	"time"

	"github.com/wearforce/gateway/internal/ratelimit/store"
)

// SlidingWindowLimiter counts hits in a trailing window, so the budget
// holds at every instant rather than per calendar window.
type SlidingWindowLimiter struct {
	store    store.Store
	requests int64
	window   time.Duration
}

// NewSlidingWindowLimiter builds a sliding window limiter on a Store.
func NewSlidingWindowLimiter(s store.Store, cfg Config) (*SlidingWindowLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SlidingWindowLimiter{
		store:    s,
		requests: int64(cfg.Requests),
		window:   cfg.Window,
	}, nil
}

// Allow implements Limiter.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	allowed, count, retryAfter, err := l.store.SlidingWindowAllow(ctx, key, l.window, l.requests)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Allowed:   allowed,
		Limit:     int(l.requests),
		Remaining: int(max64(l.requests-count, 0)),
		ResetAt:   time.Now().Add(l.window),
	}
	if !allowed {
		result.RetryAfter = retryAfter
		result.ResetAt = time.Now().Add(retryAfter)
	}
	return result, nil
}

// Close implements Limiter.
func (l *SlidingWindowLimiter) Close() error {
	return l.store.Close()
}

// New builds the limiter named by cfg.Algorithm. An empty algorithm
// selects the fixed window.
func New(s store.Store, cfg Config) (Limiter, error) {
	switch cfg.Algorithm {
	case AlgorithmSlidingWindow:
		return NewSlidingWindowLimiter(s, cfg)
	case AlgorithmFixedWindow, "":
		return NewFixedWindowLimiter(s, cfg)
	default:
		return nil, cfg.Validate()
	}
}
