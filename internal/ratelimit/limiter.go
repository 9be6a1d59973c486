// Package ratelimit enforces per client request budgets shared across
// gateway replicas through a Redis-backed counter store.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Algorithm names accepted in configuration.
const (
	AlgorithmFixedWindow   = "fixed_window"
	AlgorithmSlidingWindow = "sliding_window"
)

// ErrUnknownAlgorithm indicates a misconfigured algorithm name.
var ErrUnknownAlgorithm = errors.New("unknown rate limit algorithm")

// Result is the outcome of one admission decision.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Limit is the configured budget for the window.
	Limit int

	// Remaining is how much budget is left in the current window.
	Remaining int

	// RetryAfter is how long the client should wait before retrying.
	// Zero when Allowed.
	RetryAfter time.Duration

	// ResetAt is when the current window ends.
	ResetAt time.Time
}

// Limiter makes admission decisions for keys. Implementations are safe
// for concurrent use.
type Limiter interface {
	// Allow spends one unit of key's budget.
	Allow(ctx context.Context, key string) (*Result, error)

	// Close releases limiter resources.
	Close() error
}

// Config describes one rate limit class.
type Config struct {
	// Requests is the budget per window.
	Requests int

	// Window is the budget's time span.
	Window time.Duration

	// Algorithm selects the counting strategy.
	Algorithm string
}

// Validate rejects unusable configurations.
func (c *Config) Validate() error {
	if c.Requests <= 0 {
		return fmt.Errorf("rate limit requests must be positive, got %d", c.Requests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.Window)
	}
	switch c.Algorithm {
	case AlgorithmFixedWindow, AlgorithmSlidingWindow, "":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, c.Algorithm)
	}
	return nil
}
