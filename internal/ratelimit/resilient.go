package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/wearforce/gateway/internal/observability"
)

// ResilientLimiter fronts a shared-store limiter with a circuit
// breaker. While the store is unreachable it degrades to a process
// local token bucket at the same rate instead of refusing traffic:
// availability outranks strict global enforcement here, and the
// degradation is logged and counted.
type ResilientLimiter struct {
	class   string
	primary Limiter
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger

	limit rate.Limit
	burst int

	mu          sync.Mutex
	fallback    map[string]*rate.Limiter
	maxFallback int
}

// maxFallbackEntries bounds the per-key bucket map while the store is
// unreachable. Fallback state is transient; when the map fills it is
// reset rather than tracked per key.
const maxFallbackEntries = 10000

// NewResilientLimiter wraps primary for one rate limit class.
func NewResilientLimiter(class string, primary Limiter, cfg Config, logger observability.Logger) *ResilientLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}

	r := &ResilientLimiter{
		class:    class,
		primary:  primary,
		logger:   logger,
		limit:       rate.Limit(float64(cfg.Requests) / cfg.Window.Seconds()),
		burst:       cfg.Requests,
		fallback:    make(map[string]*rate.Limiter),
		maxFallback: maxFallbackEntries,
	}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ratelimit-" + class,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				breakerState.WithLabelValues(class).Set(1)
			} else {
				breakerState.WithLabelValues(class).Set(0)
			}
			logger.Warn("rate limit store breaker state changed",
				observability.String("breaker", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})
	return r
}

// Allow implements Limiter.
func (r *ResilientLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		return r.primary.Allow(ctx, key)
	})
	if err != nil {
		result := r.allowLocal(key)
		fallbackTotal.WithLabelValues(r.class).Inc()
		r.logger.Warn("rate limit store unavailable, using local fallback",
			observability.String("class", r.class),
			observability.Error(err),
		)
		r.count(result)
		return result, nil
	}

	result := res.(*Result)
	r.count(result)
	return result, nil
}

// allowLocal answers from the per-key token bucket.
func (r *ResilientLimiter) allowLocal(key string) *Result {
	r.mu.Lock()
	limiter, ok := r.fallback[key]
	if !ok {
		if len(r.fallback) >= r.maxFallback {
			r.fallback = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(r.limit, r.burst)
		r.fallback[key] = limiter
	}
	r.mu.Unlock()

	allowed := limiter.Allow()
	result := &Result{
		Allowed:   allowed,
		Limit:     r.burst,
		Remaining: int(limiter.Tokens()),
		ResetAt:   time.Now().Add(time.Duration(float64(time.Second) / float64(r.limit))),
	}
	if !allowed {
		result.Remaining = 0
		result.RetryAfter = time.Duration(float64(time.Second) / float64(r.limit))
	}
	return result
}

func (r *ResilientLimiter) count(result *Result) {
	outcome := "allowed"
	if !result.Allowed {
		outcome = "rejected"
	}
	decisionsTotal.WithLabelValues(r.class, outcome).Inc()
}

// Close implements Limiter.
func (r *ResilientLimiter) Close() error {
	return r.primary.Close()
}
