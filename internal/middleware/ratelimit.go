package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/wearforce/gateway/internal/observability"
	"github.com/wearforce/gateway/internal/ratelimit"
)

// RateLimit enforces a limiter per request, keyed by client address.
// Decisions are advertised through the X-RateLimit-* headers; a
// rejection answers 429 with Retry-After.
func RateLimit(limiter ratelimit.Limiter, logger observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientIPFromContext(r.Context())
			if key == "" {
				key = r.RemoteAddr
			}

			result, err := limiter.Allow(r.Context(), key)
			if err != nil {
				// The limiter wraps its own fallback; an error here
				// means even that failed. Let the request through
				// rather than turn a limiter bug into an outage.
				logger.Error("rate limiter failed",
					observability.String("requestID", RequestIDFromContext(r.Context())),
					observability.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := int(result.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":             "rate_limited",
					"error_description": "too many requests",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
