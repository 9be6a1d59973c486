package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/wearforce/gateway/internal/observability"
)

// Recovery converts handler panics into 500 responses instead of
// tearing down the connection.
func Recovery(logger observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic",
						observability.String("requestID", RequestIDFromContext(r.Context())),
						observability.String("path", r.URL.Path),
						observability.Any("panic", rec),
						observability.String("stack", string(debug.Stack())),
					)
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
