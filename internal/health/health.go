// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Check probes one dependency. A nil return means healthy.
type Check func(ctx context.Context) error

// Checker aggregates named dependency checks.
type Checker struct {
	version string
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]Check
}

// NewChecker builds a Checker reporting the given version string.
func NewChecker(version string) *Checker {
	return &Checker{
		version: version,
		timeout: 5 * time.Second,
		checks:  make(map[string]Check),
	}
}

// Register adds a named readiness check.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// livenessResponse is the /healthz body.
type livenessResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// readinessResponse is the /readyz body.
type readinessResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
}

// LivenessHandler answers as long as the process is serving.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, livenessResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC(),
			Version:   c.version,
		})
	})
}

// ReadinessHandler runs every registered check and answers 503 when
// any fails.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
		defer cancel()

		c.mu.RLock()
		checks := make(map[string]Check, len(c.checks))
		for name, check := range c.checks {
			checks[name] = check
		}
		c.mu.RUnlock()

		resp := readinessResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC(),
			Version:   c.version,
			Checks:    make(map[string]string, len(checks)),
		}

		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		writeJSON(w, status, resp)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
