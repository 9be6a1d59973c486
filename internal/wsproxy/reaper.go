package wsproxy

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wearforce/gateway/internal/observability"
)

// Reaper closes connections that have been idle past their allowance.
// It runs in every replica; each replica only sees its own sockets.
type Reaper struct {
	registry    *Registry
	idleTimeout time.Duration
	interval    time.Duration
	logger      observability.Logger
}

// NewReaper builds a Reaper over a registry.
func NewReaper(registry *Registry, idleTimeout, interval time.Duration, logger observability.Logger) *Reaper {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{
		registry:    registry,
		idleTimeout: idleTimeout,
		interval:    interval,
		logger:      logger,
	}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep evicts everything idle past the allowance.
func (r *Reaper) sweep() {
	cutoff := time.Now().Add(-r.idleTimeout)
	for _, conn := range r.registry.idleBefore(cutoff) {
		r.logger.Info("evicting idle websocket connection",
			observability.String("connectionID", conn.ID),
			observability.Time("lastActive", conn.LastActive()),
		)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "idle timeout"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		r.registry.Remove(conn.ID)
		r.registry.markEvicted()
	}
}
