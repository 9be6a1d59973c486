// Package wsproxy accepts authenticated WebSocket connections, tracks
// them in a registry and reaps the idle ones.
package wsproxy

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrRegistryFull indicates the connection cap has been reached.
var ErrRegistryFull = errors.New("connection registry full")

// Connection is one tracked WebSocket session.
type Connection struct {
	ID          string
	Subject     string
	ClientID    string
	RemoteAddr  string
	ConnectedAt time.Time

	conn       *websocket.Conn
	lastActive atomic.Int64
	closeOnce  sync.Once

	writeMu sync.Mutex
}

// Touch marks the connection as active now.
func (c *Connection) Touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the last observed activity.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// WriteMessage sends a frame. Gorilla connections allow one concurrent
// writer, so writes are serialized here.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// WriteControl sends a control frame with a deadline.
func (c *Connection) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return c.conn.WriteControl(messageType, data, deadline)
}

// Close shuts the underlying socket down at most once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Active   int   `json:"active_connections"`
	Capacity int   `json:"capacity"`
	Accepted int64 `json:"total_handled"`
	Closed   int64 `json:"closed"`
	Evicted  int64 `json:"evicted"`
}

// Registry tracks live connections up to a fixed capacity.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	max   int

	accepted atomic.Int64
	closed   atomic.Int64
	evicted  atomic.Int64
}

// NewRegistry builds a Registry. A non-positive max means unlimited.
func NewRegistry(max int) *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		max:   max,
	}
}

// Add registers a connection, failing with ErrRegistryFull at
// capacity.
func (r *Registry) Add(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max > 0 && len(r.conns) >= r.max {
		return ErrRegistryFull
	}
	r.conns[c.ID] = c
	r.accepted.Add(1)
	activeConnections.Set(float64(len(r.conns)))
	return nil
}

// Remove drops a connection from the registry. It is safe to call for
// ids that are already gone.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; !ok {
		return
	}
	delete(r.conns, id)
	r.closed.Add(1)
	activeConnections.Set(float64(len(r.conns)))
}

// Get returns a connection by id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// idleBefore returns the connections whose last activity predates
// cutoff.
func (r *Registry) idleBefore(cutoff time.Time) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var idle []*Connection
	for _, c := range r.conns {
		if c.LastActive().Before(cutoff) {
			idle = append(idle, c)
		}
	}
	return idle
}

// CloseAll force-closes every live connection after announcing the
// close with a going-away frame. Shutdown calls this once the HTTP
// drain finishes, since hijacked sockets outlive http.Server.Shutdown.
func (r *Registry) CloseAll(reason string) int {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, reason), deadline)
		_ = c.Close()
		r.Remove(c.ID)
	}
	return len(conns)
}

// markEvicted counts a reaper eviction.
func (r *Registry) markEvicted() {
	r.evicted.Add(1)
	evictedTotal.Inc()
}

// Stats returns current registry counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	active := len(r.conns)
	r.mu.RUnlock()

	return Stats{
		Active:   active,
		Capacity: r.max,
		Accepted: r.accepted.Load(),
		Closed:   r.closed.Load(),
		Evicted:  r.evicted.Load(),
	}
}
