package wsproxy

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wearforce/gateway/internal/auth"
	"github.com/wearforce/gateway/internal/observability"
)

// TokenVerifier authenticates the bearer token presented before the
// upgrade.
type TokenVerifier interface {
	Verify(raw string) (*auth.Claims, error)
}

// MessageHandler answers one inbound message. A nil reply sends
// nothing back.
type MessageHandler func(conn *Connection, messageType int, data []byte) ([]byte, error)

// Proxy upgrades authenticated requests and pumps their messages.
// Authentication happens before the handshake so an unauthorized
// client never holds a socket.
type Proxy struct {
	registry *Registry
	verifier TokenVerifier
	handler  MessageHandler
	logger   observability.Logger

	idleTimeout time.Duration
	upgrader    websocket.Upgrader
}

// ProxyOption configures a Proxy.
type ProxyOption func(*Proxy)

// WithProxyLogger sets the logger.
func WithProxyLogger(logger observability.Logger) ProxyOption {
	return func(p *Proxy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMessageHandler replaces the default echo handler.
func WithMessageHandler(h MessageHandler) ProxyOption {
	return func(p *Proxy) {
		if h != nil {
			p.handler = h
		}
	}
}

// WithCheckOrigin replaces the origin check used during the handshake.
func WithCheckOrigin(check func(r *http.Request) bool) ProxyOption {
	return func(p *Proxy) {
		p.upgrader.CheckOrigin = check
	}
}

// NewProxy builds a Proxy over a registry and verifier.
func NewProxy(registry *Registry, verifier TokenVerifier, idleTimeout time.Duration, opts ...ProxyOption) *Proxy {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	p := &Proxy{
		registry:    registry,
		verifier:    verifier,
		logger:      observability.NopLogger(),
		idleTimeout: idleTimeout,
		handler: func(_ *Connection, _ int, data []byte) ([]byte, error) {
			return data, nil
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleUpgrade is the GET /ws handler.
func (p *Proxy) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	claims, err := p.authenticate(r)
	if err != nil {
		upgradesTotal.WithLabelValues("unauthorized").Inc()
		writeJSONError(w, http.StatusUnauthorized, "invalid_token", "missing or invalid bearer token")
		return
	}

	// Reserve a registry slot before the handshake so a full gateway
	// answers with plain HTTP instead of a doomed socket.
	if p.registry.max > 0 && p.registry.Len() >= p.registry.max {
		upgradesTotal.WithLabelValues("capacity").Inc()
		writeJSONError(w, http.StatusServiceUnavailable, "capacity", "connection limit reached")
		return
	}

	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		upgradesTotal.WithLabelValues("handshake_error").Inc()
		return
	}

	conn := &Connection{
		ID:          uuid.NewString(),
		Subject:     claims.Subject,
		ClientID:    claims.ClientID,
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
		conn:        ws,
	}
	conn.Touch()

	if err := p.registry.Add(conn); err != nil {
		upgradesTotal.WithLabelValues("capacity").Inc()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "connection limit reached"),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}

	upgradesTotal.WithLabelValues("success").Inc()
	p.logger.Info("websocket connected",
		observability.String("connectionID", conn.ID),
		observability.String("subject", conn.Subject),
		observability.String("remoteAddr", conn.RemoteAddr),
	)

	go p.pingLoop(conn)
	p.readLoop(conn)
}

// authenticate pulls the bearer token from the Authorization header,
// falling back to the access_token query parameter for clients that
// cannot set headers on WebSocket dials.
func (p *Proxy) authenticate(r *http.Request) (*auth.Claims, error) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		return nil, auth.ErrTokenInvalid
	}
	return p.verifier.Verify(token)
}

// readLoop pumps inbound frames until the peer goes away.
func (p *Proxy) readLoop(conn *Connection) {
	defer func() {
		p.registry.Remove(conn.ID)
		_ = conn.Close()
		p.logger.Info("websocket disconnected",
			observability.String("connectionID", conn.ID),
		)
	}()

	conn.conn.SetPongHandler(func(string) error {
		conn.Touch()
		return nil
	})

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			return
		}
		conn.Touch()
		messagesTotal.WithLabelValues("in").Inc()

		reply, err := p.handler(conn, messageType, data)
		if err != nil {
			p.logger.Error("message handler failed",
				observability.String("connectionID", conn.ID),
				observability.Error(err),
			)
			continue
		}
		if reply == nil {
			continue
		}
		if err := conn.WriteMessage(messageType, reply); err != nil {
			return
		}
		messagesTotal.WithLabelValues("out").Inc()
	}
}

// pingLoop keeps NATs and the activity clock honest while the
// connection is quiet.
func (p *Proxy) pingLoop(conn *Connection) {
	interval := p.idleTimeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if _, ok := p.registry.Get(conn.ID); !ok {
			return
		}
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		if err != nil {
			return
		}
	}
}

// writeJSONError answers a pre-upgrade failure.
func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}
