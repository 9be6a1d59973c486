package wsproxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wearforce/gateway/internal/auth"
)

func newTestIssuer(t *testing.T) *auth.Issuer {
	t.Helper()
	issuer, err := auth.NewIssuer("wearforce-gateway",
		[]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	return issuer
}

func newTestProxy(t *testing.T, maxConns int, opts ...ProxyOption) (*Proxy, *Registry, *httptest.Server, string) {
	t.Helper()

	issuer := newTestIssuer(t)
	registry := NewRegistry(maxConns)
	proxy := NewProxy(registry, issuer, time.Minute, opts...)

	srv := httptest.NewServer(http.HandlerFunc(proxy.HandleUpgrade))
	t.Cleanup(srv.Close)

	pair, err := issuer.Issue("user-42", "wearforce-watchos", "chat")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return proxy, registry, srv, wsURL + "?access_token=" + pair.AccessToken
}

func TestHandleUpgradeRejectsUnauthenticated(t *testing.T) {
	t.Parallel()

	_, registry, srv, _ := newTestProxy(t, 10)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, registry.Len())
}

func TestHandleUpgradeRejectsForgedToken(t *testing.T) {
	t.Parallel()

	_, _, srv, _ := newTestProxy(t, 10)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?access_token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleUpgradeEcho(t *testing.T) {
	t.Parallel()

	_, registry, _, authURL := newTestProxy(t, 10)

	conn, _, err := websocket.DefaultDialer.Dial(authURL, nil)
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	require.Eventually(t, func() bool { return registry.Len() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping me")))

	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	assert.Equal(t, "ping me", string(data))
}

func TestHandleUpgradeBearerHeader(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	registry := NewRegistry(10)
	proxy := NewProxy(registry, issuer, time.Minute)

	srv := httptest.NewServer(http.HandlerFunc(proxy.HandleUpgrade))
	t.Cleanup(srv.Close)

	pair, err := issuer.Issue("user-42", "wearforce-watchos", "")
	require.NoError(t, err)

	header := http.Header{"Authorization": []string{"Bearer " + pair.AccessToken}}
	conn, _, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	require.Eventually(t, func() bool { return registry.Len() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestHandleUpgradeCapacity(t *testing.T) {
	t.Parallel()

	_, registry, _, authURL := newTestProxy(t, 1)

	first, _, err := websocket.DefaultDialer.Dial(authURL, nil)
	require.NoError(t, err)
	defer first.Close() //nolint:errcheck

	require.Eventually(t, func() bool { return registry.Len() == 1 },
		time.Second, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(authURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCustomMessageHandler(t *testing.T) {
	t.Parallel()

	handler := func(conn *Connection, _ int, data []byte) ([]byte, error) {
		return []byte(conn.Subject + ": " + string(data)), nil
	}
	_, _, _, authURL := newTestProxy(t, 10, WithMessageHandler(handler))

	conn, _, err := websocket.DefaultDialer.Dial(authURL, nil)
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "user-42: hello", string(data))
}

func TestRegistryStats(t *testing.T) {
	t.Parallel()

	_, registry, _, authURL := newTestProxy(t, 10)

	conn, _, err := websocket.DefaultDialer.Dial(authURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return registry.Len() == 1 },
		time.Second, 10*time.Millisecond)

	stats := registry.Stats()
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 10, stats.Capacity)
	assert.Equal(t, int64(1), stats.Accepted)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return registry.Len() == 0 },
		time.Second, 10*time.Millisecond)

	stats = registry.Stats()
	assert.Zero(t, stats.Active)
	assert.Equal(t, int64(1), stats.Closed)
}

func TestCloseAllForcesConnectionsClosed(t *testing.T) {
	t.Parallel()

	_, registry, _, authURL := newTestProxy(t, 10)

	conn, _, err := websocket.DefaultDialer.Dial(authURL, nil)
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	require.Eventually(t, func() bool { return registry.Len() == 1 },
		time.Second, 10*time.Millisecond)

	closed := registry.CloseAll("server shutting down")
	assert.Equal(t, 1, closed)
	assert.Zero(t, registry.Len())

	// The peer sees a going-away close frame, not a dropped socket.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway),
		"expected going-away close, got %v", err)
}

func TestReaperEvictsIdleConnections(t *testing.T) {
	t.Parallel()

	_, registry, _, authURL := newTestProxy(t, 10)

	conn, _, err := websocket.DefaultDialer.Dial(authURL, nil)
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	require.Eventually(t, func() bool { return registry.Len() == 1 },
		time.Second, 10*time.Millisecond)

	reaper := NewReaper(registry, 50*time.Millisecond, 20*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reaper.Run(ctx) //nolint:errcheck

	require.Eventually(t, func() bool { return registry.Len() == 0 },
		2*time.Second, 10*time.Millisecond, "idle connection should be reaped")

	assert.Equal(t, int64(1), registry.Stats().Evicted)
}

func TestReaperKeepsActiveConnections(t *testing.T) {
	t.Parallel()

	_, registry, _, authURL := newTestProxy(t, 10)

	conn, _, err := websocket.DefaultDialer.Dial(authURL, nil)
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	require.Eventually(t, func() bool { return registry.Len() == 1 },
		time.Second, 10*time.Millisecond)

	reaper := NewReaper(registry, 200*time.Millisecond, 20*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reaper.Run(ctx) //nolint:errcheck

	// Keep the connection chatty past several sweep intervals.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("still here")))
		_, _, err := conn.ReadMessage()
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
	}

	assert.Equal(t, 1, registry.Len())
	assert.Zero(t, registry.Stats().Evicted)
}
