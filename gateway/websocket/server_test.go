package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/geogate/dispatch"
	"github.com/c360/geogate/events"
	"github.com/c360/geogate/metric"
	"github.com/c360/geogate/registry"
	gtu "github.com/c360/geogate/testutil"
	"github.com/c360/geogate/upstream/geo"
)

type dispatcherFunc func(ctx context.Context, action string, params dispatch.Params) geo.Result

func (f dispatcherFunc) Dispatch(ctx context.Context, action string, params dispatch.Params) geo.Result {
	return f(ctx, action, params)
}

func echoDispatcher() dispatcherFunc {
	return func(_ context.Context, action string, params dispatch.Params) geo.Result {
		return geo.Result{"status": "1", "info": "OK", "action": action, "params": map[string]any(params)}
	}
}

type recorder struct {
	mu       sync.Mutex
	conns    []events.ConnectionEvent
	requests []events.RequestEvent
}

func (r *recorder) Connection(_ context.Context, ev events.ConnectionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = append(r.conns, ev)
}

func (r *recorder) Request(_ context.Context, ev events.RequestEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, ev)
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.conns))
	for _, ev := range r.conns {
		out = append(out, ev.Kind+":"+ev.Cause)
	}
	return out
}

func (r *recorder) requestEvents() []events.RequestEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.RequestEvent(nil), r.requests...)
}

type harness struct {
	server   *Server
	registry *registry.Registry
	metrics  *metric.Metrics
	events   *recorder
	url      string
}

func startServer(t *testing.T, cfg Config, d dispatcherFunc) *harness {
	t.Helper()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}

	h := &harness{
		registry: registry.New(),
		metrics:  metric.NewMetricsRegistry().CoreMetrics(),
		events:   &recorder{},
	}
	h.server = NewServer(cfg, h.registry, d, WithMetrics(h.metrics), WithEvents(h.events))
	require.NoError(t, h.server.Start(context.Background()))
	t.Cleanup(func() { _ = h.server.Stop(2 * time.Second) })

	scheme := "ws://"
	if cfg.TLS != nil {
		scheme = "wss://"
	}
	h.url = scheme + h.server.Addr().String() + cfg.Path
	return h
}

func (h *harness) dial(t *testing.T) (*websocket.Conn, string) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	msg := readJSON(t, conn)
	require.Equal(t, "connection_established", msg["type"])
	id, _ := msg["client_id"].(string)
	return conn, id
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func readRaw(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func expectClose(t *testing.T, conn *websocket.Conn, timeout time.Duration) *websocket.CloseError {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce
	}
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func TestServer_Established(t *testing.T) {
	h := startServer(t, Config{}, echoDispatcher())

	_, id := h.dial(t)
	assert.Regexp(t, `^client_\d+_\d+$`, id)

	require.Eventually(t, func() bool { return h.registry.Len() == 1 }, time.Second, 10*time.Millisecond)
	_, ok := h.registry.Lookup(id)
	assert.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ConnectionsAccepted))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"connected:"}, h.events.kinds())
	}, time.Second, 10*time.Millisecond)
}

func TestServer_IDsAreUnique(t *testing.T) {
	h := startServer(t, Config{}, echoDispatcher())

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		_, id := h.dial(t)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestServer_RequestResponse(t *testing.T) {
	h := startServer(t, Config{}, echoDispatcher())
	conn, id := h.dial(t)

	send(t, conn, `{"type":"geocode","params":{"address":"Beijing"},"request_id":"r-1"}`)
	msg := readJSON(t, conn)

	assert.Equal(t, "response", msg["type"])
	assert.Equal(t, "geocode", msg["request_type"])
	assert.Equal(t, "r-1", msg["request_id"])
	assert.NotEmpty(t, msg["timestamp"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "1", data["status"])
	assert.Equal(t, map[string]any{"address": "Beijing"}, data["params"])

	require.Eventually(t, func() bool { return len(h.events.requestEvents()) == 1 }, time.Second, 10*time.Millisecond)
	ev := h.events.requestEvents()[0]
	assert.Equal(t, "geocode", ev.Action)
	assert.Equal(t, "websocket", ev.Transport)
	assert.Equal(t, id, ev.ClientID)
	assert.Equal(t, "r-1", ev.RequestID)
	assert.Equal(t, "1", ev.Status)
}

func TestServer_RequestIDEchoedVerbatim(t *testing.T) {
	h := startServer(t, Config{}, echoDispatcher())
	conn, _ := h.dial(t)

	send(t, conn, `{"action":"district","request_id":42}`)
	raw := readRaw(t, conn)
	assert.Contains(t, raw, `"request_id":42`)
	assert.Contains(t, raw, `"request_type":"district"`)

	send(t, conn, `{"type":"district","request_id":"a<b>&c"}`)
	assert.Contains(t, readRaw(t, conn), `"request_id":"a<b>&c"`)

	send(t, conn, `{"type":"district"}`)
	assert.NotContains(t, readRaw(t, conn), "request_id")
}

func TestServer_ResponsesInCompletionOrder(t *testing.T) {
	d := func(ctx context.Context, action string, _ dispatch.Params) geo.Result {
		if action == "route_planning" {
			select {
			case <-time.After(300 * time.Millisecond):
			case <-ctx.Done():
			}
		}
		return geo.Result{"status": "1", "info": "OK"}
	}
	h := startServer(t, Config{}, d)
	conn, _ := h.dial(t)

	send(t, conn, `{"type":"route_planning","request_id":"A"}`)
	send(t, conn, `{"type":"geocode","request_id":"B"}`)

	first := readJSON(t, conn)
	second := readJSON(t, conn)
	assert.Equal(t, "B", first["request_id"])
	assert.Equal(t, "geocode", first["request_type"])
	assert.Equal(t, "A", second["request_id"])
	assert.Equal(t, "route_planning", second["request_type"])
}

func TestServer_ResponseDroppedAfterRemoval(t *testing.T) {
	started := make(chan struct{}, 1)
	d := func(ctx context.Context, _ string, _ dispatch.Params) geo.Result {
		started <- struct{}{}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
		}
		return geo.Result{"status": "1", "info": "OK"}
	}
	h := startServer(t, Config{}, d)
	conn, id := h.dial(t)

	send(t, conn, `{"type":"geocode","request_id":"gone-1"}`)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch never started")
	}

	// Claim the entry mid-flight the way the sweeper does, but hold off
	// closing so a stray response would still reach the socket.
	handle, ok := h.registry.Remove(id)
	require.True(t, ok)

	require.Eventually(t, func() bool { return len(h.events.requestEvents()) == 1 }, 2*time.Second, 10*time.Millisecond)
	ev := h.events.requestEvents()[0]
	assert.Equal(t, "gone-1", ev.RequestID)
	assert.Equal(t, "1", ev.Status)
	assert.Equal(t, id, ev.ClientID)

	time.Sleep(150 * time.Millisecond)
	require.NoError(t, handle.Close(registry.CauseIdleTimeout))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame after removal: %s", data)
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, string(registry.CauseIdleTimeout), ce.Text)
	assert.Equal(t, 0, h.registry.Len())
}

func TestServer_MalformedKeepsConnectionOpen(t *testing.T) {
	h := startServer(t, Config{}, echoDispatcher())
	conn, _ := h.dial(t)

	send(t, conn, `not json at all`)
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["message"], "invalid message")

	send(t, conn, `{"params":{},"request_id":"r-7"}`)
	msg = readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "r-7", msg["request_id"])

	send(t, conn, `{"type":"geocode","request_id":"r-8"}`)
	msg = readJSON(t, conn)
	assert.Equal(t, "response", msg["type"])
	assert.Equal(t, "r-8", msg["request_id"])

	assert.Equal(t, 1, h.registry.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.MessagesReceived.WithLabelValues("malformed")))
}

func TestServer_UnsupportedActionIsAResponse(t *testing.T) {
	d := dispatch.New(gtu.NewFakeGeo(), nil)
	h := startServer(t, Config{}, d.Dispatch)
	conn, _ := h.dial(t)

	send(t, conn, `{"type":"teleport","request_id":"x"}`)
	msg := readJSON(t, conn)

	assert.Equal(t, "response", msg["type"])
	assert.Equal(t, "teleport", msg["request_type"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "0", data["status"])
	assert.Equal(t, "unsupported action: teleport", data["info"])
}

func TestServer_OversizeMessageCloses(t *testing.T) {
	h := startServer(t, Config{MaxMessageSize: 64}, echoDispatcher())
	conn, _ := h.dial(t)

	send(t, conn, `{"type":"geocode","params":{"address":"`+strings.Repeat("x", 256)+`"}}`)
	ce := expectClose(t, conn, 2*time.Second)
	assert.Equal(t, websocket.CloseMessageTooBig, ce.Code)

	require.Eventually(t, func() bool { return h.registry.Len() == 0 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Disconnections.WithLabelValues("message_too_large")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServer_ConnectionCeiling(t *testing.T) {
	h := startServer(t, Config{MaxConnections: 1}, echoDispatcher())
	h.dial(t)

	_, resp, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()

	assert.Equal(t, 1, h.registry.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ConnectionsRejected.WithLabelValues("limit")))
	assert.Contains(t, h.events.kinds(), "rejected:connection_limit")
}

func TestServer_SlotFreedAfterDisconnect(t *testing.T) {
	h := startServer(t, Config{MaxConnections: 1}, echoDispatcher())
	conn, _ := h.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Disconnections.WithLabelValues("client_closed")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		c, resp, err := websocket.DefaultDialer.Dial(h.url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServer_QueueFullRepliesBusy(t *testing.T) {
	release := make(chan struct{})
	blocking := func(ctx context.Context, action string, _ dispatch.Params) geo.Result {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return geo.Result{"status": "1"}
	}
	h := startServer(t, Config{Workers: 1, QueueSize: 1}, blocking)
	conn, _ := h.dial(t)

	for _, id := range []string{"a", "b", "c"} {
		send(t, conn, `{"type":"geocode","request_id":"`+id+`"}`)
	}

	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "server busy", msg["message"])
	close(release)
}

func TestServer_IdleEviction(t *testing.T) {
	h := startServer(t, Config{}, echoDispatcher())
	sweeper := registry.NewSweeper(h.registry, registry.SweeperConfig{
		IdleTimeout: 100 * time.Millisecond,
		Interval:    20 * time.Millisecond,
		Metrics:     h.metrics,
		OnEvict:     h.server.OnEvicted,
	})
	require.NoError(t, sweeper.Start(context.Background()))
	t.Cleanup(func() { _ = sweeper.Stop(time.Second) })

	conn, _ := h.dial(t)
	ce := expectClose(t, conn, 2*time.Second)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
	assert.Equal(t, "idle_timeout", ce.Text)

	require.Eventually(t, func() bool { return h.registry.Len() == 0 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Disconnections.WithLabelValues("idle_timeout")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, h.events.kinds(), "evicted:idle_timeout")
	assert.NotContains(t, h.events.kinds(), "disconnected:transport_error")
}

func TestServer_ActivityDefersEviction(t *testing.T) {
	h := startServer(t, Config{}, echoDispatcher())
	sweeper := registry.NewSweeper(h.registry, registry.SweeperConfig{
		IdleTimeout: 300 * time.Millisecond,
		Interval:    20 * time.Millisecond,
		OnEvict:     h.server.OnEvicted,
	})
	require.NoError(t, sweeper.Start(context.Background()))
	t.Cleanup(func() { _ = sweeper.Stop(time.Second) })

	conn, _ := h.dial(t)
	for i := 0; i < 5; i++ {
		time.Sleep(100 * time.Millisecond)
		send(t, conn, `{"type":"geocode"}`)
		assert.Equal(t, "response", readJSON(t, conn)["type"])
	}
	assert.Equal(t, 1, h.registry.Len())
}

func TestServer_ShutdownClosesClients(t *testing.T) {
	h := startServer(t, Config{}, echoDispatcher())
	conn1, _ := h.dial(t)
	conn2, _ := h.dial(t)

	require.NoError(t, h.server.Stop(2*time.Second))

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		ce := expectClose(t, conn, 2*time.Second)
		assert.Equal(t, websocket.CloseGoingAway, ce.Code)
		assert.Equal(t, "shutdown", ce.Text)
	}
	assert.Equal(t, 0, h.registry.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Disconnections.WithLabelValues("shutdown")))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.ConnectionsActive))

	_, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	assert.Error(t, err)
	assert.NoError(t, h.server.Stop(time.Second))
}

func TestServer_StartTwice(t *testing.T) {
	h := startServer(t, Config{}, echoDispatcher())
	assert.Error(t, h.server.Start(context.Background()))
	assert.True(t, h.server.Health().IsHealthy())
}

func TestServer_TLS(t *testing.T) {
	serverTLS, clientTLS := gtu.SelfSignedTLS(t)
	h := startServer(t, Config{TLS: serverTLS}, echoDispatcher())
	require.True(t, strings.HasPrefix(h.url, "wss://"))

	_, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	assert.Error(t, err, "untrusted certificate")

	dialer := websocket.Dialer{TLSClientConfig: clientTLS, HandshakeTimeout: 2 * time.Second}
	conn, resp, err := dialer.Dial(h.url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	assert.Equal(t, "connection_established", readJSON(t, conn)["type"])
	send(t, conn, `{"type":"geocode","request_id":"tls-1","params":{"address":"x"}}`)
	assert.Equal(t, "tls-1", readJSON(t, conn)["request_id"])
}
