package websocket

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/geogate/errors"
	"github.com/c360/geogate/events"
	"github.com/c360/geogate/gateway"
	"github.com/c360/geogate/health"
	"github.com/c360/geogate/metric"
	"github.com/c360/geogate/pkg/worker"
	"github.com/c360/geogate/registry"
)

// Config configures the WebSocket server.
type Config struct {
	Host           string
	Port           int
	Path           string
	MaxConnections int
	MaxMessageSize int64
	WriteTimeout   time.Duration
	Workers        int
	QueueSize      int
	// AllowedOrigins limits browser origins. Empty or "*" allows any.
	AllowedOrigins []string
	// TLS, when set, serves wss on the same port.
	TLS *tls.Config
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 100
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 10 << 20
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 16
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the core metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithEvents sets the lifecycle and audit event emitter.
func WithEvents(e events.Emitter) Option {
	return func(s *Server) {
		if e != nil {
			s.events = e
		}
	}
}

// WithRegistrar registers the dispatch pool's collectors.
func WithRegistrar(r metric.Registrar) Option {
	return func(s *Server) { s.registrar = r }
}

// job is one decoded request waiting for a dispatch worker.
type job struct {
	client   *client
	req      Request
	received time.Time
}

// Server accepts WebSocket connections, reads request envelopes and sends
// one response per request. Connections live in the registry; whoever
// removes an id from it closes that connection.
type Server struct {
	cfg        Config
	registry   *registry.Registry
	dispatcher gateway.Dispatcher
	logger     *slog.Logger
	metrics    *metric.Metrics
	events     events.Emitter
	registrar  metric.Registrar
	upgrader   websocket.Upgrader
	pool       *worker.Pool[job]

	seq      atomic.Uint64
	slots    atomic.Int64
	stopping atomic.Bool

	lifecycleMu sync.Mutex
	running     bool
	httpServer  *http.Server
	listener    net.Listener
	cancel      context.CancelFunc
	readers     sync.WaitGroup
}

// NewServer creates a server over reg that hands requests to d.
func NewServer(cfg Config, reg *registry.Registry, d gateway.Dispatcher, opts ...Option) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:        cfg,
		registry:   reg,
		dispatcher: d,
		logger:     slog.Default(),
		events:     events.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", s.Name())
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	poolOpts := []worker.Option[job]{worker.WithLogger[job](s.logger)}
	if s.registrar != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[job](s.registrar, "websocket_dispatch"))
	}
	s.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, s.handleJob, poolOpts...)
	return s
}

// Name implements component.LifecycleComponent.
func (s *Server) Name() string { return "websocket-server" }

// Handler returns the upgrade handler mounted at the configured path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)
	return mux
}

// Start binds the listener and starts the dispatch workers. A bind failure
// is returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "check state")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Server", "Start", "check context")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on %s", addr))
	}
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := s.pool.Start(runCtx); err != nil {
		cancel()
		_ = ln.Close()
		return errors.Wrap(err, "Server", "Start", "start dispatch pool")
	}

	s.listener = ln
	s.cancel = cancel
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.stopping.Store(false)
	s.running = true

	go s.serve(s.httpServer, ln)

	s.logger.Info("websocket server listening", "addr", ln.Addr().String(), "path", s.cfg.Path, "tls", s.cfg.TLS != nil)
	return nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener) {
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		s.logger.Error("websocket server failed", "error", err)
	}
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop refuses new connections, closes every registered connection with
// cause shutdown and waits for in-flight work up to timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.stopping.Store(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, errors.Wrap(err, "Server", "Stop", "shutdown listener"))
	}

	for _, e := range s.registry.Drain() {
		s.closeConnection(shutdownCtx, e.ID, e.Handle, registry.CauseShutdown)
	}

	done := make(chan struct{})
	go func() {
		s.readers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn("read loops did not exit before shutdown timeout")
	}

	if err := s.pool.Stop(remaining(shutdownCtx)); err != nil {
		errs = append(errs, errors.Wrap(err, "Server", "Stop", "stop dispatch pool"))
	}
	s.cancel()
	s.listener = nil

	s.logger.Info("websocket server stopped")
	return errors.Join(errs...)
}

func remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return time.Second
	}
	if d := time.Until(deadline); d > 0 {
		return d
	}
	return time.Millisecond
}

// Health reports whether the server is accepting connections.
func (s *Server) Health() health.Status {
	s.lifecycleMu.Lock()
	running := s.running
	s.lifecycleMu.Unlock()

	if !running {
		return health.NewUnhealthy(s.Name(), "not running")
	}
	return health.NewHealthy(s.Name(), "accepting connections").WithDetails(map[string]any{
		"active_connections": s.registry.Len(),
		"max_connections":    s.cfg.MaxConnections,
		"dispatch":           s.pool.Stats(),
	})
}

// OnEvicted is the sweeper callback. The sweeper has already closed the
// connection.
func (s *Server) OnEvicted(id string, idle time.Duration) {
	s.metrics.RecordConnectionClosed(string(registry.CauseIdleTimeout))
	s.logger.Info("connection evicted", "client_id", id, "idle", idle.String())
	s.events.Connection(context.Background(), events.ConnectionEvent{
		Kind:      events.KindEvicted,
		ClientID:  id,
		Cause:     string(registry.CauseIdleTimeout),
		Active:    s.registry.Len(),
		Timestamp: time.Now(),
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(origins, origin)
}

// reserveSlot claims a connection slot. The slot is held from upgrade
// until the read loop exits.
func (s *Server) reserveSlot() bool {
	if s.slots.Add(1) > int64(s.cfg.MaxConnections) {
		s.slots.Add(-1)
		return false
	}
	return true
}

func (s *Server) nextID() string {
	return fmt.Sprintf("client_%d_%d", time.Now().UnixMilli(), s.seq.Add(1))
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.stopping.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if !s.reserveSlot() {
		s.reject(r.Context(), w)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.slots.Add(-1)
		s.metrics.RecordConnectionRejected("upgrade_failed")
		s.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	c := newClient(s.nextID(), conn, s.cfg.WriteTimeout)
	if err := s.registry.Insert(c.id, c); err != nil {
		s.slots.Add(-1)
		s.logger.Error("register connection", "client_id", c.id, "error", err)
		_ = c.Close(registry.CauseTransportError)
		return
	}
	s.metrics.RecordConnectionOpened()

	s.readers.Add(1)
	go s.readLoop(c)
}

func (s *Server) reject(ctx context.Context, w http.ResponseWriter) {
	s.metrics.RecordConnectionRejected("limit")
	s.logger.Warn("connection rejected", "reason", "connection limit reached", "max", s.cfg.MaxConnections)
	s.events.Connection(ctx, events.ConnectionEvent{
		Kind:      events.KindRejected,
		Cause:     "connection_limit",
		Active:    s.registry.Len(),
		Timestamp: time.Now(),
	})
	http.Error(w, errors.ErrTooManyConnections.Error(), http.StatusServiceUnavailable)
}

func (s *Server) readLoop(c *client) {
	defer s.readers.Done()
	defer s.slots.Add(-1)

	ctx := context.Background()
	s.logger.Info("client connected", "client_id", c.id, "remote", c.conn.RemoteAddr().String())
	s.events.Connection(ctx, events.ConnectionEvent{
		Kind:      events.KindConnected,
		ClientID:  c.id,
		Active:    s.registry.Len(),
		Timestamp: c.connectedAt,
	})

	if err := c.send(gateway.NewEstablished(c.id, time.Now())); err != nil {
		s.disconnect(ctx, c, registry.CauseTransportError, err)
		return
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			s.disconnect(ctx, c, readCause(err), err)
			return
		}
		s.registry.Touch(c.id)
		s.handleMessage(c, data)
	}
}

func readCause(err error) registry.Cause {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		return registry.CauseMessageTooBig
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return registry.CauseClientClosed
	default:
		return registry.CauseTransportError
	}
}

// disconnect closes c if it is still registered. When the sweeper or Stop
// got there first, they already reported the close.
func (s *Server) disconnect(ctx context.Context, c *client, cause registry.Cause, err error) {
	h, ok := s.registry.Remove(c.id)
	if !ok {
		return
	}
	if cause == registry.CauseTransportError {
		s.logger.Debug("read failed", "client_id", c.id, "error", err)
	}
	s.closeConnection(ctx, c.id, h, cause)
}

func (s *Server) closeConnection(ctx context.Context, id string, h registry.Handle, cause registry.Cause) {
	if err := h.Close(cause); err != nil && !errors.Is(err, errors.ErrAlreadyClosed) {
		s.logger.Debug("close connection", "client_id", id, "error", err)
	}
	s.metrics.RecordConnectionClosed(string(cause))

	attrs := []any{"client_id", id, "cause", string(cause)}
	if c, ok := h.(*client); ok {
		attrs = append(attrs, "connected_for", time.Since(c.connectedAt).Round(time.Millisecond).String())
	}
	s.logger.Info("client disconnected", attrs...)

	s.events.Connection(ctx, events.ConnectionEvent{
		Kind:      events.KindDisconnected,
		ClientID:  id,
		Cause:     string(cause),
		Active:    s.registry.Len(),
		Timestamp: time.Now(),
	})
}

func (s *Server) handleMessage(c *client, data []byte) {
	req, err := DecodeRequest(data)
	if err != nil {
		s.metrics.RecordMessage("malformed")
		s.logger.Debug("malformed message", "client_id", c.id, "error", err)
		s.sendError(c, "invalid message: "+malformedReason(err), req.RequestID)
		return
	}

	err = s.pool.Submit(job{client: c, req: req, received: time.Now()})
	switch {
	case err == nil:
		s.metrics.RecordMessage("accepted")
	case errors.Is(err, worker.ErrQueueFull):
		s.metrics.RecordMessage("busy")
		s.sendError(c, errors.ErrServerBusy.Error(), req.RequestID)
	default:
		s.metrics.RecordMessage("rejected")
		s.sendError(c, "server shutting down", req.RequestID)
	}
}

func malformedReason(err error) string {
	var ce *errors.ClassifiedError
	if errors.As(err, &ce) && ce.Err != nil {
		if inner := errors.Unwrap(ce.Err); inner != nil {
			return inner.Error()
		}
	}
	return err.Error()
}

func (s *Server) sendError(c *client, message string, requestID json.RawMessage) {
	if err := c.send(gateway.NewError(message, requestID, time.Now())); err != nil {
		s.logger.Debug("send error envelope", "client_id", c.id, "error", err)
	}
}

// handleJob runs on a dispatch worker.
func (s *Server) handleJob(ctx context.Context, j job) error {
	action := j.req.Name()
	result := s.dispatcher.Dispatch(ctx, action, j.req.Params)
	elapsed := time.Since(j.received)
	status := result.Status()

	s.metrics.RecordRequest(action, gateway.TransportWebSocket, status, elapsed)
	s.events.Request(ctx, events.RequestEvent{
		Action:     action,
		Transport:  gateway.TransportWebSocket,
		ClientID:   j.client.id,
		RequestID:  requestIDString(j.req.RequestID),
		Status:     status,
		Info:       result.Info(),
		DurationMS: elapsed.Milliseconds(),
		Timestamp:  time.Now(),
	})

	if _, ok := s.registry.Lookup(j.client.id); !ok {
		s.logger.Debug("dropping response for closed connection", "client_id", j.client.id, "action", action)
		return nil
	}
	if err := j.client.send(gateway.NewResponse(action, j.req.RequestID, result, time.Now())); err != nil {
		return errors.Wrap(err, "Server", "handleJob", "send response")
	}
	return nil
}

func requestIDString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
