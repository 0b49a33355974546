// Package http is the stateless GeoGate transport: one HTTP call in, one
// JSON body out, through the same dispatcher as the WebSocket server.
package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/c360/geogate/errors"
	"github.com/c360/geogate/events"
	"github.com/c360/geogate/gateway"
	"github.com/c360/geogate/health"
	"github.com/c360/geogate/metric"
)

// Config configures the HTTP server.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxBodySize caps POST bodies in bytes.
	MaxBodySize int64
	// CORSOrigins lists allowed origins; "*" allows any. Empty disables CORS.
	CORSOrigins []string
	Version     string
	// TLS, when set, serves https on the same port.
	TLS *tls.Config
}

func (c *Config) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = 1 << 20
	}
	if c.Version == "" {
		c.Version = "1.0.0"
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

// WithEvents sets the request audit emitter.
func WithEvents(e events.Emitter) Option {
	return func(s *Server) {
		if e != nil {
			s.events = e
		}
	}
}

// WithHealth serves check at GET /health.
func WithHealth(check health.Check) Option {
	return func(s *Server) { s.health = check }
}

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// Server serves the stateless routes:
//
//	GET|POST /api/v1/mcp/{action}  dispatch an action
//	GET      /api/v1/status        connection count and server metadata
//	GET      /health               component health
//	GET      /metrics              Prometheus exposition
type Server struct {
	cfg            Config
	dispatcher     gateway.Dispatcher
	connections    gateway.ConnectionCounter
	logger         *slog.Logger
	metrics        *metric.Metrics
	events         events.Emitter
	health         health.Check
	metricsHandler http.Handler
	router         chi.Router
	startedAt      time.Time
	now            func() time.Time

	lifecycleMu sync.Mutex
	running     bool
	httpServer  *http.Server
	listener    net.Listener
}

// NewServer creates a server dispatching through d. conns is read by the
// status route and never modified.
func NewServer(cfg Config, d gateway.Dispatcher, conns gateway.ConnectionCounter, opts ...Option) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:         cfg,
		dispatcher:  d,
		connections: conns,
		logger:      slog.Default(),
		events:      events.Nop(),
		startedAt:   time.Now(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", s.Name())
	s.router = s.buildRouter()
	return s
}

// Name implements component.LifecycleComponent.
func (s *Server) Name() string { return "http-server" }

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(s.recoverer)
	r.Use(s.logRequests)
	r.Use(corsMiddleware(s.cfg.CORSOrigins))

	r.Get("/health", s.handleHealth)
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/status", s.handleStatus)
		api.Get("/mcp/{action}", s.handleAction)
		api.Post("/mcp/{action}", s.handleAction)
	})
	return r
}

// Start binds the listener. A bind failure is returned synchronously and
// does not affect the WebSocket server.
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

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.startedAt = s.now()
	s.running = true

	srv := s.httpServer
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String(), "tls", s.cfg.TLS != nil)
	return nil
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

// Stop stops accepting calls and waits up to timeout for in-flight ones.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.listener = nil
	s.logger.Info("http server stopped")
	return errors.Wrap(err, "Server", "Stop", "shutdown")
}

// Health reports whether the server is accepting calls.
func (s *Server) Health() health.Status {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if !s.running {
		return health.NewUnhealthy(s.Name(), "not running")
	}
	return health.NewHealthy(s.Name(), "accepting calls")
}
