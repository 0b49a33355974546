package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/geogate/errors"
	"github.com/c360/geogate/metric"
)

// EvictFunc is told about each connection the sweeper closed.
type EvictFunc func(id string, idle time.Duration)

// Sweeper periodically closes connections idle past a timeout. It talks to
// the transport only through the registry.
//
// Between Snapshot and Remove a connection may become active again; it is
// still evicted. Remove guarantees it is closed once.
type Sweeper struct {
	registry *Registry
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger
	metrics  *metric.Metrics
	onEvict  EvictFunc

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	IdleTimeout time.Duration
	Interval    time.Duration
	Logger      *slog.Logger
	Metrics     *metric.Metrics
	OnEvict     EvictFunc
}

// NewSweeper creates a sweeper over reg.
func NewSweeper(reg *Registry, cfg SweeperConfig) *Sweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	return &Sweeper{
		registry: reg,
		timeout:  cfg.IdleTimeout,
		interval: cfg.Interval,
		logger:   logger.With("component", "sweeper"),
		metrics:  cfg.Metrics,
		onEvict:  cfg.OnEvict,
	}
}

// Name implements component.LifecycleComponent.
func (s *Sweeper) Name() string { return "sweeper" }

// Sweep runs one cycle and returns the ids it closed. A close failure is
// logged and does not stop the remaining evictions.
func (s *Sweeper) Sweep() []string {
	now := s.registry.now()

	var stale []Entry
	for _, e := range s.registry.Snapshot() {
		if now.Sub(e.LastActive) > s.timeout {
			stale = append(stale, e)
			continue
		}
		// snapshot is oldest first
		break
	}

	evicted := make([]string, 0, len(stale))
	for _, e := range stale {
		h, ok := s.registry.Remove(e.ID)
		if !ok {
			continue
		}
		evicted = append(evicted, e.ID)
		idle := now.Sub(e.LastActive)
		s.closeQuietly(e.ID, h)
		s.logger.Info("closed idle connection", "client_id", e.ID, "idle", idle.Round(time.Second))
		if s.onEvict != nil {
			s.onEvict(e.ID, idle)
		}
	}

	s.metrics.RecordSweep(len(evicted))
	return evicted
}

func (s *Sweeper) closeQuietly(id string, h Handle) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic closing idle connection", "client_id", id, "panic", r)
		}
	}()
	if err := h.Close(CauseIdleTimeout); err != nil && !errors.Is(err, errors.ErrAlreadyClosed) {
		s.logger.Warn("close idle connection failed", "client_id", id, "error", err)
	}
}

// Run sweeps every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Start launches Run in the background.
func (s *Sweeper) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.cancel != nil {
		return errors.ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.Run(runCtx)
	}()
	s.logger.Info("idle sweeper started", "timeout", s.timeout, "interval", s.interval)
	return nil
}

// Stop cancels the background loop and waits for it.
func (s *Sweeper) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.cancel = nil

	select {
	case <-s.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrTimeout, "Sweeper", "Stop", "wait for sweep loop")
	}
}
