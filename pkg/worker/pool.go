// Package worker provides a bounded generic worker pool.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/geogate/metric"
)

// Pool runs jobs of type T on a fixed number of goroutines fed by a
// bounded queue. Submit never blocks.
type Pool[T any] struct {
	workers   int
	queueSize int
	handle    func(context.Context, T) error
	logger    *slog.Logger

	jobs chan T
	wg   sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	panicked  atomic.Int64

	registrar metric.Registrar
	name      string
	metrics   *poolMetrics
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	jobs       *prometheus.CounterVec
	duration   prometheus.Histogram
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetrics registers queue depth, job outcome and duration collectors
// under the given pool name.
func WithMetrics[T any](registrar metric.Registrar, name string) Option[T] {
	return func(p *Pool[T]) {
		p.registrar = registrar
		p.name = name
	}
}

// WithLogger sets the logger used to report recovered panics.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 8 workers and a
// queue of 256. A nil handler panics.
func NewPool[T any](workers, queueSize int, handle func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if handle == nil {
		panic(ErrNilHandler)
	}
	if workers <= 0 {
		workers = 8
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		handle:    handle,
		logger:    slog.Default(),
		jobs:      make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registrar != nil && p.name != "" {
		p.registerMetrics()
	}
	return p
}

func (p *Pool[T]) registerMetrics() {
	labels := prometheus.Labels{"pool": p.name}
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "geogate",
			Subsystem:   "worker",
			Name:        "queue_depth",
			Help:        "Jobs waiting in the pool queue",
			ConstLabels: labels,
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "geogate",
			Subsystem:   "worker",
			Name:        "jobs_total",
			Help:        "Jobs by outcome (completed, failed, rejected, panicked)",
			ConstLabels: labels,
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "geogate",
			Subsystem:   "worker",
			Name:        "job_duration_seconds",
			Help:        "Time spent running a job",
			ConstLabels: labels,
			Buckets:     []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}

	owner := "worker." + p.name
	if err := p.registrar.Register(owner, "queue_depth", m.queueDepth); err != nil {
		p.logger.Warn("worker pool metrics not registered", "pool", p.name, "error", err)
		return
	}
	if err := p.registrar.Register(owner, "jobs_total", m.jobs); err != nil {
		p.logger.Warn("worker pool metrics not registered", "pool", p.name, "error", err)
		return
	}
	if err := p.registrar.Register(owner, "job_duration_seconds", m.duration); err != nil {
		p.logger.Warn("worker pool metrics not registered", "pool", p.name, "error", err)
		return
	}
	p.metrics = m
}

func (p *Pool[T]) count(outcome string) {
	if p.metrics != nil {
		p.metrics.jobs.WithLabelValues(outcome).Inc()
	}
}

// Submit enqueues a job without blocking.
func (p *Pool[T]) Submit(job T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- job:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.queueDepth.Set(float64(len(p.jobs)))
		}
		return nil
	default:
		p.rejected.Add(1)
		p.count("rejected")
		return ErrQueueFull
	}
}

// Start launches the workers. They exit when ctx is cancelled or the pool
// is stopped.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.started = true
	return nil
}

// Stop refuses new jobs, lets queued jobs drain and waits up to timeout for
// the workers to exit.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats is a point-in-time copy of the pool counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Rejected   int64 `json:"rejected"`
	Panicked   int64 `json:"panicked"`
}

// Stats returns current counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.jobs),
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
		Rejected:   p.rejected.Load(),
		Panicked:   p.panicked.Load(),
	}
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.execute(ctx, job)
		}
	}
}

func (p *Pool[T]) execute(ctx context.Context, job T) {
	start := time.Now()
	err := p.safeHandle(ctx, job)

	p.completed.Add(1)
	if p.metrics != nil {
		p.metrics.duration.Observe(time.Since(start).Seconds())
		p.metrics.queueDepth.Set(float64(len(p.jobs)))
	}
	if err != nil {
		p.failed.Add(1)
		p.count("failed")
		return
	}
	p.count("completed")
}

// safeHandle keeps one bad job from killing its worker goroutine.
func (p *Pool[T]) safeHandle(ctx context.Context, job T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.count("panicked")
			p.logger.Error("worker job panicked", "pool", p.name, "panic", r)
			err = fmt.Errorf("worker job panicked: %v", r)
		}
	}()
	return p.handle(ctx, job)
}
