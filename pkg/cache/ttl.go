package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/geogate/errors"
	"github.com/c360/geogate/metric"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a concurrent map whose entries expire a fixed duration after they
// were stored. Expired entries are dropped lazily on Get and in bulk by a
// background sweep.
type TTL[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]

	ttl      time.Duration
	interval time.Duration
	now      func() time.Time

	stats   Statistics
	lookups *prometheus.CounterVec

	shutdown  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a TTL cache.
type Option[V any] func(*TTL[V]) error

// WithClock replaces time.Now, for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *TTL[V]) error {
		c.now = now
		return nil
	}
}

// WithMetrics registers a lookup counter labelled by result (hit, miss).
func WithMetrics[V any](registrar metric.Registrar, name string) Option[V] {
	return func(c *TTL[V]) error {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "geogate",
			Subsystem:   "cache",
			Name:        "lookups_total",
			Help:        "Cache lookups by result",
			ConstLabels: prometheus.Labels{"cache": name},
		}, []string{"result"})
		if err := registrar.Register("cache."+name, "lookups_total", vec); err != nil {
			return err
		}
		c.lookups = vec
		return nil
	}
}

// NewTTL creates a cache and starts its sweep goroutine, which stops when
// ctx ends or Close is called.
func NewTTL[V any](ctx context.Context, ttl, sweepInterval time.Duration, opts ...Option[V]) (*TTL[V], error) {
	if ttl <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("ttl must be positive, got %s", ttl), "cache", "NewTTL", "validate ttl")
	}
	if sweepInterval <= 0 {
		sweepInterval = ttl
	}

	c := &TTL[V]{
		items:    make(map[string]entry[V]),
		ttl:      ttl,
		interval: sweepInterval,
		now:      time.Now,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewTTL", "apply option")
		}
	}

	go c.sweep(ctx)
	return c, nil
}

func (c *TTL[V]) record(result string) {
	if c.lookups != nil {
		c.lookups.WithLabelValues(result).Inc()
	}
}

// Get returns the live value stored under key.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if ok && c.now().Before(e.expiresAt) {
		c.stats.hits.Add(1)
		c.record("hit")
		return e.value, true
	}

	if ok {
		c.mu.Lock()
		if cur, still := c.items[key]; still && !c.now().Before(cur.expiresAt) {
			delete(c.items, key)
			c.stats.evictions.Add(1)
		}
		c.mu.Unlock()
	}

	c.stats.misses.Add(1)
	c.record("miss")
	var zero V
	return zero, false
}

// Set stores value under key, replacing any previous entry and restarting
// its expiry.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	c.stats.sets.Add(1)
}

// Delete removes key and reports whether it was present.
func (c *TTL[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	delete(c.items, key)
	return ok
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns the live counters.
func (c *TTL[V]) Stats() *Statistics {
	return &c.stats
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *TTL[V]) Close() error {
	c.closeOnce.Do(func() { close(c.shutdown) })

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return errors.WrapTransient(errors.ErrTimeout, "cache", "Close", "wait for sweep goroutine")
	}
}

func (c *TTL[V]) sweep(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *TTL[V]) removeExpired() int {
	now := c.now()
	removed := 0

	c.mu.Lock()
	for key, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}
	c.mu.Unlock()

	c.stats.evictions.Add(int64(removed))
	return removed
}
