// Package registry tracks live bidirectional connections and evicts idle ones.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/c360/geogate/errors"
)

// Cause says why a connection is being closed.
type Cause string

// Close causes.
const (
	CauseClientClosed   Cause = "client_closed"
	CauseTransportError Cause = "transport_error"
	CauseIdleTimeout    Cause = "idle_timeout"
	CauseShutdown       Cause = "shutdown"
	CauseMessageTooBig  Cause = "message_too_large"
)

// Handle is exclusive ownership of a connection's transport. Only the
// caller that removed the entry from the registry may call Close.
type Handle interface {
	Close(cause Cause) error
}

// Entry is a point-in-time copy of one registered connection.
type Entry struct {
	ID          string
	Handle      Handle
	ConnectedAt time.Time
	LastActive  time.Time
}

type record struct {
	handle      Handle
	connectedAt time.Time
	lastActive  time.Time
}

// Registry is a mutex-guarded map of live connections. It contains exactly
// the connections whose handles are open and not yet claimed for closing.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*record
	now   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		conns: make(map[string]*record),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Insert registers a new connection with last_active set to now.
func (r *Registry) Insert(id string, h Handle) error {
	if h == nil {
		return errors.WrapInvalid(fmt.Errorf("nil handle for %s", id), "Registry", "Insert", "validate handle")
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; exists {
		return errors.WrapFatal(fmt.Errorf("%w: %s", errors.ErrDuplicateID, id), "Registry", "Insert", "store connection")
	}
	r.conns[id] = &record{handle: h, connectedAt: now, lastActive: now}
	return nil
}

// Touch marks the connection active now. An absent id is a no-op.
func (r *Registry) Touch(id string) bool {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.conns[id]
	if !ok {
		return false
	}
	if now.After(rec.lastActive) {
		rec.lastActive = now
	}
	return true
}

// Remove deletes the entry and hands back its handle. Only the first call
// for an id returns ok; that caller is the sole closer.
func (r *Registry) Remove(id string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)
	return rec.handle, true
}

// Lookup returns the handle without claiming it. Callers must not close it.
func (r *Registry) Lookup(id string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return rec.handle, true
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Snapshot copies every entry, oldest last_active first, ties by id.
// Sorting happens after the lock is released.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.conns))
	for id, rec := range r.conns {
		out = append(out, Entry{
			ID:          id,
			Handle:      rec.handle,
			ConnectedAt: rec.connectedAt,
			LastActive:  rec.lastActive,
		})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActive.Equal(out[j].LastActive) {
			return out[i].LastActive.Before(out[j].LastActive)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Drain removes every entry and returns them, for shutdown.
func (r *Registry) Drain() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.conns))
	for id, rec := range r.conns {
		out = append(out, Entry{ID: id, Handle: rec.handle, ConnectedAt: rec.connectedAt, LastActive: rec.lastActive})
	}
	r.conns = make(map[string]*record)
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
