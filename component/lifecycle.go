package component

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/geogate/errors"
	"github.com/c360/geogate/health"
)

// State is the lifecycle state of a component.
type State int

const (
	// StateCreated means the component was added but not started.
	StateCreated State = iota
	// StateStarted means Start succeeded.
	StateStarted
	// StateStopped means Stop completed.
	StateStopped
	// StateFailed means Start or Stop returned an error.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LifecycleComponent is anything the process starts and stops.
// Start must not block; long-running work belongs in goroutines that end
// when ctx is cancelled or Stop is called.
type LifecycleComponent interface {
	Name() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

type member struct {
	comp     LifecycleComponent
	required bool
	state    State
	err      error
}

// Group starts components in the order they were added and stops them in
// reverse. An optional component that fails to start is logged and left
// failed; the others keep running.
type Group struct {
	logger *slog.Logger

	mu      sync.Mutex
	members []*member
}

// NewGroup creates an empty group.
func NewGroup(logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{logger: logger.With("component", "lifecycle")}
}

// Add appends a component. A required component that fails to start
// aborts Start.
func (g *Group) Add(c LifecycleComponent, required bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members = append(g.members, &member{comp: c, required: required})
}

// Start starts every component. It fails if a required component fails,
// after stopping whatever had already started. When the group has
// optional components, at least one of them must be running at the end;
// otherwise the required ones alone would keep an idle process up.
func (g *Group) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	running, optional, optionalRunning := 0, 0, 0
	for i, m := range g.members {
		if !m.required {
			optional++
		}
		if m.state == StateStarted {
			running++
			if !m.required {
				optionalRunning++
			}
			continue
		}
		if err := m.comp.Start(ctx); err != nil {
			m.state = StateFailed
			m.err = err
			if m.required {
				g.logger.Error("required component failed to start", "name", m.comp.Name(), "error", err)
				g.stopLocked(g.members[:i], 5*time.Second)
				return errors.Wrap(err, "Group", "Start", "start "+m.comp.Name())
			}
			g.logger.Error("component failed to start, continuing without it", "name", m.comp.Name(), "error", err)
			continue
		}
		m.state = StateStarted
		m.err = nil
		running++
		if !m.required {
			optionalRunning++
		}
		g.logger.Info("component started", "name", m.comp.Name())
	}

	if optional > 0 && optionalRunning == 0 {
		g.logger.Error("no optional component started", "optional", optional)
		g.stopLocked(g.members, 5*time.Second)
		return errors.WrapFatal(fmt.Errorf("none of %d optional components started", optional), "Group", "Start", "start components")
	}
	if running == 0 && len(g.members) > 0 {
		return errors.WrapFatal(fmt.Errorf("no component started"), "Group", "Start", "start components")
	}
	return nil
}

// Stop stops started components in reverse order. The timeout is shared
// across all of them.
func (g *Group) Stop(timeout time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopLocked(g.members, timeout)
}

func (g *Group) stopLocked(members []*member, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var errs []error

	for i := len(members) - 1; i >= 0; i-- {
		m := members[i]
		if m.state != StateStarted {
			continue
		}
		remaining := time.Until(deadline)
		if remaining < 100*time.Millisecond {
			remaining = 100 * time.Millisecond
		}
		if err := m.comp.Stop(remaining); err != nil {
			m.state = StateFailed
			m.err = err
			errs = append(errs, fmt.Errorf("%s: %w", m.comp.Name(), err))
			g.logger.Warn("component stop failed", "name", m.comp.Name(), "error", err)
			continue
		}
		m.state = StateStopped
		g.logger.Info("component stopped", "name", m.comp.Name())
	}
	return stderrors.Join(errs...)
}

// States returns each component's state by name.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.comp.Name()] = m.state
	}
	return out
}

// Health reports failed components as unhealthy.
func (g *Group) Health() health.Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	subs := make([]health.Status, 0, len(g.members))
	for _, m := range g.members {
		name := m.comp.Name()
		switch m.state {
		case StateStarted:
			subs = append(subs, health.NewHealthy(name, "running"))
		case StateFailed:
			msg := "failed"
			if m.err != nil {
				msg = m.err.Error()
			}
			subs = append(subs, health.NewUnhealthy(name, msg))
		default:
			subs = append(subs, health.NewDegraded(name, m.state.String()))
		}
	}
	return health.Aggregate("lifecycle", subs)
}
