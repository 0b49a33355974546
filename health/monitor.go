package health

import (
	"sort"
	"sync"
)

// Check reports the current health of one component.
type Check func() Status

// Monitor holds the health checks of the running components.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{checks: make(map[string]Check)}
}

// Register adds or replaces the check for name.
func (m *Monitor) Register(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Remove drops the check for name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
}

// Names lists registered components in sorted order.
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot runs every check and aggregates the results under system.
// Checks run without the monitor lock held.
func (m *Monitor) Snapshot(system string) Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	checks := make(map[string]Check, len(m.checks))
	for name, check := range m.checks {
		names = append(names, name)
		checks[name] = check
	}
	m.mu.RUnlock()

	sort.Strings(names)
	subs := make([]Status, 0, len(names))
	for _, name := range names {
		st := checks[name]()
		if st.Component == "" {
			st.Component = name
		}
		subs = append(subs, st)
	}
	return Aggregate(system, subs)
}
