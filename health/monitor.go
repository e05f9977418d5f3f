package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Check probes one part. A nil error means healthy.
type Check func(ctx context.Context) error

// Monitor holds the latest status of every part.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	observer func(Status)
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update records the status of a part under name.
func (m *Monitor) Update(name string, s Status) {
	s.Component = name
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	m.mu.Lock()
	m.statuses[name] = s
	observe := m.observer
	m.mu.Unlock()
	if observe != nil {
		observe(s)
	}
}

// Observe installs fn to be called after every update.
func (m *Monitor) Observe(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = fn
}

// Report records err as the status of name.
func (m *Monitor) Report(name string, err error) {
	m.Update(name, FromError(name, err))
}

// Get returns the status of name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	return s, ok
}

// Remove forgets name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
}

// Aggregate rolls every part up under system, parts ordered by name.
func (m *Monitor) Aggregate(system string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })
	return Aggregate(system, subs)
}

// Healthy reports whether no part is unhealthy. Degraded parts still
// count as serving.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.statuses {
		if s.State == StateUnhealthy {
			return false
		}
	}
	return true
}

// Run executes checks immediately and then every interval until ctx ends,
// recording each result under its map key.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, checks map[string]Check) {
	run := func() {
		for name, check := range checks {
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			m.Report(name, check(checkCtx))
			cancel()
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
