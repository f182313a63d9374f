// Package reachability delivers network reachability transitions to
// subscribers. Notifications are edge-triggered: one call per transition,
// never repeated while the state holds.
package reachability

import "sync"

// Subscriber is the contract consumed by the refresh scheduler.
type Subscriber interface {
	// Subscribe registers fn for reachability transitions and returns a
	// cancel function. fn is called with true on unreachable→reachable and
	// false on the reverse edge.
	Subscribe(fn func(reachable bool)) (cancel func())
}

// Monitor is a Subscriber fed by an external probe via Set. It deduplicates
// repeated reports so subscribers only observe edges.
type Monitor struct {
	mu        sync.Mutex
	reachable bool
	known     bool
	nextID    int
	subs      map[int]func(bool)
}

func NewMonitor() *Monitor {
	return &Monitor{subs: make(map[int]func(bool))}
}

// Set reports the current reachability. Only transitions notify subscribers.
func (m *Monitor) Set(reachable bool) {
	m.mu.Lock()
	if m.known && m.reachable == reachable {
		m.mu.Unlock()
		return
	}
	m.known = true
	m.reachable = reachable
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(reachable)
	}
}

// Reachable returns the last reported state; false before the first report.
func (m *Monitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known && m.reachable
}

func (m *Monitor) Subscribe(fn func(reachable bool)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
