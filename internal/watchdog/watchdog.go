package watchdog

import (
	"sort"
	"sync"
	"time"
)

// Monitor tracks heartbeats from long-running workers. A worker whose
// last kick is older than the timeout is reported as stale.
type Monitor struct {
	timeout time.Duration
	now     func() time.Time

	mu    sync.Mutex
	beats map[string]time.Time
}

func New(timeout time.Duration) *Monitor {
	return &Monitor{timeout: timeout, now: time.Now, beats: make(map[string]time.Time)}
}

func (m *Monitor) Kick(name string) {
	m.mu.Lock()
	m.beats[name] = m.now()
	m.mu.Unlock()
}

// Remove stops tracking name, e.g. after a clean worker shutdown.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.beats, name)
	m.mu.Unlock()
}

// Stale returns the sorted names of workers that missed the timeout.
func (m *Monitor) Stale() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []string
	for name, at := range m.beats {
		if now.Sub(at) > m.timeout {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
