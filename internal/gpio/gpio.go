// Package gpio provides the pin-read capabilities devices depend on.
package gpio

import (
	"sync"
	"time"
)

// DigitalPin reads a logical level. ActiveLow handling is already applied.
type DigitalPin interface {
	Read() (bool, error)
}

// AnalogPin reads a raw converter value.
type AnalogPin interface {
	ReadRaw() (int, error)
}

// EdgeFunc receives the signed time since the previous edge on a line.
// The value is negative when the line became active and positive when it
// became inactive.
type EdgeFunc func(elapsed time.Duration)

// EdgeTracker turns edge timestamps into signed elapsed durations.
type EdgeTracker struct {
	ActiveLow bool

	mu   sync.Mutex
	last time.Duration
	seen bool
}

// Edge records an edge at ts. rising is the electrical direction.
// The first edge measures from zero.
func (t *EdgeTracker) Edge(rising bool, ts time.Duration) time.Duration {
	t.mu.Lock()
	elapsed := ts - t.last
	if !t.seen {
		elapsed = ts
	}
	t.last, t.seen = ts, true
	t.mu.Unlock()

	if elapsed < 0 {
		elapsed = 0
	}
	if rising != t.ActiveLow {
		return -elapsed
	}
	return elapsed
}
