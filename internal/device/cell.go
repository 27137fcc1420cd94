package device

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emberlab/devgate/pkg/sdk"
)

// StateCell holds a device's reported value and publishes StateChanged
// when, and only when, a new value differs from the recorded one.
//
// Sets are serialized, including the publish, so subscribers observe
// changes in order. A subscriber must not call Set on the cell that is
// publishing to it.
type StateCell[T comparable] struct {
	device string
	bus    sdk.Bus
	log    *zap.Logger
	render func(T) sdk.Document
	now    func() time.Time

	seq sync.Mutex

	mu    sync.RWMutex
	value T
	stamp time.Time
	set   bool
}

// NewStateCell creates a cell for device. render builds the StateChanged
// document; nil renders {"state": v}.
func NewStateCell[T comparable](device string, bus sdk.Bus, log *zap.Logger, render func(T) sdk.Document) *StateCell[T] {
	if render == nil {
		render = func(v T) sdk.Document { return sdk.Document{"state": v} }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StateCell[T]{device: device, bus: bus, log: log, render: render, now: time.Now}
}

// Set records v and reports whether it changed. The first value ever
// recorded counts as a change.
func (c *StateCell[T]) Set(v T) bool {
	c.seq.Lock()
	defer c.seq.Unlock()

	c.mu.Lock()
	if c.set && c.value == v {
		c.mu.Unlock()
		return false
	}
	prev, had := c.value, c.set
	c.value, c.stamp, c.set = v, c.now(), true
	stamp := c.stamp
	c.mu.Unlock()

	if had {
		c.log.Info("state changed", zap.String("device", c.device), zap.Any("from", prev), zap.Any("to", v))
	} else {
		c.log.Info("state recorded", zap.String("device", c.device), zap.Any("to", v))
	}
	if c.bus != nil {
		c.bus.Publish(sdk.StateChanged{Device: c.device, State: c.render(v), At: stamp})
	}
	return true
}

// Get returns the recorded value, its timestamp and whether any value
// was recorded yet.
func (c *StateCell[T]) Get() (T, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.stamp, c.set
}
