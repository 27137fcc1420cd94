package events

import (
	"sync"
	"sync/atomic"

	"github.com/emberlab/devgate/pkg/sdk"
)

type subscription struct {
	bus       *Bus
	h         sdk.Handler
	cancelled atomic.Bool
}

func (s *subscription) Cancel() {
	if s.cancelled.Swap(true) {
		return
	}
	s.bus.remove(s)
}

// Bus is a synchronous publish/subscribe dispatcher. Publish runs every
// handler on the caller's goroutine, in registration order, before it
// returns; a slow handler stalls the publisher.
//
// No bus lock is held while handlers run, so a handler may publish. It
// must not publish while holding a lock another handler also takes.
type Bus struct {
	mu   sync.RWMutex
	subs []*subscription
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(h sdk.Handler) sdk.Subscription {
	s := &subscription{bus: b, h: h}
	b.mu.Lock()
	// copy-on-write keeps in-flight snapshots stable
	subs := make([]*subscription, len(b.subs), len(b.subs)+1)
	copy(subs, b.subs)
	b.subs = append(subs, s)
	b.mu.Unlock()
	return s
}

func (b *Bus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, x := range b.subs {
		if x == s {
			subs := make([]*subscription, 0, len(b.subs)-1)
			subs = append(subs, b.subs[:i]...)
			b.subs = append(subs, b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to the subscribers registered at call time.
// Subscriptions cancelled mid-dispatch are skipped.
func (b *Bus) Publish(ev sdk.Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, s := range subs {
		if s.cancelled.Load() {
			continue
		}
		s.h(ev)
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
