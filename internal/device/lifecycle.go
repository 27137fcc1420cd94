package device

import (
	"context"
	"time"
)

// Lifecycle is the registry-tracked state of a device.
//
//	Constructed -> Initialized -> Polling
//	any -> Faulted
type Lifecycle int

const (
	Constructed Lifecycle = iota
	Initialized
	Polling
	Faulted
)

func (l Lifecycle) String() string {
	switch l {
	case Constructed:
		return "constructed"
	case Initialized:
		return "initialized"
	case Polling:
		return "polling"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Policy bounds init retries and tolerated poll failures.
type Policy struct {
	// InitAttempts is the number of construct+Init tries before the
	// device is faulted.
	InitAttempts int
	// InitBackoff is the first delay between attempts; it doubles up to
	// MaxBackoff.
	InitBackoff time.Duration
	MaxBackoff  time.Duration
	// MaxPollFailures consecutive PollSensors errors fault the device.
	MaxPollFailures int
}

func DefaultPolicy() Policy {
	return Policy{
		InitAttempts:    3,
		InitBackoff:     200 * time.Millisecond,
		MaxBackoff:      5 * time.Second,
		MaxPollFailures: 5,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.InitAttempts <= 0 {
		p.InitAttempts = d.InitAttempts
	}
	if p.InitBackoff < 0 {
		p.InitBackoff = 0
	}
	if p.MaxBackoff < p.InitBackoff {
		p.MaxBackoff = p.InitBackoff
	}
	if p.MaxPollFailures <= 0 {
		p.MaxPollFailures = d.MaxPollFailures
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
