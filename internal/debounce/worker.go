package debounce

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/emberlab/devgate/pkg/sdk"
)

const (
	QueueSize     = 16
	DefaultWait   = 1000 * time.Millisecond
	DefaultSettle = DefaultWait
)

// Heartbeat receives a kick on every worker loop iteration.
type Heartbeat interface {
	Kick(name string)
}

type Options struct {
	// Wait bounds each queue receive. It only keeps the heartbeat current.
	Wait time.Duration
	// Settle is how long the source must stay quiet before the pending
	// command is published. Every edge restarts it, so a burst of edges
	// spaced closer than Settle yields one command.
	Settle time.Duration
}

type Stats struct {
	Received  uint64
	Published uint64
	Dropped   uint64
}

// Worker turns raw edge notifications into coalesced Command events.
// An edge notification is the signed time since the previous edge:
// negative means the source was inserted for |d|, positive means it was
// removed for d.
type Worker struct {
	source string
	bus    sdk.Bus
	hb     Heartbeat
	log    *zap.Logger
	wait   time.Duration
	settle time.Duration
	queue  chan time.Duration

	last sdk.CommandCode // owned by Run

	received  atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

func New(source string, bus sdk.Bus, hb Heartbeat, log *zap.Logger, opts Options) *Worker {
	if opts.Wait <= 0 {
		opts.Wait = DefaultWait
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		source: source,
		bus:    bus,
		hb:     hb,
		log:    log.Named("debounce").With(zap.String("source", source)),
		wait:   opts.Wait,
		settle: opts.Settle,
		queue:  make(chan time.Duration, QueueSize),
	}
}

// Name is the heartbeat name of the worker.
func (w *Worker) Name() string { return "debounce:" + w.source }

// Notify queues an edge without blocking. It reports false when the
// queue is full and the edge was dropped.
func (w *Worker) Notify(elapsed time.Duration) bool {
	select {
	case w.queue <- elapsed:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

func (w *Worker) Stats() Stats {
	return Stats{
		Received:  w.received.Load(),
		Published: w.published.Load(),
		Dropped:   w.dropped.Load(),
	}
}

// Run consumes the queue until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	var (
		pending  sdk.CommandCode
		deadline time.Time
	)
	timer := time.NewTimer(w.wait)
	defer timer.Stop()

	for {
		if w.hb != nil {
			w.hb.Kick(w.Name())
		}
		wait := w.wait
		if pending != 0 {
			wait = max(time.Until(deadline), 0)
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case d := <-w.queue:
			w.received.Add(1)
			pending = w.classify(d)
			deadline = time.Now().Add(w.settle)
		case <-timer.C:
			if pending != 0 && !time.Now().Before(deadline) {
				w.flush(pending)
				pending = 0
			}
		}
	}
}

func (w *Worker) classify(d time.Duration) sdk.CommandCode {
	if d < 0 {
		w.log.Info("inserted", zap.Duration("held", -d))
		return sdk.CommandInserted
	}
	w.log.Info("removed", zap.Duration("held", d))
	return sdk.CommandRemoved
}

func (w *Worker) flush(code sdk.CommandCode) {
	if code == w.last {
		w.log.Debug("command unchanged, not published", zap.Stringer("command", code))
		return
	}
	w.last = code
	w.log.Info("command issued", zap.Stringer("command", code))
	w.published.Add(1)
	w.bus.Publish(sdk.Command{Source: w.source, Code: code})
}
