// Package sdcard is the removable storage device: a card-detect pin
// debounced into Command events, and a guarded mount/unmount pair driven
// by the detected state.
package sdcard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emberlab/devgate/internal/debounce"
	"github.com/emberlab/devgate/internal/device"
	"github.com/emberlab/devgate/internal/gpio"
	"github.com/emberlab/devgate/pkg/sdk"
)

type State string

const (
	Removed  State = "removed"
	Inserted State = "inserted"
)

// Mounter attaches and detaches the backing filesystem.
type Mounter interface {
	Mount(source, target, fstype string) error
	Unmount(target string, force bool) error
}

// PinOpener opens the card-detect pin. onEdge must be wired to the pin's
// edge notifications.
type PinOpener func(onEdge gpio.EdgeFunc) (gpio.DigitalPin, error)

type Options struct {
	Name   string
	Source string
	Target string
	FSType string
	// Settle is the debounce window for card-detect edges.
	Settle time.Duration
	// Heartbeat receives the debounce worker's liveness kicks.
	Heartbeat debounce.Heartbeat
}

// Card is a sdk.Device for a removable card.
type Card struct {
	opts    Options
	open    PinOpener
	mounter Mounter

	log    *zap.Logger
	pin    gpio.DigitalPin
	cell   *device.StateCell[State]
	worker *debounce.Worker
	sub    sdk.Subscription
	done   chan struct{}

	mu         sync.Mutex
	mounted    bool
	mounting   bool
	unmounting bool
}

func New(open PinOpener, m Mounter, opts Options) *Card {
	if opts.Name == "" {
		opts.Name = "sdcard"
	}
	return &Card{opts: opts, open: open, mounter: m, log: zap.NewNop()}
}

func (c *Card) Name() string                   { return c.opts.Name }
func (c *Card) Capabilities() sdk.Capabilities { return sdk.CapCommands }

func (c *Card) Init(ctx sdk.Context) error {
	c.log = ctx.Log()
	bus := ctx.Bus()
	c.cell = device.NewStateCell(c.opts.Name, bus, c.log, func(s State) sdk.Document {
		return sdk.Document{"state": string(s)}
	})
	c.mu.Lock()
	c.worker = debounce.New(c.opts.Name, bus, c.opts.Heartbeat, c.log, debounce.Options{Settle: c.opts.Settle})
	c.mu.Unlock()

	pin, err := c.open(c.Edge)
	if err != nil {
		return fmt.Errorf("open card-detect pin: %w", err)
	}
	c.pin = pin

	c.sub = bus.Subscribe(func(ev sdk.Event) {
		cmd, ok := ev.(sdk.Command)
		if !ok || cmd.Source != c.opts.Name {
			return
		}
		if err := c.RefreshState(); err != nil {
			c.log.Error("refresh after command failed", zap.Stringer("command", cmd.Code), zap.Error(err))
		}
	})

	c.done = make(chan struct{})
	go func(lifetime context.Context) {
		defer close(c.done)
		c.worker.Run(lifetime)
	}(ctx.Lifetime())

	return c.RefreshState()
}

// Edge feeds one card-detect edge into the debounce worker. It never
// blocks and may be called from the GPIO event goroutine.
func (c *Card) Edge(elapsed time.Duration) {
	if c.worker == nil {
		return
	}
	if !c.worker.Notify(elapsed) {
		c.log.Warn("card-detect edge dropped, queue full")
	}
}

// RefreshState reads the pin and records the result.
func (c *Card) RefreshState() error {
	present, err := c.pin.Read()
	if err != nil {
		return sdk.NewIOError("read card-detect", err)
	}
	s := Removed
	if present {
		s = Inserted
	}
	c.setState(s)
	return nil
}

// setState records s and, on a transition, mounts or unmounts. Mount
// errors are logged; the recorded state still follows the pin.
func (c *Card) setState(s State) {
	if !c.cell.Set(s) {
		return
	}
	switch s {
	case Inserted:
		if err := c.Mount(); err != nil {
			c.log.Error("mount failed", zap.String("target", c.opts.Target), zap.Int("code", ioCode(err)), zap.Error(err))
		}
	case Removed:
		if err := c.Unmount(true); err != nil {
			c.log.Error("unmount failed", zap.String("target", c.opts.Target), zap.Int("code", ioCode(err)), zap.Error(err))
		}
	}
}

// Mount attaches the card. It fails fast with ErrResourceBusy while
// mounted or while another mount or unmount is in progress.
func (c *Card) Mount() error {
	c.mu.Lock()
	if c.mounted || c.unmounting || c.mounting {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is mounted or changing", sdk.ErrResourceBusy, c.opts.Target)
	}
	c.mounting = true
	c.mu.Unlock()

	err := c.mounter.Mount(c.opts.Source, c.opts.Target, c.opts.FSType)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mounting = false
	if err != nil {
		return asIOError("mount", err)
	}
	c.mounted, c.unmounting = true, false
	c.log.Info("mounted", zap.String("source", c.opts.Source), zap.String("target", c.opts.Target))
	return nil
}

// Unmount detaches the card. Only a hard unmount is supported.
func (c *Card) Unmount(hard bool) error {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return nil
	}
	if c.unmounting || c.mounting {
		c.mu.Unlock()
		return fmt.Errorf("%w: unmount of %s in progress", sdk.ErrResourceBusy, c.opts.Target)
	}
	if !hard {
		c.mu.Unlock()
		return fmt.Errorf("%w: graceful unmount", sdk.ErrUnsupported)
	}
	c.unmounting = true
	c.mu.Unlock()

	err := c.mounter.Unmount(c.opts.Target, true)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.unmounting = false
	if err != nil {
		return asIOError("unmount", err)
	}
	c.mounted = false
	c.log.Info("unmounted", zap.String("target", c.opts.Target))
	return nil
}

func (c *Card) flags() (mounted, unmounting bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mounted, c.unmounting
}

func (c *Card) State(sdk.Document) (sdk.Document, error) {
	s, stamp, ok := c.cell.Get()
	if !ok {
		s = Removed
	}
	mounted, unmounting := c.flags()
	doc := sdk.Document{
		"state":      string(s),
		"mounted":    mounted,
		"unmounting": unmounting,
		"target":     c.opts.Target,
	}
	if ok {
		doc["updated"] = stamp.UnixMilli()
	}
	return doc, nil
}

// PollSensors is unused; the card is edge driven.
func (c *Card) PollSensors(context.Context) error { return nil }

func (c *Card) HandleRequest(_ context.Context, req *sdk.Request) bool {
	var err error
	switch req.Command {
	case "mount":
		err = c.Mount()
	case "unmount":
		err = c.Unmount(true)
	case "refresh":
		err = c.RefreshState()
	default:
		return false
	}
	if err != nil {
		req.Fail(err)
		return true
	}
	doc, _ := c.State(req.Args)
	req.Respond(doc)
	return true
}

// Stats exposes the debounce worker counters.
func (c *Card) Stats() debounce.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.worker == nil {
		return debounce.Stats{}
	}
	return c.worker.Stats()
}

// Close revokes the command subscription and releases the pin. The
// worker stops with the device lifetime.
func (c *Card) Close() error {
	if c.sub != nil {
		c.sub.Cancel()
	}
	if c.done != nil {
		<-c.done
		if r, ok := c.opts.Heartbeat.(interface{ Remove(string) }); ok {
			r.Remove(c.worker.Name())
		}
	}
	if cl, ok := c.pin.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

func asIOError(op string, err error) error {
	var ioe *sdk.IOError
	if errors.As(err, &ioe) {
		return err
	}
	return sdk.NewIOError(op, err)
}

func ioCode(err error) int {
	var ioe *sdk.IOError
	if errors.As(err, &ioe) {
		return ioe.Code
	}
	return 0
}
