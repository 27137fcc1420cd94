package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emberlab/devgate/pkg/sdk"
)

// Factory constructs a device. It is called once per init attempt.
type Factory func() (sdk.Device, error)

type entry struct {
	name    string
	factory Factory
	once    sync.Once

	mu      sync.Mutex
	dev     sdk.Device
	cancel  context.CancelFunc
	state   Lifecycle
	polls   int // consecutive poll failures
	lastErr error
}

// Status is a point-in-time view of one registered device.
type Status struct {
	Name         string `json:"name"`
	Lifecycle    string `json:"lifecycle"`
	Capabilities string `json:"capabilities,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Registry owns the process-wide device instances. Each device is
// constructed lazily on first access, exactly once, and lives until
// Close.
type Registry struct {
	log    *zap.Logger
	bus    sdk.Bus
	policy Policy
	chain  []handler
	sleep  func(context.Context, time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

func NewRegistry(log *zap.Logger, bus sdk.Bus, policy Policy) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		log:     log.Named("devices"),
		bus:     bus,
		policy:  policy.normalized(),
		chain:   defaultChain(),
		sleep:   sleepCtx,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
}

// Register adds a device factory under a unique name.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("%w: device name and factory are required", sdk.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: device %q already registered", sdk.ErrResourceBusy, name)
	}
	r.entries[name] = &entry{name: name, factory: f}
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: device %q", sdk.ErrNotFound, name)
	}
	return e, nil
}

func (r *Registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// Get returns the named device, constructing and initializing it on
// first access. Faulted devices return ErrFaulted. Construction and its
// retries run on the registry lifetime, not on ctx.
func (r *Registry) Get(ctx context.Context, name string) (sdk.Device, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.ensure(e)
}

func (r *Registry) ensure(e *entry) (sdk.Device, error) {
	e.once.Do(func() { r.construct(e) })
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Faulted {
		return nil, fmt.Errorf("%w: %s: %v", sdk.ErrFaulted, e.name, e.lastErr)
	}
	return e.dev, nil
}

func (r *Registry) construct(e *entry) {
	log := r.log.With(zap.String("device", e.name))
	delay := r.policy.InitBackoff
	var err error
	for attempt := 1; ; attempt++ {
		var dev sdk.Device
		if dev, err = e.factory(); err == nil && dev == nil {
			err = errors.New("factory returned no device")
		}
		if err == nil {
			lifetime, cancel := context.WithCancel(r.ctx)
			if err = dev.Init(newDeviceContext(log, r.bus, lifetime)); err == nil {
				e.mu.Lock()
				e.dev, e.cancel, e.state = dev, cancel, Initialized
				e.mu.Unlock()
				log.Info("device initialized", zap.Int("attempt", attempt), zap.Stringer("capabilities", dev.Capabilities()))
				return
			}
			cancel()
			closeDevice(dev)
		}
		log.Warn("device init failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt >= r.policy.InitAttempts {
			break
		}
		if werr := r.sleep(r.ctx, delay); werr != nil {
			err = werr
			break
		}
		delay = min(delay*2, r.policy.MaxBackoff)
	}
	e.mu.Lock()
	e.state, e.lastErr = Faulted, err
	e.mu.Unlock()
	log.Error("device faulted", zap.Error(err))
}

// Start initializes every registered device in registration order.
// Faulted devices are logged; the rest keep running.
func (r *Registry) Start(ctx context.Context) {
	for _, e := range r.snapshot() {
		if ctx.Err() != nil {
			return
		}
		_, _ = r.ensure(e)
	}
}

// Poll runs PollSensors once on every healthy device with CapSensors.
func (r *Registry) Poll(ctx context.Context) {
	for _, e := range r.snapshot() {
		dev, err := r.ensure(e)
		if err != nil || !dev.Capabilities().Has(sdk.CapSensors) {
			continue
		}
		perr := dev.PollSensors(ctx)

		e.mu.Lock()
		if perr == nil {
			e.polls = 0
			e.state = Polling
			e.mu.Unlock()
			continue
		}
		e.polls++
		e.lastErr = perr
		fails := e.polls
		if fails >= r.policy.MaxPollFailures {
			e.state = Faulted
		}
		e.mu.Unlock()

		if fails >= r.policy.MaxPollFailures {
			r.log.Error("device faulted after poll failures", zap.String("device", e.name), zap.Int("failures", fails), zap.Error(perr))
		} else {
			r.log.Warn("poll failed", zap.String("device", e.name), zap.Int("failures", fails), zap.Error(perr))
		}
	}
}

// Status reports every registered device, including ones not yet
// constructed.
func (r *Registry) Status() []Status {
	entries := r.snapshot()
	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		st := Status{Name: e.name, Lifecycle: e.state.String()}
		if e.dev != nil {
			st.Capabilities = e.dev.Capabilities().String()
		}
		if e.lastErr != nil {
			st.Error = e.lastErr.Error()
		}
		e.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// States returns the current state of every constructed, healthy
// device in registration order. It never constructs a device.
func (r *Registry) States() []sdk.StateChanged {
	var out []sdk.StateChanged
	for _, e := range r.snapshot() {
		e.mu.Lock()
		dev, state := e.dev, e.state
		e.mu.Unlock()
		if dev == nil || state == Faulted {
			continue
		}
		doc, err := dev.State(nil)
		if err != nil {
			r.log.Debug("state unavailable", zap.String("device", e.name), zap.Error(err))
			continue
		}
		out = append(out, sdk.StateChanged{Device: e.name, State: doc, At: time.Now()})
	}
	return out
}

// Close cancels device lifetimes and closes devices implementing io.Closer.
func (r *Registry) Close() {
	r.cancel()
	for _, e := range r.snapshot() {
		e.mu.Lock()
		dev, cancel := e.dev, e.cancel
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if dev != nil {
			if err := closeDevice(dev); err != nil {
				r.log.Warn("device close failed", zap.String("device", e.name), zap.Error(err))
			}
		}
	}
}

func closeDevice(dev sdk.Device) error {
	if c, ok := dev.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// IsFaulted reports whether err came from a faulted device.
func IsFaulted(err error) bool { return errors.Is(err, sdk.ErrFaulted) }
