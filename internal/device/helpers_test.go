package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/emberlab/devgate/internal/events"
	"github.com/emberlab/devgate/pkg/sdk"
)

type fakeDevice struct {
	name    string
	caps    sdk.Capabilities
	initErr error
	pollErr error

	mu      sync.Mutex
	inits   int
	polls   int
	closed  bool
	setArgs sdk.Document
	ctx     sdk.Context
}

func (d *fakeDevice) Name() string                   { return d.name }
func (d *fakeDevice) Capabilities() sdk.Capabilities { return d.caps }

func (d *fakeDevice) Init(ctx sdk.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inits++
	d.ctx = ctx
	return d.initErr
}

func (d *fakeDevice) PollSensors(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.polls++
	return d.pollErr
}

func (d *fakeDevice) State(sdk.Document) (sdk.Document, error) {
	return sdk.Document{"state": "ok"}, nil
}

func (d *fakeDevice) Set(args sdk.Document) error {
	if _, ok := args["bad"]; ok {
		return sdk.ErrInvalidArgument
	}
	d.mu.Lock()
	d.setArgs = args
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) HandleRequest(_ context.Context, req *sdk.Request) bool {
	switch req.Command {
	case "ping":
		req.Respond(sdk.Document{"pong": true})
		return true
	case "get":
		req.Respond(sdk.Document{"shadowed": true})
		return true
	}
	return false
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) pollCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.polls
}

func newTestRegistry(policy Policy) *Registry {
	r := NewRegistry(zap.NewNop(), events.NewBus(), policy)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

var errBoom = errors.New("boom")

func countingFactory(dev *fakeDevice, calls *atomic.Int32) Factory {
	return func() (sdk.Device, error) {
		calls.Add(1)
		return dev, nil
	}
}
