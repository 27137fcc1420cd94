package device

import (
	"context"
	"fmt"

	"github.com/emberlab/devgate/pkg/sdk"
)

// handler is one link of the dispatch chain. It reports whether it
// handled the request; the response goes into the request itself.
type handler func(ctx context.Context, dev sdk.Device, req *sdk.Request) bool

// defaultChain tries the generic get/set layer before device commands.
func defaultChain() []handler {
	return []handler{getState, setState, deviceCommand}
}

func getState(_ context.Context, dev sdk.Device, req *sdk.Request) bool {
	if req.Command != sdk.CommandGet && req.Command != sdk.CommandState {
		return false
	}
	respondState(dev, req)
	return true
}

func setState(_ context.Context, dev sdk.Device, req *sdk.Request) bool {
	if req.Command != sdk.CommandSet || !dev.Capabilities().Has(sdk.CapSettable) {
		return false
	}
	s, ok := dev.(sdk.Setter)
	if !ok {
		return false
	}
	if err := s.Set(req.Args); err != nil {
		req.Fail(err)
		return true
	}
	respondState(dev, req)
	return true
}

func deviceCommand(ctx context.Context, dev sdk.Device, req *sdk.Request) bool {
	if !dev.Capabilities().Has(sdk.CapCommands) {
		return false
	}
	return dev.HandleRequest(ctx, req)
}

func respondState(dev sdk.Device, req *sdk.Request) {
	doc, err := dev.State(req.Args)
	if err != nil {
		req.Fail(err)
		return
	}
	req.Respond(doc)
}

// Dispatch routes req to its target device through the handler chain.
// The returned error is the request's own failure, ErrNotFound for an
// unknown device or command, or ErrFaulted.
func (r *Registry) Dispatch(ctx context.Context, req *sdk.Request) error {
	dev, err := r.Get(ctx, req.Target)
	if err != nil {
		req.Fail(err)
		return err
	}
	for _, h := range r.chain {
		if h(ctx, dev, req) {
			return req.Err()
		}
	}
	err = fmt.Errorf("%w: command %q on %s", sdk.ErrNotFound, req.Command, req.Target)
	req.Fail(err)
	return err
}
