package sdk

import (
	"context"
	"strings"
)

// Document is a structured request argument or response body.
type Document = map[string]any

// Capabilities is the set of optional features a device supports.
// Callers check it instead of probing for overridden methods.
type Capabilities uint32

const (
	// CapSensors devices are polled periodically.
	CapSensors Capabilities = 1 << iota
	// CapSettable devices accept the generic "set" command through Setter.
	CapSettable
	// CapCommands devices handle device-specific commands.
	CapCommands
)

func (c Capabilities) Has(f Capabilities) bool { return c&f == f }

func (c Capabilities) String() string {
	var parts []string
	if c.Has(CapSensors) {
		parts = append(parts, "sensors")
	}
	if c.Has(CapSettable) {
		parts = append(parts, "settable")
	}
	if c.Has(CapCommands) {
		parts = append(parts, "commands")
	}
	return strings.Join(parts, ",")
}

// Device is the contract every peripheral driver implements.
type Device interface {
	Name() string
	Capabilities() Capabilities
	// Init acquires resources. It is called once per construction; the
	// registry retries it with backoff on failure.
	Init(ctx Context) error
	// PollSensors is called by the poll loop when CapSensors is set.
	PollSensors(ctx context.Context) error
	// State builds a snapshot of the current state. The result contains
	// at least a "state" string.
	State(args Document) (Document, error)
	// HandleRequest handles device-specific commands and reports whether
	// it did.
	HandleRequest(ctx context.Context, req *Request) bool
}

// Setter is implemented by CapSettable devices.
type Setter interface {
	Set(args Document) error
}
