package sdk

import "time"

// Event kinds that are not tied to a device name.
const (
	KindShell        = "shell"
	KindStateChanged = "state-changed"
)

// Event is one of Shell, Command or StateChanged. The set is closed:
// subscribers type-switch over the variants.
type Event interface {
	Kind() string
	event()
}

// Shell carries a free-text diagnostic message, optionally tied to the
// WebSocket connection it came from.
type Shell struct {
	Message string `json:"message"`
	ConnID  string `json:"conn,omitempty"`
}

func (Shell) Kind() string { return KindShell }
func (Shell) event()       {}

// CommandCode is the coalesced result of a debounced edge source.
type CommandCode int

const (
	CommandInserted CommandCode = 1
	CommandRemoved  CommandCode = 2
)

func (c CommandCode) String() string {
	switch c {
	case CommandInserted:
		return "inserted"
	case CommandRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Command is published once per stable transition of an edge source.
type Command struct {
	Source string      `json:"source"`
	Code   CommandCode `json:"code"`
}

func (c Command) Kind() string { return c.Source + "-det" }
func (Command) event()         {}

// StateChanged is published when a device records a value different
// from the previous one.
type StateChanged struct {
	Device string    `json:"name"`
	State  Document  `json:"data"`
	At     time.Time `json:"ts"`
}

func (StateChanged) Kind() string { return KindStateChanged }
func (StateChanged) event()       {}

// Handler receives events on the publisher's goroutine.
type Handler func(ev Event)

// Subscription is a revocable registration on a Bus.
type Subscription interface {
	Cancel()
}

// Bus dispatches every published event synchronously to all
// subscribers, in registration order, before Publish returns.
type Bus interface {
	Publish(ev Event)
	Subscribe(h Handler) Subscription
}
