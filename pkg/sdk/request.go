package sdk

import "sync"

// Standard commands answered by the generic dispatch layer.
const (
	CommandGet   = "get"
	CommandState = "state"
	CommandSet   = "set"
)

// Request is a routed command for one device. Handlers fill the response
// slot through Respond or Fail.
type Request struct {
	Target  string
	Command string
	Args    Document
	// Origin identifies the sender, a connection id or "mqtt".
	Origin string

	mu   sync.Mutex
	resp Document
	err  error
}

func NewRequest(target, command string, args Document) *Request {
	if args == nil {
		args = Document{}
	}
	return &Request{Target: target, Command: command, Args: args}
}

func (r *Request) Respond(doc Document) {
	r.mu.Lock()
	r.resp, r.err = doc, nil
	r.mu.Unlock()
}

func (r *Request) Fail(err error) {
	r.mu.Lock()
	r.resp, r.err = nil, err
	r.mu.Unlock()
}

func (r *Request) Response() Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resp
}

func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
