package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/luma/beacon/protocol"
)

// Handler executes one command. payload is always the canonical
// normalized JSON object. The returned value is marshalled into the
// response's data field; a returned error becomes a failure response
// carrying its message.
type Handler func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// Dispatcher maps command names to their registered handlers.
//
// Handlers on a single connection run sequentially in arrival order,
// so responses go out in the order their requests came in. That, plus
// echoing the request id, keeps both correlation modes on the
// requester side sound.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[protocol.Command]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[protocol.Command]Handler),
	}
}

// Register installs handler for name, replacing any previous handler.
func (d *Dispatcher) Register(name protocol.Command, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[name] = handler
}

// Commands lists the registered command names.
func (d *Dispatcher) Commands() []protocol.Command {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]protocol.Command, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}

	return names
}

// Dispatch runs the handler for req and wraps its outcome into a
// response envelope, echoing the request id throughout.
func (d *Dispatcher) Dispatch(ctx context.Context, req *protocol.Request) *protocol.Response {
	d.mu.RLock()
	handler, ok := d.handlers[req.Command]
	d.mu.RUnlock()

	if !ok {
		return protocol.ErrResponse(req.ID, fmt.Sprintf("Unknown command: %s", req.Command))
	}

	value, err := handler(ctx, req.Payload)
	if err != nil {
		return protocol.ErrResponse(req.ID, err.Error())
	}

	resp, err := protocol.OkResponse(req.ID, value)
	if err != nil {
		return protocol.ErrResponse(req.ID, err.Error())
	}

	return resp
}
