package dispatch

import (
	"bytes"
	"net"
	"time"

	"github.com/google/uuid"

	"grimm.is/switchyard/internal/clock"
	"grimm.is/switchyard/internal/listener"
	"grimm.is/switchyard/internal/logging"
)

// ConnContext is the per-connection scratch state handed to a module.
// Exactly one goroutine owns it; it is not safe for concurrent use.
type ConnContext struct {
	ID         string
	Listener   listener.Spec
	Accepted   time.Time
	LocalAddr  net.Addr
	RemoteAddr net.Addr

	// Scratch is an empty buffer modules may use freely.
	Scratch *bytes.Buffer

	// Logger is scoped to the listener and connection id.
	Logger *logging.Logger

	values map[string]any
}

// NewConnContext builds a fresh context for one connection or flow.
func NewConnContext(spec listener.Spec, local, remote net.Addr, logger *logging.Logger) *ConnContext {
	id := uuid.NewString()
	if logger == nil {
		logger = logging.WithComponent("dispatch")
	}
	return &ConnContext{
		ID:         id,
		Listener:   spec,
		Accepted:   clock.Now(),
		LocalAddr:  local,
		RemoteAddr: remote,
		Scratch:    new(bytes.Buffer),
		Logger:     logger.WithFields(map[string]any{"listener": spec.Name, "conn": id}),
	}
}

// Set stores a value for later stages of the same connection.
func (c *ConnContext) Set(key string, v any) {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = v
}

// Get returns a value stored with Set.
func (c *ConnContext) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Age returns how long ago the connection was accepted.
func (c *ConnContext) Age() time.Duration {
	return clock.Since(c.Accepted)
}
