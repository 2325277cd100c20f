package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
)

// ErrModuleUnavailable is returned when a module name has no registered
// factory or its factory fails to initialize.
var ErrModuleUnavailable = errors.New("module unavailable")

// Handler processes one connection or UDP flow. The dispatcher closes conn
// after ServeConn returns.
type Handler interface {
	ServeConn(ctx context.Context, cc *ConnContext, conn net.Conn) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cc *ConnContext, conn net.Conn) error

// ServeConn calls f.
func (f HandlerFunc) ServeConn(ctx context.Context, cc *ConnContext, conn net.Conn) error {
	return f(ctx, cc, conn)
}

// Factory builds a module instance. arg selects a variant of the module
// (e.g. the probe kind) and is empty when the listener passes none.
type Factory func(arg string) (Handler, error)

// Registry maps module names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns the registered module names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve builds the handler for name(arg).
func (r *Registry) Resolve(name, arg string) (Handler, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	target := name
	if arg != "" {
		target = fmt.Sprintf("%s(%s)", name, arg)
	}

	if !ok || f == nil {
		return nil, fmt.Errorf("%w: no module registered as %q", ErrModuleUnavailable, name)
	}
	h, err := f(arg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s failed to initialize: %w", ErrModuleUnavailable, target, err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: %s returned no handler", ErrModuleUnavailable, target)
	}
	return h, nil
}
