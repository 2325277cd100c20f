// Package composer opens the listeners produced by listener.Build, attaches
// their modules and owns the resulting process state until shutdown.
package composer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"grimm.is/switchyard/internal/dispatch"
	"grimm.is/switchyard/internal/listener"
	"grimm.is/switchyard/internal/logging"
	"grimm.is/switchyard/internal/metrics"
)

// Listener states reported by Status.
const (
	StateBound   = "bound"
	StateSkipped = "skipped"
	StateFailed  = "failed"
)

// Options configures Compose.
type Options struct {
	Registry *dispatch.Registry
	Binder   listener.Binder
	Metrics  *metrics.Registry
	Logger   *logging.Logger

	// Dispatch tunes every listener's dispatcher. Its Logger and Metrics
	// default to the composer's.
	Dispatch dispatch.Options
}

// Status describes one listener slot after composition.
type Status struct {
	Spec  listener.Spec
	State string
	Addr  string
	Err   error
}

type running struct {
	spec listener.Spec
	d    dispatch.Dispatcher
}

// State is the set of running listeners and the failures met while starting
// them.
type State struct {
	logger   *logging.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
	running  []running
	statuses []Status
	failures []*GroupError
}

// Compose realizes every bindable spec. Each listener is resolved and bound
// independently: a failure is recorded against its group and composition
// continues with the next spec.
func Compose(ctx context.Context, specs []listener.Spec, opts Options) *State {
	if opts.Registry == nil {
		opts.Registry = dispatch.NewRegistry()
	}
	if opts.Binder == nil {
		opts.Binder = listener.SocketBinder{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("composer")
	}
	if opts.Dispatch.Logger == nil {
		opts.Dispatch.Logger = opts.Logger.WithComponent("dispatch")
	}
	if opts.Dispatch.Metrics == nil {
		opts.Dispatch.Metrics = opts.Metrics
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &State{
		logger: opts.Logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	active := make(map[listener.Group]bool)
	for _, spec := range specs {
		active[spec.Group] = active[spec.Group] || spec.Active
	}
	for _, g := range listener.Groups() {
		opts.Metrics.SetGroupActive(string(g), active[g])
	}

	for _, spec := range specs {
		if !spec.Bindable() {
			s.logger.Debug("Listener skipped", "listener", spec.Name, "group", spec.Group, "active", spec.Active)
			s.statuses = append(s.statuses, Status{Spec: spec, State: StateSkipped})
			continue
		}

		d, err := s.start(runCtx, spec, opts)
		if err != nil {
			var ge *GroupError
			errors.As(err, &ge)
			s.failures = append(s.failures, ge)
			s.statuses = append(s.statuses, Status{Spec: spec, State: StateFailed, Addr: spec.Addr(), Err: err})
			opts.Metrics.RecordListenerFailure(string(spec.Group), string(ge.Kind))
			opts.Metrics.SetListenerUp(string(spec.Group), spec.Name, spec.Addr(), false)
			s.logger.Error("Listener failed to start", "group", spec.Group, "listener", spec.Name, "addr", spec.Addr(), "kind", ge.Kind, "error", ge.Err)
			continue
		}

		addr := d.Addr().String()
		s.running = append(s.running, running{spec: spec, d: d})
		s.statuses = append(s.statuses, Status{Spec: spec, State: StateBound, Addr: addr})
		opts.Metrics.SetListenerUp(string(spec.Group), spec.Name, spec.Addr(), true)
		s.logger.Info("Listener started", "listener", spec.Name, "addr", addr, "proto", spec.Protocol, "module", spec.Target(), "transparent", spec.Transparent)

		s.wg.Add(1)
		go func(r running) {
			defer s.wg.Done()
			if err := r.d.Serve(runCtx); err != nil {
				s.logger.Error("Listener loop exited", "listener", r.spec.Name, "error", err)
			}
		}(running{spec: spec, d: d})
	}

	go func() {
		s.wg.Wait()
		close(s.done)
	}()
	return s
}

func (s *State) start(ctx context.Context, spec listener.Spec, opts Options) (dispatch.Dispatcher, error) {
	fail := func(kind Kind, err error) error {
		return &GroupError{Group: spec.Group, Listener: spec.Name, Addr: spec.Addr(), Kind: kind, Err: err}
	}

	h, err := opts.Registry.Resolve(spec.Module, spec.ModuleArg)
	if err != nil {
		return nil, fail(KindModule, err)
	}

	switch spec.Protocol {
	case listener.ProtocolTCP:
		ln, err := opts.Binder.Listen(ctx, spec)
		if err != nil {
			return nil, fail(KindBind, err)
		}
		return dispatch.NewStreamDispatcher(spec, ln, h, opts.Dispatch), nil
	case listener.ProtocolUDP:
		pc, err := opts.Binder.ListenPacket(ctx, spec)
		if err != nil {
			return nil, fail(KindBind, err)
		}
		return dispatch.NewPacketDispatcher(spec, pc, h, opts.Dispatch), nil
	default:
		return nil, fail(KindBind, fmt.Errorf("unknown protocol %q", spec.Protocol))
	}
}

// Listeners returns the status of every slot in spec order.
func (s *State) Listeners() []Status {
	out := make([]Status, len(s.statuses))
	copy(out, s.statuses)
	return out
}

// Failures returns the per-listener group failures.
func (s *State) Failures() []*GroupError {
	out := make([]*GroupError, len(s.failures))
	copy(out, s.failures)
	return out
}

// FailedGroups returns the groups with at least one failed listener.
func (s *State) FailedGroups() []listener.Group {
	seen := make(map[listener.Group]bool)
	var groups []listener.Group
	for _, f := range s.failures {
		if !seen[f.Group] {
			seen[f.Group] = true
			groups = append(groups, f.Group)
		}
	}
	return groups
}

// Bound returns the number of listeners serving.
func (s *State) Bound() int {
	return len(s.running)
}

// Addr returns the bound address of the named listener.
func (s *State) Addr(name string) (net.Addr, bool) {
	for _, r := range s.running {
		if r.spec.Name == name {
			return r.d.Addr(), true
		}
	}
	return nil, false
}

// Done is closed once every listener loop has returned.
func (s *State) Done() <-chan struct{} {
	return s.done
}

// Shutdown stops accepting on every listener and waits for in-flight
// connections. When ctx expires first, remaining connections are closed and
// ctx's error is returned after they drain.
func (s *State) Shutdown(ctx context.Context) error {
	s.cancel()
	for _, r := range s.running {
		if err := r.d.Close(); err != nil {
			s.logger.Warn("Error closing listener", "listener", r.spec.Name, "error", err)
		}
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		for _, r := range s.running {
			r.d.Wait()
		}
		close(drained)
	}()

	select {
	case <-drained:
		s.logger.Info("All listeners stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Shutdown deadline reached, closing connections", "error", ctx.Err())
		for _, r := range s.running {
			r.d.CloseConns()
		}
		<-drained
		return ctx.Err()
	}
}
