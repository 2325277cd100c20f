package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"grimm.is/switchyard/internal/activation"
	"grimm.is/switchyard/internal/brand"
	"grimm.is/switchyard/internal/composer"
	"grimm.is/switchyard/internal/config"
	"grimm.is/switchyard/internal/dispatch"
	"grimm.is/switchyard/internal/health"
	"grimm.is/switchyard/internal/listener"
	"grimm.is/switchyard/internal/logging"
	"grimm.is/switchyard/internal/metrics"
	"grimm.is/switchyard/internal/modules"
)

// ErrNoListeners is returned when every bindable listener failed to start.
var ErrNoListeners = errors.New("no listener could be started")

// StartOptions configures a sidecar run.
type StartOptions struct {
	commonFlags

	FlowIdleTimeout time.Duration
	MaxConns        int
	ShutdownTimeout time.Duration
	SocketMark      int

	// Env defaults to the process environment.
	Env config.Env
	// Binder defaults to real sockets.
	Binder  listener.Binder
	Metrics *metrics.Registry

	// Ready is called once composition has finished.
	Ready func(*composer.State)
}

func newStartFlags(opts *StartOptions) *pflag.FlagSet {
	fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
	opts.commonFlags.register(fs)
	fs.DurationVar(&opts.FlowIdleTimeout, "flow-idle-timeout", dispatch.DefaultFlowIdleTimeout, "Close UDP flows idle for this long")
	fs.IntVar(&opts.MaxConns, "max-conns", 0, "Maximum concurrent connections per TCP listener (0 = unlimited)")
	fs.DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "Time to wait for connections to drain on shutdown")
	fs.IntVar(&opts.SocketMark, "socket-mark", 0, "SO_MARK applied to relayed upstream connections")
	return fs
}

// RunStart parses start flags and serves until SIGINT or SIGTERM.
func RunStart(args []string) error {
	var opts StartOptions
	fs := newStartFlags(&opts)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	unlog := context.AfterFunc(ctx, func() {
		logging.Info("Shutdown signal received")
	})
	defer unlog()
	return Start(ctx, opts)
}

// Start loads the configuration, composes the listeners and serves until
// ctx is cancelled.
func Start(ctx context.Context, opts StartOptions) error {
	logger, err := opts.setupLogging()
	if err != nil {
		return err
	}
	if opts.Env == nil {
		opts.Env = config.OSEnv()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	logger.Info("Starting sidecar", "name", brand.Name, "version", brand.Version, "pid", os.Getpid())

	loaded, err := loadConfig(opts.ConfigFile, logger)
	if err != nil {
		return err
	}

	decision := activation.Evaluate(loaded.Tree, opts.Env)
	specs := listener.Build(decision)
	logger.Info("Activation decided", "inbound", decision.Inbound, "outbound", decision.Outbound, "probes", decision.Probes, "dns", decision.DNS)

	checker := health.NewChecker()
	var current atomic.Pointer[composer.State]

	registry := dispatch.NewRegistry()
	modules.RegisterDefaults(registry, modules.Options{
		Tree:    loaded.Tree,
		Env:     opts.Env,
		Logger:  logger,
		Metrics: opts.Metrics,
		Health:  checker,
		Listeners: func() []composer.Status {
			if s := current.Load(); s != nil {
				return s.Listeners()
			}
			return nil
		},
		SocketMark: opts.SocketMark,
	})

	state := composer.Compose(ctx, specs, composer.Options{
		Registry: registry,
		Binder:   opts.Binder,
		Metrics:  opts.Metrics,
		Logger:   logger.WithComponent("composer"),
		Dispatch: dispatch.Options{
			MaxConns:        opts.MaxConns,
			FlowIdleTimeout: opts.FlowIdleTimeout,
		},
	})
	current.Store(state)

	checker.Register("listeners", health.CheckListeners(func() (int, int) {
		return state.Bound(), len(state.Failures())
	}))

	if state.Bound() == 0 && len(listener.Bindable(specs)) > 0 {
		shutdown(state, opts.ShutdownTimeout)
		return fmt.Errorf("%w: %w", ErrNoListeners, errors.Join(groupErrors(state)...))
	}
	checker.MarkStarted()

	if groups := state.FailedGroups(); len(groups) > 0 {
		logger.Warn("Running with failed listener groups", "groups", groups, "bound", state.Bound())
	} else {
		logger.Info("All listeners started", "bound", state.Bound())
	}
	if opts.Ready != nil {
		opts.Ready(state)
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case <-state.Done():
		logger.Warn("All listener loops exited")
	}
	return shutdown(state, opts.ShutdownTimeout)
}

func shutdown(state *composer.State, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := state.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func groupErrors(state *composer.State) []error {
	var errs []error
	for _, f := range state.Failures() {
		errs = append(errs, f)
	}
	return errs
}
