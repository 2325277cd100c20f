// Package modules contains the default processing modules attached to the
// sidecar's listeners: transparent relays, health probes, stats endpoints
// and the local DNS forwarder.
package modules

import (
	"time"

	"grimm.is/switchyard/internal/composer"
	"grimm.is/switchyard/internal/config"
	"grimm.is/switchyard/internal/dispatch"
	"grimm.is/switchyard/internal/health"
	"grimm.is/switchyard/internal/listener"
	"grimm.is/switchyard/internal/logging"
	"grimm.is/switchyard/internal/metrics"
)

// Options carries what the default modules read at construction time.
type Options struct {
	Tree    config.Node
	Env     config.Env
	Logger  *logging.Logger
	Metrics *metrics.Registry
	Health  *health.Checker

	// Listeners returns the composed listener table for the stats endpoints.
	// It may be nil before composition finishes.
	Listeners func() []composer.Status

	// SocketMark is applied to relayed upstream sockets when non-zero.
	SocketMark  int
	DialTimeout time.Duration

	// ResolvConf is read for DNS upstreams when none are set in the
	// environment.
	ResolvConf string
	DNSTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logging.WithComponent("modules")
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Get()
	}
	if o.Health == nil {
		o.Health = health.NewChecker()
	}
	if o.Env == nil {
		o.Env = config.OSEnv()
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ResolvConf == "" {
		o.ResolvConf = "/etc/resolv.conf"
	}
	if o.DNSTimeout <= 0 {
		o.DNSTimeout = 2 * time.Second
	}
	return o
}

// RegisterDefaults registers every default module under its listener name.
func RegisterDefaults(reg *dispatch.Registry, opts Options) {
	opts = opts.withDefaults()

	reg.Register(listener.ModuleInbound, func(string) (dispatch.Handler, error) {
		return NewRelay(DirectionInbound, opts), nil
	})
	reg.Register(listener.ModuleOutbound, func(string) (dispatch.Handler, error) {
		return NewRelay(DirectionOutbound, opts), nil
	})
	reg.Register(listener.ModuleProbes, func(arg string) (dispatch.Handler, error) {
		return NewProbe(arg, opts)
	})
	reg.Register(listener.ModuleStats, func(arg string) (dispatch.Handler, error) {
		return NewStats(arg, opts)
	})
	reg.Register(listener.ModuleDNS, func(string) (dispatch.Handler, error) {
		return NewDNS(opts)
	})
}
