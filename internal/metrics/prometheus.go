package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"grimm.is/switchyard/internal/brand"
	"grimm.is/switchyard/internal/clock"
)

const namespace = "switchyard"

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all sidecar metrics on a dedicated prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	// Composition
	GroupActive      *prometheus.GaugeVec
	ListenerUp       *prometheus.GaugeVec
	ListenerFailures *prometheus.CounterVec

	// Dispatch
	ConnectionsTotal  *prometheus.CounterVec
	ConnectionsActive *prometheus.GaugeVec
	HandlerErrors     *prometheus.CounterVec
	FlowsActive       *prometheus.GaugeVec
	DatagramsDropped  *prometheus.CounterVec

	// Modules
	ProbeRequests *prometheus.CounterVec
	DNSQueries    *prometheus.CounterVec

	// Process
	StartTime prometheus.Gauge
	BuildInfo *prometheus.GaugeVec
}

// Get returns the process-wide metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = New()
	})
	return registry
}

// New creates an independent registry. Tests use it to avoid sharing counters.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	r := &Registry{reg: reg}

	r.GroupActive = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "group_active",
		Help:      "Activation decision per listener group (1 active, 0 inactive)",
	}, []string{"group"})

	r.ListenerUp = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "listener_up",
		Help:      "Whether a listener slot is bound and serving",
	}, []string{"group", "listener", "addr"})

	r.ListenerFailures = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listener_failures_total",
		Help:      "Listener start failures by group and kind (bind, module)",
	}, []string{"group", "kind"})

	r.ConnectionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_total",
		Help:      "Connections or UDP flows handed to a module",
	}, []string{"listener", "module"})

	r.ConnectionsActive = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Connections or UDP flows currently owned by a module",
	}, []string{"listener"})

	r.HandlerErrors = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handler_errors_total",
		Help:      "Module handlers that returned an error",
	}, []string{"listener", "module"})

	r.FlowsActive = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "udp_flows_active",
		Help:      "Open UDP flows per listener",
	}, []string{"listener"})

	r.DatagramsDropped = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "udp_datagrams_dropped_total",
		Help:      "Datagrams dropped because a flow's queue was full",
	}, []string{"listener"})

	r.ProbeRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probe_requests_total",
		Help:      "Health probe requests by kind and response code",
	}, []string{"kind", "code"})

	r.DNSQueries = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dns_queries_total",
		Help:      "DNS queries by outcome",
	}, []string{"result"})

	r.StartTime = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "start_time_seconds",
		Help:      "Unix time the process started composing listeners",
	})
	r.StartTime.Set(float64(clock.Now().Unix()))

	r.BuildInfo = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information",
	}, []string{"version", "commit"})
	r.BuildInfo.WithLabelValues(brand.Version, brand.GitCommit).Set(1)

	return r
}

// Gatherer exposes the registry for the stats module.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// SetGroupActive records an activation decision.
func (r *Registry) SetGroupActive(group string, active bool) {
	r.GroupActive.WithLabelValues(group).Set(boolGauge(active))
}

// SetListenerUp records whether a listener slot is serving.
func (r *Registry) SetListenerUp(group, listener, addr string, up bool) {
	r.ListenerUp.WithLabelValues(group, listener, addr).Set(boolGauge(up))
}

// RecordListenerFailure counts a failed listener start.
func (r *Registry) RecordListenerFailure(group, kind string) {
	r.ListenerFailures.WithLabelValues(group, kind).Inc()
}

// ConnOpened counts a connection handed to a module.
func (r *Registry) ConnOpened(listener, module string) {
	r.ConnectionsTotal.WithLabelValues(listener, module).Inc()
	r.ConnectionsActive.WithLabelValues(listener).Inc()
}

// ConnClosed records the end of a connection and whether its handler failed.
func (r *Registry) ConnClosed(listener, module string, err error) {
	r.ConnectionsActive.WithLabelValues(listener).Dec()
	if err != nil {
		r.HandlerErrors.WithLabelValues(listener, module).Inc()
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
