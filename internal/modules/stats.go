package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"grimm.is/switchyard/internal/composer"
	"grimm.is/switchyard/internal/config"
	"grimm.is/switchyard/internal/dispatch"
	"grimm.is/switchyard/internal/health"
	"grimm.is/switchyard/internal/listener"
)

// Stats serves the sidecar's metrics. The prometheus variant is a plain
// exposition endpoint; osm-stats is a small admin surface in the style of an
// Envoy admin port.
type Stats struct {
	variant string
	mux     *http.ServeMux
}

// NewStats builds the stats module for variant "prometheus" or "osm-stats".
func NewStats(variant string, opts Options) (*Stats, error) {
	opts = opts.withDefaults()
	gatherer := opts.Metrics.Gatherer()
	prom := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})

	mux := http.NewServeMux()
	switch variant {
	case listener.ArgPrometheus:
		mux.Handle("/", prom)
	case listener.ArgOSMStats:
		mux.Handle("/stats/prometheus", prom)
		mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			if err := WriteTextStats(w, gatherer, r.URL.Query().Get("filter")); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		})
		mux.HandleFunc("/listeners", listenersHandler(opts.Listeners))
		mux.HandleFunc("/config_dump", configDumpHandler(opts.Tree))
		mux.HandleFunc("/ready", readyHandler(opts.Health))
		mux.HandleFunc("/healthz", opts.Health.Handler())
	default:
		return nil, fmt.Errorf("unknown stats variant %q", variant)
	}
	return &Stats{variant: variant, mux: mux}, nil
}

// ServeHTTP routes to the variant's endpoints.
func (s *Stats) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ServeConn serves HTTP on conn.
func (s *Stats) ServeConn(ctx context.Context, cc *dispatch.ConnContext, conn net.Conn) error {
	return serveHTTP(ctx, conn, s)
}

// WriteTextStats writes one "name: value" line per sample. Label values are
// appended to the metric name with dots. Histograms and summaries emit their
// _count and _sum. Lines are limited to names containing filter when set.
func WriteTextStats(w io.Writer, g prometheus.Gatherer, filter string) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var lines []string
	add := func(name string, v float64) {
		if filter != "" && !strings.Contains(name, filter) {
			return
		}
		lines = append(lines, name+": "+formatValue(v))
	}

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := statName(mf.GetName(), m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				add(name, m.GetCounter().GetValue())
			case dto.MetricType_GAUGE:
				add(name, m.GetGauge().GetValue())
			case dto.MetricType_UNTYPED:
				add(name, m.GetUntyped().GetValue())
			case dto.MetricType_HISTOGRAM:
				add(name+"_count", float64(m.GetHistogram().GetSampleCount()))
				add(name+"_sum", m.GetHistogram().GetSampleSum())
			case dto.MetricType_SUMMARY:
				add(name+"_count", float64(m.GetSummary().GetSampleCount()))
				add(name+"_sum", m.GetSummary().GetSampleSum())
			}
		}
	}
	sort.Strings(lines)

	for _, l := range lines {
		if _, err := io.WriteString(w, l+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func statName(name string, labels []*dto.LabelPair) string {
	var b strings.Builder
	b.WriteString(name)
	for _, lp := range labels {
		b.WriteByte('.')
		b.WriteString(lp.GetValue())
	}
	return b.String()
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

type listenerEntry struct {
	Name        string `json:"name"`
	Group       string `json:"group"`
	Address     string `json:"address"`
	Protocol    string `json:"protocol"`
	Transparent bool   `json:"transparent"`
	Module      string `json:"module"`
	State       string `json:"state"`
	Error       string `json:"error,omitempty"`
}

func listenersHandler(statuses func() []composer.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := []listenerEntry{}
		if statuses != nil {
			for _, st := range statuses() {
				e := listenerEntry{
					Name:        st.Spec.Name,
					Group:       string(st.Spec.Group),
					Address:     st.Spec.Addr(),
					Protocol:    string(st.Spec.Protocol),
					Transparent: st.Spec.Transparent,
					Module:      st.Spec.Target(),
					State:       st.State,
				}
				if st.Addr != "" {
					e.Address = st.Addr
				}
				if st.Err != nil {
					e.Error = st.Err.Error()
				}
				entries = append(entries, e)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}
}

func configDumpHandler(tree config.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		v := tree.Value()
		if v == nil {
			v = map[string]any{}
		}
		if err := enc.Encode(v); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// readyHandler mirrors the Envoy admin /ready endpoint.
func readyHandler(c *health.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if !c.Started() {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, "PRE_INITIALIZING\n")
			return
		}
		io.WriteString(w, "LIVE\n")
	}
}
