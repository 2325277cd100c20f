package modules

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"grimm.is/switchyard/internal/brand"
	"grimm.is/switchyard/internal/config"
	"grimm.is/switchyard/internal/dispatch"
	"grimm.is/switchyard/internal/health"
	"grimm.is/switchyard/internal/listener"
	"grimm.is/switchyard/internal/logging"
	"grimm.is/switchyard/internal/metrics"
)

// probeLists maps a probe kind to its list in the configuration tree.
var probeLists = map[string]string{
	listener.ArgLiveness:  "LivenessProbes",
	listener.ArgReadiness: "ReadinessProbes",
	listener.ArgStartup:   "StartupProbes",
}

// ProbeTarget is the application's own HTTP probe, rewritten away from the
// application at injection time and restored here.
type ProbeTarget struct {
	Scheme string
	Host   string
	Port   int
	Path   string
}

// URL returns the probe URL.
func (t ProbeTarget) URL() string {
	return fmt.Sprintf("%s://%s%s", strings.ToLower(t.Scheme), net.JoinHostPort(t.Host, strconv.Itoa(t.Port)), t.Path)
}

// LookupProbeTarget reads the first httpGet probe of the given kind.
func LookupProbeTarget(tree config.Node, kind string) (ProbeTarget, bool) {
	list, ok := probeLists[kind]
	if !ok {
		return ProbeTarget{}, false
	}
	get := tree.Get("Spec", "Probes", list, 0, "httpGet")
	port := get.Get("port").Int(0)
	if !get.IsObject() || port <= 0 {
		return ProbeTarget{}, false
	}
	t := ProbeTarget{
		Scheme: get.Get("scheme").String("HTTP"),
		Host:   get.Get("host").String("127.0.0.1"),
		Port:   port,
		Path:   get.Get("path").String("/"),
	}
	if !strings.HasPrefix(t.Path, "/") {
		t.Path = "/" + t.Path
	}
	return t, true
}

// Probe answers one kind of health probe.
type Probe struct {
	kind    string
	handler http.Handler
	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewProbe builds the probe module for kind (liveness, readiness or
// startup). When the application declared an httpGet probe of that kind, the
// request is forwarded to it; otherwise the sidecar's health checker answers.
func NewProbe(kind string, opts Options) (*Probe, error) {
	opts = opts.withDefaults()
	if _, ok := probeLists[kind]; !ok {
		return nil, fmt.Errorf("unknown probe kind %q", kind)
	}

	p := &Probe{
		kind:    kind,
		logger:  opts.Logger.WithComponent("modules.probes"),
		metrics: opts.Metrics,
	}

	if target, ok := LookupProbeTarget(opts.Tree, kind); ok {
		p.handler = forwardProbe(target, opts.DialTimeout)
		p.logger.Debug("Forwarding probe to application", "kind", kind, "url", target.URL())
	} else {
		switch kind {
		case listener.ArgLiveness:
			p.handler = health.LivenessHandler()
		case listener.ArgReadiness:
			p.handler = opts.Health.ReadinessHandler()
		case listener.ArgStartup:
			p.handler = opts.Health.StartupHandler()
		}
	}
	return p, nil
}

// ServeHTTP records the probe outcome and delegates.
func (p *Probe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w}
	p.handler.ServeHTTP(rec, r)
	if rec.code == 0 {
		rec.code = http.StatusOK
	}
	p.metrics.ProbeRequests.WithLabelValues(p.kind, strconv.Itoa(rec.code)).Inc()
}

// ServeConn serves HTTP probes on conn.
func (p *Probe) ServeConn(ctx context.Context, cc *dispatch.ConnContext, conn net.Conn) error {
	return serveHTTP(ctx, conn, p)
}

// forwardProbe proxies a kubelet probe to the application's original
// endpoint. The kubelet does not verify certificates for HTTPS probes, so
// neither does the forwarder.
func forwardProbe(t ProbeTarget, timeout time.Duration) http.Handler {
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
			DisableKeepAlives: true,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	url := t.URL()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		req.Header.Set("User-Agent", brand.UserAgent(brand.Version))
		for _, h := range []string{"User-Agent", "Accept"} {
			if v := r.Header.Get(h); v != "" {
				req.Header.Set(h, v)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			http.Error(w, fmt.Sprintf("probe %s failed: %v", url, err), http.StatusServiceUnavailable)
			return
		}
		defer resp.Body.Close()

		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, io.LimitReader(resp.Body, 64*1024))
	})
}
