package modules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"grimm.is/switchyard/internal/config"
	"grimm.is/switchyard/internal/dispatch"
	"grimm.is/switchyard/internal/listener"
	"grimm.is/switchyard/internal/logging"
	"grimm.is/switchyard/internal/metrics"
)

// DNS query outcomes recorded in metrics.
const (
	dnsAnswered  = "answered"
	dnsServfail  = "servfail"
	dnsMalformed = "malformed"
)

// ErrNoUpstreams is returned when no DNS upstream is configured.
var ErrNoUpstreams = errors.New("no DNS upstreams configured")

// DNS forwards queries received on the local DNS listener to the upstreams
// named in the environment, falling back to the host resolver config.
type DNS struct {
	upstreams []string
	client    *dns.Client
	logger    *logging.Logger
	metrics   *metrics.Registry
}

// NewDNS builds the DNS forwarder.
func NewDNS(opts Options) (*DNS, error) {
	opts = opts.withDefaults()
	upstreams, err := DNSUpstreams(opts.Env, opts.ResolvConf)
	if err != nil {
		return nil, err
	}
	d := &DNS{
		upstreams: upstreams,
		client:    &dns.Client{Net: "udp", Timeout: opts.DNSTimeout},
		logger:    opts.Logger.WithComponent("modules.dns"),
		metrics:   opts.Metrics,
	}
	d.logger.Info("DNS forwarder configured", "upstreams", strings.Join(upstreams, ","))
	return d, nil
}

// Upstreams returns the forwarders in the order they are tried.
func (d *DNS) Upstreams() []string {
	return append([]string(nil), d.upstreams...)
}

// DNSUpstreams returns the primary and secondary upstreams from env. When
// neither is set, the nameservers of resolvConf are used instead. The local
// listener's own address is never returned.
func DNSUpstreams(env config.Env, resolvConf string) ([]string, error) {
	var out []string
	for _, key := range []string{config.EnvLocalDNSPrimaryUpstream, config.EnvLocalDNSSecondaryUpstream} {
		if v := strings.TrimSpace(env.Get(key)); v != "" {
			out = appendUpstream(out, v)
		}
	}
	if len(out) > 0 {
		return out, nil
	}

	cc, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoUpstreams, err)
	}
	for _, s := range cc.Servers {
		out = appendUpstream(out, net.JoinHostPort(s, cc.Port))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s lists no usable nameservers", ErrNoUpstreams, resolvConf)
	}
	return out, nil
}

func appendUpstream(list []string, addr string) []string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(strings.Trim(addr, "[]"), "53")
	}
	host, _, _ := net.SplitHostPort(addr)
	if host == listener.AddrDNS {
		return list
	}
	for _, existing := range list {
		if existing == addr {
			return list
		}
	}
	return append(list, addr)
}

// ServeConn answers every query of one client flow.
func (d *DNS) ServeConn(ctx context.Context, cc *dispatch.ConnContext, conn net.Conn) error {
	buf := make([]byte, dns.MaxMsgSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		req := new(dns.Msg)
		if err := req.Unpack(buf[:n]); err != nil {
			d.metrics.DNSQueries.WithLabelValues(dnsMalformed).Inc()
			cc.Logger.Debug("Dropping malformed DNS query", "error", err)
			continue
		}

		resp := d.Resolve(ctx, req)
		out, err := resp.Pack()
		if err != nil {
			return fmt.Errorf("failed to pack DNS response: %w", err)
		}
		if _, err := conn.Write(out); err != nil {
			return err
		}
	}
}

// Resolve forwards req to each upstream in turn and returns the first
// answer, or SERVFAIL when every upstream fails.
func (d *DNS) Resolve(ctx context.Context, req *dns.Msg) *dns.Msg {
	if len(req.Question) == 0 {
		d.metrics.DNSQueries.WithLabelValues(dnsMalformed).Inc()
		return new(dns.Msg).SetRcodeFormatError(req)
	}

	for _, up := range d.upstreams {
		qctx, cancel := context.WithTimeout(ctx, d.client.Timeout+time.Second)
		resp, _, err := d.client.ExchangeContext(qctx, req, up)
		cancel()
		if err == nil && resp != nil {
			d.metrics.DNSQueries.WithLabelValues(dnsAnswered).Inc()
			return resp
		}
		d.logger.Debug("Upstream failed", "upstream", up, "question", req.Question[0].Name, "error", err)
	}

	d.logger.Warn("All DNS upstreams failed", "question", req.Question[0].Name)
	d.metrics.DNSQueries.WithLabelValues(dnsServfail).Inc()
	return new(dns.Msg).SetRcode(req, dns.RcodeServerFailure)
}
