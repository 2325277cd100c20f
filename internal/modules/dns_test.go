package modules

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/switchyard/internal/config"
	"grimm.is/switchyard/internal/dispatch"
	"grimm.is/switchyard/internal/listener"
	"grimm.is/switchyard/internal/metrics"
)

// fakeUpstream runs a DNS server that answers every A query with ip.
func fakeUpstream(t *testing.T, ip string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.ParseIP(ip),
			})
			w.WriteMsg(m)
		}),
	}
	go srv.ActivateAndServe()
	<-started
	t.Cleanup(func() { srv.Shutdown() })
	return pc.LocalAddr().String()
}

// deadUpstream returns a UDP address nobody listens on.
func deadUpstream(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	addr := pc.LocalAddr().String()
	pc.Close()
	return addr
}

func query(name string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	return m
}

func TestDNSUpstreams_FromEnvironment(t *testing.T) {
	env := config.MapEnv(map[string]string{
		config.EnvLocalDNSPrimaryUpstream:   "10.96.0.10",
		config.EnvLocalDNSSecondaryUpstream: "[fd00::a]:5353",
	})
	ups, err := DNSUpstreams(env, "/nonexistent")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.96.0.10:53", "[fd00::a]:5353"}, ups)
}

func TestDNSUpstreams_ResolvConfFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	require.NoError(t, os.WriteFile(path, []byte("nameserver 127.0.0.153\nnameserver 10.96.0.10\nnameserver 10.96.0.10\n"), 0o644))

	ups, err := DNSUpstreams(config.MapEnv(nil), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.96.0.10:53"}, ups, "own listener address and duplicates are skipped")
}

func TestDNSUpstreams_None(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	require.NoError(t, os.WriteFile(path, []byte("nameserver "+listener.AddrDNS+"\n"), 0o644))

	_, err := DNSUpstreams(config.MapEnv(nil), path)
	assert.ErrorIs(t, err, ErrNoUpstreams)

	_, err = DNSUpstreams(config.MapEnv(nil), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNoUpstreams)
}

func TestDNS_ResolveFallsThroughToSecondary(t *testing.T) {
	reg := metrics.New()
	d, err := NewDNS(Options{
		Metrics:    reg,
		DNSTimeout: 300 * time.Millisecond,
		Env: config.MapEnv(map[string]string{
			config.EnvLocalDNSPrimaryUpstream:   deadUpstream(t),
			config.EnvLocalDNSSecondaryUpstream: fakeUpstream(t, "10.1.2.3"),
		}),
	})
	require.NoError(t, err)

	resp := d.Resolve(context.Background(), query("backend.default.svc.cluster.local"))
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "10.1.2.3", resp.Answer[0].(*dns.A).A.String())
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.DNSQueries.WithLabelValues(dnsAnswered)))
}

func TestDNS_ResolveServfail(t *testing.T) {
	reg := metrics.New()
	d, err := NewDNS(Options{
		Metrics:    reg,
		DNSTimeout: 200 * time.Millisecond,
		Env:        config.MapEnv(map[string]string{config.EnvLocalDNSPrimaryUpstream: deadUpstream(t)}),
	})
	require.NoError(t, err)

	req := query("example.com")
	resp := d.Resolve(context.Background(), req)
	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)
	assert.Equal(t, req.Id, resp.Id)
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.DNSQueries.WithLabelValues(dnsServfail)))

	resp = d.Resolve(context.Background(), new(dns.Msg))
	assert.Equal(t, dns.RcodeFormatError, resp.Rcode)
}

func TestDNS_ServesThroughPacketDispatcher(t *testing.T) {
	reg := metrics.New()
	d, err := NewDNS(Options{
		Metrics: reg,
		Env:     config.MapEnv(map[string]string{config.EnvLocalDNSPrimaryUpstream: fakeUpstream(t, "10.9.8.7")}),
	})
	require.NoError(t, err)

	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	spec := listener.Build(activationAll())[7]
	pd := dispatch.NewPacketDispatcher(spec, pc, d, dispatch.Options{Metrics: reg})

	ctx, cancel := context.WithCancel(context.Background())
	go pd.Serve(ctx)
	defer func() {
		cancel()
		pd.Wait()
	}()

	c := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
	for _, name := range []string{"a.example.", "b.example."} {
		resp, _, err := c.Exchange(query(name), pc.LocalAddr().String())
		require.NoError(t, err)
		require.Len(t, resp.Answer, 1)
		assert.Equal(t, name, resp.Answer[0].Header().Name)
		assert.Equal(t, "10.9.8.7", resp.Answer[0].(*dns.A).A.String())
	}
}
