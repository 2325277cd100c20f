package composer

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/switchyard/internal/activation"
	"grimm.is/switchyard/internal/dispatch"
	"grimm.is/switchyard/internal/listener"
	"grimm.is/switchyard/internal/metrics"
)

var errAddrInUse = errors.New("address already in use")

func nop() dispatch.Handler {
	return dispatch.HandlerFunc(func(context.Context, *dispatch.ConnContext, net.Conn) error { return nil })
}

func fullRegistry() *dispatch.Registry {
	r := dispatch.NewRegistry()
	for _, name := range []string{
		listener.ModuleInbound, listener.ModuleOutbound, listener.ModuleProbes,
		listener.ModuleStats, listener.ModuleDNS,
	} {
		r.Register(name, func(string) (dispatch.Handler, error) { return nop(), nil })
	}
	return r
}

// loopbackBinder expects a bind for every bindable spec and hands back a
// loopback socket on an ephemeral port, except for the names in fail.
func loopbackBinder(t *testing.T, specs []listener.Spec, fail map[string]error) *listener.MockBinder {
	t.Helper()
	b := &listener.MockBinder{}
	for _, spec := range listener.Bindable(specs) {
		if err, ok := fail[spec.Name]; ok {
			if spec.Protocol == listener.ProtocolUDP {
				b.On("ListenPacket", mock.Anything, spec).Return(nil, err)
			} else {
				b.On("Listen", mock.Anything, spec).Return(nil, err)
			}
			continue
		}
		if spec.Protocol == listener.ProtocolUDP {
			pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
			require.NoError(t, err)
			b.On("ListenPacket", mock.Anything, spec).Return(pc, nil)
		} else {
			ln, err := net.Listen("tcp4", "127.0.0.1:0")
			require.NoError(t, err)
			b.On("Listen", mock.Anything, spec).Return(ln, nil)
		}
	}
	return b
}

func compose(t *testing.T, specs []listener.Spec, opts Options) *State {
	t.Helper()
	s := Compose(context.Background(), specs, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func statesByName(s *State) map[string]string {
	out := make(map[string]string)
	for _, st := range s.Listeners() {
		out[st.Spec.Name] = st.State
	}
	return out
}

func TestCompose_InboundAndProbes(t *testing.T) {
	specs := listener.Build(activation.Decision{Inbound: true, Probes: true})
	b := loopbackBinder(t, specs, nil)

	s := compose(t, specs, Options{Registry: fullRegistry(), Binder: b, Metrics: metrics.New()})

	assert.Empty(t, s.Failures())
	assert.Equal(t, 6, s.Bound())
	assert.Equal(t, map[string]string{
		"inbound":    StateBound,
		"outbound":   StateSkipped,
		"liveness":   StateBound,
		"readiness":  StateBound,
		"startup":    StateBound,
		"prometheus": StateBound,
		"osm-stats":  StateBound,
		"dns":        StateSkipped,
	}, statesByName(s))
	b.AssertExpectations(t)
}

func TestCompose_SkipsUnboundProbeSlots(t *testing.T) {
	specs := listener.Build(activation.Decision{})
	b := loopbackBinder(t, specs, nil)

	s := compose(t, specs, Options{Registry: fullRegistry(), Binder: b, Metrics: metrics.New()})

	assert.Equal(t, 2, s.Bound())
	for _, st := range s.Listeners() {
		if st.Spec.Group == listener.GroupProbes {
			assert.Equal(t, StateSkipped, st.State)
		}
	}
	b.AssertNotCalled(t, "Listen", mock.Anything, mock.MatchedBy(func(spec listener.Spec) bool {
		return spec.Group == listener.GroupProbes
	}))
}

func TestCompose_BindFailureIsolatedToGroup(t *testing.T) {
	reg := metrics.New()
	specs := listener.Build(activation.Decision{Inbound: true, Outbound: true, Probes: true, DNS: true})
	b := loopbackBinder(t, specs, map[string]error{"inbound": errAddrInUse})

	s := compose(t, specs, Options{Registry: fullRegistry(), Binder: b, Metrics: reg})

	failures := s.Failures()
	require.Len(t, failures, 1)
	f := failures[0]
	assert.Equal(t, listener.GroupInbound, f.Group)
	assert.Equal(t, KindBind, f.Kind)
	assert.ErrorIs(t, f, errAddrInUse)
	assert.Equal(t, []listener.Group{listener.GroupInbound}, s.FailedGroups())

	states := statesByName(s)
	assert.Equal(t, StateFailed, states["inbound"])
	for _, name := range []string{"outbound", "liveness", "readiness", "startup", "prometheus", "osm-stats", "dns"} {
		assert.Equal(t, StateBound, states[name], name)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.ListenerFailures.WithLabelValues("inbound", "bind")))
	assert.Equal(t, float64(0), testutil.ToFloat64(reg.ListenerUp.WithLabelValues("inbound", "inbound", "0.0.0.0:15003")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.GroupActive.WithLabelValues("dns")))
}

func TestCompose_SiblingInFailedGroupKeepsRunning(t *testing.T) {
	specs := listener.Build(activation.Decision{Probes: true})
	b := loopbackBinder(t, specs, map[string]error{"readiness": errAddrInUse})

	s := compose(t, specs, Options{Registry: fullRegistry(), Binder: b, Metrics: metrics.New()})

	states := statesByName(s)
	assert.Equal(t, StateBound, states["liveness"])
	assert.Equal(t, StateFailed, states["readiness"])
	assert.Equal(t, StateBound, states["startup"])
	assert.Equal(t, []listener.Group{listener.GroupProbes}, s.FailedGroups())
}

func TestCompose_ModuleUnavailable(t *testing.T) {
	reg := metrics.New()
	r := dispatch.NewRegistry()
	r.Register(listener.ModuleStats, func(string) (dispatch.Handler, error) { return nop(), nil })
	r.Register(listener.ModuleDNS, func(string) (dispatch.Handler, error) { return nil, errors.New("no upstream") })

	specs := listener.Build(activation.Decision{Inbound: true, DNS: true})
	// Only the stats listeners should ever reach the binder.
	b := &listener.MockBinder{}
	for _, spec := range listener.Bindable(specs) {
		if spec.Module == listener.ModuleStats {
			ln, err := net.Listen("tcp4", "127.0.0.1:0")
			require.NoError(t, err)
			b.On("Listen", mock.Anything, spec).Return(ln, nil)
		}
	}

	s := compose(t, specs, Options{Registry: r, Binder: b, Metrics: reg})

	require.Len(t, s.Failures(), 2)
	for _, f := range s.Failures() {
		assert.Equal(t, KindModule, f.Kind)
		assert.ErrorIs(t, f, dispatch.ErrModuleUnavailable)
	}
	assert.ElementsMatch(t, []listener.Group{listener.GroupInbound, listener.GroupDNS}, s.FailedGroups())
	assert.Equal(t, 2, s.Bound())
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.ListenerFailures.WithLabelValues("dns", "module")))
	b.AssertExpectations(t)
}

func TestCompose_Idempotent(t *testing.T) {
	d := activation.Decision{Outbound: true, Probes: true}
	first := listener.Build(d)
	second := listener.Build(d)

	s1 := compose(t, first, Options{Registry: fullRegistry(), Binder: loopbackBinder(t, first, nil), Metrics: metrics.New()})
	s2 := compose(t, second, Options{Registry: fullRegistry(), Binder: loopbackBinder(t, second, nil), Metrics: metrics.New()})

	assert.Equal(t, statesByName(s1), statesByName(s2))
}

func TestState_ShutdownForceClosesOnDeadline(t *testing.T) {
	started := make(chan struct{}, 1)
	r := dispatch.NewRegistry()
	r.Register(listener.ModuleStats, func(string) (dispatch.Handler, error) {
		return dispatch.HandlerFunc(func(ctx context.Context, cc *dispatch.ConnContext, conn net.Conn) error {
			started <- struct{}{}
			_, err := conn.Read(make([]byte, 1))
			return err
		}), nil
	})

	specs := listener.Build(activation.Decision{})
	s := Compose(context.Background(), specs, Options{Registry: r, Binder: loopbackBinder(t, specs, nil), Metrics: metrics.New()})
	require.Equal(t, 2, s.Bound())

	addr, ok := s.Addr("prometheus")
	require.True(t, ok)
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = s.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("state did not report done")
	}
}

func TestGroupError(t *testing.T) {
	err := &GroupError{Group: listener.GroupDNS, Listener: "dns", Addr: "127.0.0.153:5300", Kind: KindBind, Err: errAddrInUse}
	assert.Equal(t, "dns group: listener dns (127.0.0.153:5300): bind failure: address already in use", err.Error())

	var ge *GroupError
	wrapped := errors.Join(errors.New("startup"), err)
	require.ErrorAs(t, wrapped, &ge)
	assert.Equal(t, KindBind, ge.Kind)
}
