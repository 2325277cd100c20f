package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetIsSingleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}

func TestNewRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ConnOpened("inbound", "inbound-main")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.ConnectionsTotal.WithLabelValues("inbound", "inbound-main")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ConnectionsTotal.WithLabelValues("inbound", "inbound-main")))
}

func TestConnLifecycle(t *testing.T) {
	r := New()

	r.ConnOpened("dns", "dns-main")
	r.ConnOpened("dns", "dns-main")
	assert.Equal(t, 2.0, testutil.ToFloat64(r.ConnectionsActive.WithLabelValues("dns")))

	r.ConnClosed("dns", "dns-main", nil)
	r.ConnClosed("dns", "dns-main", errors.New("boom"))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.ConnectionsActive.WithLabelValues("dns")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.HandlerErrors.WithLabelValues("dns", "dns-main")))
}

func TestCompositionGauges(t *testing.T) {
	r := New()

	r.SetGroupActive("probes", true)
	r.SetGroupActive("dns", false)
	r.SetListenerUp("metrics", "prometheus", "0.0.0.0:15010", true)
	r.RecordListenerFailure("inbound", "bind")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.GroupActive.WithLabelValues("probes")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.GroupActive.WithLabelValues("dns")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ListenerUp.WithLabelValues("metrics", "prometheus", "0.0.0.0:15010")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ListenerFailures.WithLabelValues("inbound", "bind")))
}

func TestGatherer(t *testing.T) {
	r := New()
	r.SetGroupActive("inbound", true)

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["switchyard_group_active"])
	assert.True(t, names["switchyard_build_info"])
	assert.True(t, names["go_goroutines"])
}
