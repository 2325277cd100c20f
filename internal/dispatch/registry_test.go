package dispatch

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopHandler() Handler {
	return HandlerFunc(func(context.Context, *ConnContext, net.Conn) error { return nil })
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	var gotArg string
	r.Register("probes", func(arg string) (Handler, error) {
		gotArg = arg
		return nopHandler(), nil
	})

	h, err := r.Resolve("probes", "liveness")
	require.NoError(t, err)
	assert.NotNil(t, h)
	assert.Equal(t, "liveness", gotArg)
}

func TestRegistry_ResolveFailures(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	r.Register("broken", func(string) (Handler, error) { return nil, boom })
	r.Register("empty", func(string) (Handler, error) { return nil, nil })

	tests := []struct {
		name, module, arg string
		wrapped           error
		contains          string
	}{
		{name: "unknown", module: "nope", contains: `"nope"`},
		{name: "factory error", module: "broken", arg: "x", wrapped: boom, contains: "broken(x)"},
		{name: "nil handler", module: "empty", contains: "returned no handler"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.module, tt.arg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrModuleUnavailable)
			if tt.wrapped != nil {
				assert.ErrorIs(t, err, tt.wrapped)
			}
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Register("stats", func(string) (Handler, error) { return nopHandler(), nil })
	r.Register("dns-main", func(string) (Handler, error) { return nopHandler(), nil })
	r.Register("inbound-main", func(string) (Handler, error) { return nopHandler(), nil })

	assert.Equal(t, []string{"dns-main", "inbound-main", "stats"}, r.Names())
}
