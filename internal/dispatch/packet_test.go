package dispatch

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/switchyard/internal/listener"
	"grimm.is/switchyard/internal/metrics"
)

func udpSpec() listener.Spec {
	return listener.Spec{
		Name:     "udp-test",
		Group:    listener.GroupDNS,
		Address:  "127.0.0.1",
		Protocol: listener.ProtocolUDP,
		Module:   "echo",
		Active:   true,
	}
}

func startPacket(t *testing.T, h Handler, opts Options) (*PacketDispatcher, context.CancelFunc) {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	d := NewPacketDispatcher(udpSpec(), pc, h, opts)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		d.Wait()
	})
	return d, cancel
}

// udpEcho answers every datagram on the flow with "<conn id>:<payload>".
func udpEcho() Handler {
	return HandlerFunc(func(ctx context.Context, cc *ConnContext, conn net.Conn) error {
		buf := make([]byte, 512)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return err
			}
			if _, err := conn.Write([]byte(cc.ID + ":" + string(buf[:n]))); err != nil {
				return err
			}
		}
	})
}

func exchange(t *testing.T, c net.Conn, msg string) string {
	t.Helper()
	c.SetDeadline(time.Now().Add(2 * time.Second))
	_, err := c.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, 512)
	n, err := c.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestPacketDispatcher_DemuxBySource(t *testing.T) {
	d, _ := startPacket(t, udpEcho(), Options{})

	a, err := net.Dial("udp4", d.Addr().String())
	require.NoError(t, err)
	defer a.Close()
	b, err := net.Dial("udp4", d.Addr().String())
	require.NoError(t, err)
	defer b.Close()

	a1 := exchange(t, a, "one")
	a2 := exchange(t, a, "two")
	b1 := exchange(t, b, "three")

	idA1, _, _ := strings.Cut(a1, ":")
	idA2, _, _ := strings.Cut(a2, ":")
	idB1, payload, _ := strings.Cut(b1, ":")

	assert.Equal(t, idA1, idA2, "datagrams from one source share a flow")
	assert.NotEqual(t, idA1, idB1, "different sources get different flows")
	assert.Equal(t, "three", payload)
	assert.Equal(t, 2, d.ActiveFlows())
}

func TestPacketDispatcher_IdleFlowCloses(t *testing.T) {
	reg := metrics.New()
	ended := make(chan error, 1)
	h := HandlerFunc(func(ctx context.Context, cc *ConnContext, conn net.Conn) error {
		buf := make([]byte, 64)
		for {
			if _, err := conn.Read(buf); err != nil {
				ended <- err
				return nil
			}
		}
	})
	d, _ := startPacket(t, h, Options{Metrics: reg, FlowIdleTimeout: 50 * time.Millisecond})

	c, err := net.Dial("udp4", d.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Write([]byte("ping"))
	require.NoError(t, err)

	select {
	case err := <-ended:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("idle flow was not closed")
	}
	assert.Eventually(t, func() bool { return d.ActiveFlows() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(0), testutil.ToFloat64(reg.FlowsActive.WithLabelValues("udp-test")))
}

func TestPacketDispatcher_ReadDeadline(t *testing.T) {
	result := make(chan error, 1)
	h := HandlerFunc(func(ctx context.Context, cc *ConnContext, conn net.Conn) error {
		buf := make([]byte, 64)
		if _, err := conn.Read(buf); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
		_, err := conn.Read(buf)
		result <- err
		return nil
	})
	d, _ := startPacket(t, h, Options{})

	c, err := net.Dial("udp4", d.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Write([]byte("x"))
	require.NoError(t, err)

	select {
	case err := <-result:
		var ne net.Error
		require.ErrorAs(t, err, &ne)
		assert.True(t, ne.Timeout())
	case <-time.After(2 * time.Second):
		t.Fatal("deadline did not fire")
	}
}

func TestPacketDispatcher_ShutdownEndsFlows(t *testing.T) {
	d, cancel := startPacket(t, udpEcho(), Options{})

	c, err := net.Dial("udp4", d.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	exchange(t, c, "hi")

	cancel()
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("packet dispatcher did not stop")
	}
	assert.Equal(t, 0, d.ActiveFlows())
}
