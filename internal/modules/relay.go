package modules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"grimm.is/switchyard/internal/dispatch"
)

// Direction selects where a relay sends intercepted traffic.
type Direction string

const (
	// DirectionInbound delivers to the local application on the
	// original destination port.
	DirectionInbound Direction = "inbound"
	// DirectionOutbound delivers to the original destination.
	DirectionOutbound Direction = "outbound"
)

// ErrNotRedirected is returned when a connection reached a relay listener
// directly instead of through interception.
var ErrNotRedirected = errors.New("connection was not redirected to the sidecar")

// Relay forwards an intercepted TCP connection to its original destination.
type Relay struct {
	direction Direction
	dialer    net.Dialer

	// lookup recovers the pre-interception destination.
	lookup func(net.Conn) (*net.TCPAddr, error)
}

// NewRelay creates a relay module.
func NewRelay(d Direction, opts Options) *Relay {
	opts = opts.withDefaults()
	return &Relay{
		direction: d,
		dialer: net.Dialer{
			Timeout: opts.DialTimeout,
			Control: markControl(opts.SocketMark),
		},
		lookup: OriginalDst,
	}
}

// upstream returns the address to dial for an original destination.
func (r *Relay) upstream(dst *net.TCPAddr) string {
	if r.direction == DirectionInbound {
		host := "127.0.0.1"
		if dst.IP.To4() == nil && dst.IP != nil {
			host = "::1"
		}
		return net.JoinHostPort(host, strconv.Itoa(dst.Port))
	}
	return dst.String()
}

// ServeConn relays conn until both directions finish.
func (r *Relay) ServeConn(ctx context.Context, cc *dispatch.ConnContext, conn net.Conn) error {
	dst, err := r.lookup(conn)
	if err != nil {
		return fmt.Errorf("original destination: %w", err)
	}
	if dst.Port == cc.Listener.Port {
		return fmt.Errorf("%w: destination %s", ErrNotRedirected, dst)
	}
	cc.Set("original_dst", dst.String())

	target := r.upstream(dst)
	upstream, err := r.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return fmt.Errorf("failed to dial upstream %s: %w", target, err)
	}
	defer upstream.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
		upstream.Close()
	})
	defer stop()

	type result struct {
		n   int64
		err error
	}
	toUp := make(chan result, 1)
	toDown := make(chan result, 1)

	go func() {
		n, err := io.Copy(upstream, conn)
		closeWrite(upstream)
		toUp <- result{n, err}
	}()
	go func() {
		n, err := io.Copy(conn, upstream)
		closeWrite(conn)
		toDown <- result{n, err}
	}()

	up := <-toUp
	down := <-toDown

	cc.Logger.Debug("Relay finished",
		"direction", r.direction,
		"upstream", target,
		"bytes_up", up.n,
		"bytes_down", down.n,
		"duration", cc.Age().Round(time.Millisecond),
	)
	return errors.Join(ignoreClosed(up.err), ignoreClosed(down.err))
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
		return
	}
	c.Close()
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
