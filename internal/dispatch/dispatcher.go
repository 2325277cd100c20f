package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"grimm.is/switchyard/internal/logging"
	"grimm.is/switchyard/internal/metrics"
	"grimm.is/switchyard/internal/ratelimit"
)

// Defaults for Options fields left zero.
const (
	DefaultFlowIdleTimeout = 30 * time.Second
	DefaultFlowQueue       = 64
	maxDatagramSize        = 64 * 1024
	maxAcceptBackoff       = time.Second

	// Handler errors are logged at most errorLogBurst times per
	// errorLogWindow per listener; the rest are counted only.
	errorLogBurst  = 10
	errorLogWindow = 10 * time.Second
)

// Dispatcher is a running accept or receive loop bound to one listener.
type Dispatcher interface {
	// Serve blocks until ctx is cancelled or the socket is closed.
	Serve(ctx context.Context) error
	// Close stops the loop and releases the socket.
	Close() error
	// CloseConns force-closes connections still owned by handlers.
	CloseConns()
	// Wait blocks until the loop and all handlers have returned.
	Wait()
	// Addr returns the bound local address.
	Addr() net.Addr
}

// Options tunes a dispatcher.
type Options struct {
	Logger  *logging.Logger
	Metrics *metrics.Registry

	// MaxConns caps concurrent TCP connections per listener; 0 is unlimited.
	MaxConns int

	// FlowIdleTimeout closes a UDP flow after this long without datagrams.
	FlowIdleTimeout time.Duration

	// FlowQueue is the number of datagrams buffered per UDP flow.
	FlowQueue int
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logging.WithComponent("dispatch")
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Get()
	}
	if o.FlowIdleTimeout <= 0 {
		o.FlowIdleTimeout = DefaultFlowIdleTimeout
	}
	if o.FlowQueue <= 0 {
		o.FlowQueue = DefaultFlowQueue
	}
	return o
}

// runHandler invokes h, converting a panic into an error so one bad
// connection cannot take the listener down.
func runHandler(ctx context.Context, h Handler, cc *ConnContext, conn net.Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.ServeConn(ctx, cc, conn)
}

// reportHandlerError logs a module failure unless the listener has logged
// too many recently.
func reportHandlerError(limiter *ratelimit.Limiter, cc *ConnContext, remote net.Addr, err error) {
	if err == nil {
		return
	}
	ok, suppressed := limiter.Allow(cc.Listener.Name)
	if !ok {
		return
	}
	args := []any{"module", cc.Listener.Target(), "remote", remote, "error", err}
	if suppressed > 0 {
		args = append(args, "suppressed", suppressed)
	}
	cc.Logger.Warn("Module returned error", args...)
}

// isClosed reports errors that just mean the peer or we hung up.
func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled)
}

// nextBackoff mirrors net/http's accept retry: 5ms doubling up to 1s.
func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}
