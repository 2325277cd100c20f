package dispatch

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"grimm.is/switchyard/internal/listener"
	"grimm.is/switchyard/internal/logging"
	"grimm.is/switchyard/internal/metrics"
	"grimm.is/switchyard/internal/ratelimit"
)

// StreamDispatcher runs the accept loop of one TCP listener.
type StreamDispatcher struct {
	spec    listener.Spec
	ln      net.Listener
	handler Handler
	logger  *logging.Logger
	metrics *metrics.Registry
	errLog  *ratelimit.Limiter

	// slots caps concurrent handlers; nil means unlimited.
	slots *semaphore.Weighted

	wg    sync.WaitGroup
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

var _ Dispatcher = (*StreamDispatcher)(nil)

// NewStreamDispatcher wraps a bound listener.
func NewStreamDispatcher(spec listener.Spec, ln net.Listener, h Handler, opts Options) *StreamDispatcher {
	opts = opts.withDefaults()
	d := &StreamDispatcher{
		spec:    spec,
		ln:      ln,
		handler: h,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		errLog:  ratelimit.New(errorLogBurst, errorLogWindow),
		conns:   make(map[net.Conn]struct{}),
	}
	if opts.MaxConns > 0 {
		d.slots = semaphore.NewWeighted(int64(opts.MaxConns))
	}
	return d
}

// Addr returns the listener's address.
func (d *StreamDispatcher) Addr() net.Addr {
	return d.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener is closed.
func (d *StreamDispatcher) Serve(ctx context.Context) error {
	d.wg.Add(1)
	defer d.wg.Done()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			d.ln.Close()
		case <-stop:
		}
	}()

	var backoff time.Duration
	for {
		if d.slots != nil {
			if err := d.slots.Acquire(ctx, 1); err != nil {
				return nil
			}
		}
		conn, err := d.ln.Accept()
		if err != nil {
			d.release()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = nextBackoff(backoff)
			d.logger.Warn("Accept error", "listener", d.spec.Name, "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		d.track(conn)
		d.wg.Add(1)
		go d.handle(ctx, conn)
	}
}

func (d *StreamDispatcher) handle(ctx context.Context, conn net.Conn) {
	defer d.wg.Done()
	defer d.release()
	defer d.untrack(conn)
	defer conn.Close()

	cc := NewConnContext(d.spec, conn.LocalAddr(), conn.RemoteAddr(), d.logger)
	d.metrics.ConnOpened(d.spec.Name, d.spec.Module)

	err := runHandler(ctx, d.handler, cc, conn)
	if isClosed(err) {
		err = nil
	}
	d.metrics.ConnClosed(d.spec.Name, d.spec.Module, err)
	reportHandlerError(d.errLog, cc, conn.RemoteAddr(), err)
}

// Close stops accepting.
func (d *StreamDispatcher) Close() error {
	err := d.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// CloseConns closes every connection still owned by a handler.
func (d *StreamDispatcher) CloseConns() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.conns {
		c.Close()
	}
}

// Wait blocks until the accept loop and all handlers have returned.
func (d *StreamDispatcher) Wait() {
	d.wg.Wait()
}

// ActiveConns returns the number of connections currently being handled.
func (d *StreamDispatcher) ActiveConns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *StreamDispatcher) release() {
	if d.slots != nil {
		d.slots.Release(1)
	}
}

func (d *StreamDispatcher) track(c net.Conn) {
	d.mu.Lock()
	d.conns[c] = struct{}{}
	d.mu.Unlock()
}

func (d *StreamDispatcher) untrack(c net.Conn) {
	d.mu.Lock()
	delete(d.conns, c)
	d.mu.Unlock()
}
