package dispatch

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"grimm.is/switchyard/internal/listener"
	"grimm.is/switchyard/internal/logging"
	"grimm.is/switchyard/internal/metrics"
	"grimm.is/switchyard/internal/ratelimit"
)

// PacketDispatcher runs the receive loop of one UDP listener. Datagrams are
// grouped into flows by source address; each flow is presented to the module
// as a net.Conn whose writes go back to that source.
type PacketDispatcher struct {
	spec    listener.Spec
	pc      net.PacketConn
	handler Handler
	logger  *logging.Logger
	metrics *metrics.Registry
	errLog  *ratelimit.Limiter

	idle  time.Duration
	queue int

	wg    sync.WaitGroup
	mu    sync.Mutex
	flows map[string]*flowConn
}

var _ Dispatcher = (*PacketDispatcher)(nil)

// NewPacketDispatcher wraps a bound packet socket.
func NewPacketDispatcher(spec listener.Spec, pc net.PacketConn, h Handler, opts Options) *PacketDispatcher {
	opts = opts.withDefaults()
	return &PacketDispatcher{
		spec:    spec,
		pc:      pc,
		handler: h,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		errLog:  ratelimit.New(errorLogBurst, errorLogWindow),
		idle:    opts.FlowIdleTimeout,
		queue:   opts.FlowQueue,
		flows:   make(map[string]*flowConn),
	}
}

// Addr returns the socket's local address.
func (d *PacketDispatcher) Addr() net.Addr {
	return d.pc.LocalAddr()
}

// Serve reads datagrams until ctx is cancelled or the socket is closed.
func (d *PacketDispatcher) Serve(ctx context.Context) error {
	d.wg.Add(1)
	defer d.wg.Done()
	defer d.CloseConns()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			d.pc.Close()
		case <-stop:
		}
	}()

	buf := make([]byte, maxDatagramSize)
	var backoff time.Duration
	for {
		n, src, err := d.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = nextBackoff(backoff)
			d.logger.Warn("Read error", "listener", d.spec.Name, "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		d.deliver(ctx, src, pkt)
	}
}

func (d *PacketDispatcher) deliver(ctx context.Context, src net.Addr, pkt []byte) {
	key := src.String()

	d.mu.Lock()
	fc, ok := d.flows[key]
	if ok && fc.closed() {
		ok = false
	}
	if !ok {
		fc = newFlowConn(d, src)
		d.flows[key] = fc
	}
	d.mu.Unlock()

	if !ok {
		d.metrics.FlowsActive.WithLabelValues(d.spec.Name).Inc()
		d.wg.Add(1)
		go d.handle(ctx, fc)
	}

	if !fc.push(pkt) {
		d.metrics.DatagramsDropped.WithLabelValues(d.spec.Name).Inc()
		d.logger.Debug("Flow queue full, dropping datagram", "listener", d.spec.Name, "remote", key)
	}
}

func (d *PacketDispatcher) handle(ctx context.Context, fc *flowConn) {
	defer d.wg.Done()
	defer fc.Close()

	cc := NewConnContext(d.spec, fc.LocalAddr(), fc.RemoteAddr(), d.logger)
	d.metrics.ConnOpened(d.spec.Name, d.spec.Module)

	err := runHandler(ctx, d.handler, cc, fc)
	if isClosed(err) {
		err = nil
	}
	d.metrics.ConnClosed(d.spec.Name, d.spec.Module, err)
	reportHandlerError(d.errLog, cc, fc.RemoteAddr(), err)
}

func (d *PacketDispatcher) remove(fc *flowConn) {
	d.mu.Lock()
	if cur, ok := d.flows[fc.key]; ok && cur == fc {
		delete(d.flows, fc.key)
	}
	d.mu.Unlock()
	d.metrics.FlowsActive.WithLabelValues(d.spec.Name).Dec()
}

// Close stops the receive loop.
func (d *PacketDispatcher) Close() error {
	err := d.pc.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// CloseConns ends every open flow. Handlers blocked in Read see io.EOF.
func (d *PacketDispatcher) CloseConns() {
	d.mu.Lock()
	flows := make([]*flowConn, 0, len(d.flows))
	for _, fc := range d.flows {
		flows = append(flows, fc)
	}
	d.mu.Unlock()
	for _, fc := range flows {
		fc.Close()
	}
}

// Wait blocks until the receive loop and all flow handlers have returned.
func (d *PacketDispatcher) Wait() {
	d.wg.Wait()
}

// ActiveFlows returns the number of open flows.
func (d *PacketDispatcher) ActiveFlows() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.flows)
}

// flowConn is the net.Conn view of one UDP flow.
type flowConn struct {
	d      *PacketDispatcher
	key    string
	remote net.Addr
	in     chan []byte
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	deadline time.Time
}

func newFlowConn(d *PacketDispatcher, remote net.Addr) *flowConn {
	return &flowConn{
		d:      d,
		key:    remote.String(),
		remote: remote,
		in:     make(chan []byte, d.queue),
		done:   make(chan struct{}),
	}
}

func (c *flowConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *flowConn) push(pkt []byte) bool {
	if c.closed() {
		return false
	}
	select {
	case c.in <- pkt:
		return true
	default:
		return false
	}
}

// Read returns the next datagram. A datagram larger than b is truncated.
// Read returns io.EOF once the flow has been idle for the configured timeout
// or has been closed.
func (c *flowConn) Read(b []byte) (int, error) {
	idle := time.NewTimer(c.d.idle)
	defer idle.Stop()

	var deadline <-chan time.Time
	c.mu.Lock()
	dl := c.deadline
	c.mu.Unlock()
	if !dl.IsZero() {
		t := time.NewTimer(time.Until(dl))
		defer t.Stop()
		deadline = t.C
	}

	select {
	case pkt := <-c.in:
		return copy(b, pkt), nil
	case <-c.done:
		return 0, io.EOF
	case <-idle.C:
		return 0, io.EOF
	case <-deadline:
		return 0, os.ErrDeadlineExceeded
	}
}

func (c *flowConn) Write(b []byte) (int, error) {
	if c.closed() {
		return 0, net.ErrClosed
	}
	return c.d.pc.WriteTo(b, c.remote)
}

// Close ends the flow. A later datagram from the same source starts a new one.
func (c *flowConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.d.remove(c)
	})
	return nil
}

func (c *flowConn) LocalAddr() net.Addr  { return c.d.pc.LocalAddr() }
func (c *flowConn) RemoteAddr() net.Addr { return c.remote }

func (c *flowConn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *flowConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *flowConn) SetWriteDeadline(time.Time) error {
	return nil
}
