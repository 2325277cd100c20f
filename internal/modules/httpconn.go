package modules

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"
)

// serveHTTP runs an HTTP/1.1 server over a single accepted connection and
// returns once the connection is closed or ctx is cancelled.
func serveHTTP(ctx context.Context, conn net.Conn, h http.Handler) error {
	l := newConnListener(conn)
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	stop := context.AfterFunc(ctx, func() { srv.Close() })
	defer stop()

	err := srv.Serve(l)
	if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// connListener yields one connection, then blocks until that connection or
// the listener is closed.
type connListener struct {
	conn     net.Conn
	accepted bool
	mu       sync.Mutex
	done     chan struct{}
	once     sync.Once
}

func newConnListener(c net.Conn) *connListener {
	l := &connListener{done: make(chan struct{})}
	l.conn = &notifyConn{Conn: c, onClose: l.shut}
	return l
}

func (l *connListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	first := !l.accepted
	l.accepted = true
	l.mu.Unlock()
	if first {
		return l.conn, nil
	}
	<-l.done
	return nil, net.ErrClosed
}

func (l *connListener) shut() {
	l.once.Do(func() { close(l.done) })
}

func (l *connListener) Close() error {
	l.shut()
	return nil
}

func (l *connListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

type notifyConn struct {
	net.Conn
	onClose func()
}

func (c *notifyConn) Close() error {
	err := c.Conn.Close()
	c.onClose()
	return err
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
