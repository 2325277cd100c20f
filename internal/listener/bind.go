package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	// ErrUnbound is returned when asked to bind a slot that is inactive or
	// carries the unbound port.
	ErrUnbound = errors.New("listener slot is not bindable")

	// ErrTransparentUnsupported is returned on platforms without
	// transparent socket support.
	ErrTransparentUnsupported = errors.New("transparent sockets are not supported on this platform")
)

// Binder realizes bindable specs as sockets.
type Binder interface {
	Listen(ctx context.Context, spec Spec) (net.Listener, error)
	ListenPacket(ctx context.Context, spec Spec) (net.PacketConn, error)
}

// SocketBinder binds real OS sockets.
type SocketBinder struct{}

var _ Binder = SocketBinder{}

// Listen binds a TCP listener for spec.
func (b SocketBinder) Listen(ctx context.Context, spec Spec) (net.Listener, error) {
	if err := checkBindable(spec, ProtocolTCP); err != nil {
		return nil, err
	}
	lc := b.listenConfig(spec)
	l, err := lc.Listen(ctx, spec.Network(), spec.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s %s: %w", spec.Network(), spec.Addr(), err)
	}
	return l, nil
}

// ListenPacket binds a UDP socket for spec.
func (b SocketBinder) ListenPacket(ctx context.Context, spec Spec) (net.PacketConn, error) {
	if err := checkBindable(spec, ProtocolUDP); err != nil {
		return nil, err
	}
	lc := b.listenConfig(spec)
	pc, err := lc.ListenPacket(ctx, spec.Network(), spec.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s %s: %w", spec.Network(), spec.Addr(), err)
	}
	return pc, nil
}

func (b SocketBinder) listenConfig(spec Spec) net.ListenConfig {
	var lc net.ListenConfig
	if spec.Transparent {
		lc.Control = func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = setTransparent(network, fd)
			})
			if err != nil {
				return err
			}
			return opErr
		}
	}
	return lc
}

func checkBindable(spec Spec, proto Protocol) error {
	if !spec.Bindable() {
		return fmt.Errorf("%s: %w", spec.Name, ErrUnbound)
	}
	if spec.Protocol != proto {
		return fmt.Errorf("%s: protocol %s cannot be bound as %s", spec.Name, spec.Protocol, proto)
	}
	return nil
}
