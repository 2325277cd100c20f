package listener

import (
	"context"
	"net"

	"github.com/stretchr/testify/mock"
)

// MockBinder is a mock implementation of the Binder interface.
type MockBinder struct {
	mock.Mock
}

func (m *MockBinder) Listen(ctx context.Context, spec Spec) (net.Listener, error) {
	args := m.Called(ctx, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(net.Listener), args.Error(1)
}

func (m *MockBinder) ListenPacket(ctx context.Context, spec Spec) (net.PacketConn, error) {
	args := m.Called(ctx, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(net.PacketConn), args.Error(1)
}
