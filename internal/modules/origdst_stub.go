//go:build !linux
// +build !linux

package modules

import (
	"fmt"
	"net"
	"syscall"
)

// OriginalDst returns the connection's local address. Interception is only
// supported on Linux.
func OriginalDst(conn net.Conn) (*net.TCPAddr, error) {
	local, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("unsupported address type %T", conn.LocalAddr())
	}
	return local, nil
}

func markControl(mark int) func(network, address string, c syscall.RawConn) error {
	if mark == 0 {
		return nil
	}
	return func(string, string, syscall.RawConn) error {
		return fmt.Errorf("SO_MARK unsupported on this OS")
	}
}
