//go:build linux
// +build linux

package modules

import (
	"encoding/binary"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// OriginalDst returns the destination a connection had before it was
// redirected to the sidecar. NAT redirects are read from conntrack via
// SO_ORIGINAL_DST; TPROXY connections keep the original destination as their
// local address, which is used when no NAT entry exists. The relay listeners
// bind IPv4 only, so IPv6 connections always take the local address.
func OriginalDst(conn net.Conn) (*net.TCPAddr, error) {
	local, _ := conn.LocalAddr().(*net.TCPAddr)
	if local != nil && local.IP.To4() == nil {
		return local, nil
	}

	sc, ok := conn.(syscall.Conn)
	if !ok {
		if local == nil {
			return nil, fmt.Errorf("unsupported connection type %T", conn)
		}
		return local, nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}

	var dst *net.TCPAddr
	var sockErr error
	ctlErr := raw.Control(func(fd uintptr) {
		dst, sockErr = originalDst4(int(fd))
	})
	if ctlErr != nil {
		return nil, ctlErr
	}
	if sockErr != nil || dst == nil {
		if local == nil {
			return nil, fmt.Errorf("getsockopt SO_ORIGINAL_DST: %w", sockErr)
		}
		return local, nil
	}
	return dst, nil
}

// SO_ORIGINAL_DST from linux/netfilter_ipv4.h.
const soOriginalDst = 80

func originalDst4(fd int) (*net.TCPAddr, error) {
	mreq, err := unix.GetsockoptIPv6Mreq(fd, unix.IPPROTO_IP, soOriginalDst)
	if err != nil {
		return nil, err
	}
	// The kernel fills a sockaddr_in: family(2) port(2) addr(4).
	raw := mreq.Multiaddr
	return &net.TCPAddr{
		IP:   net.IPv4(raw[4], raw[5], raw[6], raw[7]),
		Port: int(binary.BigEndian.Uint16(raw[2:4])),
	}, nil
}

// markControl sets SO_MARK on dialed sockets so the interception rules can
// exempt the sidecar's own upstream traffic.
func markControl(mark int) func(network, address string, c syscall.RawConn) error {
	if mark == 0 {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var opErr error
		if err := c.Control(func(fd uintptr) {
			opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, mark)
		}); err != nil {
			return err
		}
		if opErr != nil {
			return fmt.Errorf("failed to set SO_MARK %d: %w", mark, opErr)
		}
		return nil
	}
}
