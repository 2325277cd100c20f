//go:build linux

package listener

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// setTransparent lets the socket accept traffic addressed to any
// destination. Requires CAP_NET_ADMIN.
func setTransparent(network string, fd uintptr) error {
	if strings.HasSuffix(network, "6") {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_IPV6, unix.IPV6_TRANSPARENT, 1); err != nil {
			return fmt.Errorf("set IPV6_TRANSPARENT: %w", err)
		}
		// Dual-stack sockets also see IPv4-mapped traffic.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1)
		return nil
	}
	if err := unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1); err != nil {
		return fmt.Errorf("set IP_TRANSPARENT: %w", err)
	}
	return nil
}
