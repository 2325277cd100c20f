package testutil

import (
	"net"
	"os"
	"testing"
)

// RequirePrivileged skips the test unless SWITCHYARD_PRIV_TEST is set.
// Tests that open transparent sockets need CAP_NET_ADMIN and only run in
// the privileged CI job.
func RequirePrivileged(t *testing.T) {
	t.Helper()
	if os.Getenv("SWITCHYARD_PRIV_TEST") == "" {
		t.Skip("Skipping test: requires SWITCHYARD_PRIV_TEST environment")
	}
}

// FreePort returns a TCP port on 127.0.0.1 that was free a moment ago.
func FreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// FreeUDPPort returns a UDP port on 127.0.0.1 that was free a moment ago.
func FreeUDPPort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer pc.Close()
	return pc.LocalAddr().(*net.UDPAddr).Port
}
