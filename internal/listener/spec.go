// Package listener describes the sidecar's listening endpoints and binds them.
//
// [Build] turns an activation decision into a fixed list of [Spec] values,
// one per listener slot. [SocketBinder] realizes a bindable Spec as a
// net.Listener or net.PacketConn, enabling transparent interception when
// the Spec asks for it.
package listener

import (
	"fmt"
	"net"
	"strconv"
)

// Protocol is the transport a listener accepts.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Group is an independently gated listener category.
type Group string

const (
	GroupInbound  Group = "inbound"
	GroupOutbound Group = "outbound"
	GroupProbes   Group = "probes"
	GroupMetrics  Group = "metrics"
	GroupDNS      Group = "dns"
)

// Well-known ports. Operators and the injector rewrite rules depend on them.
const (
	PortInbound   = 15003
	PortOutbound  = 15001
	PortLiveness  = 15901
	PortReadiness = 15902
	PortStartup   = 15903
	PortMetrics   = 15010
	PortStats     = 15000
	PortDNS       = 5300

	// PortUnbound marks a declared listener that must not be bound.
	PortUnbound = 0
)

// Listen addresses.
const (
	AddrAnyIPv4 = "0.0.0.0"
	AddrAnyIPv6 = "::"
	AddrDNS     = "127.0.0.153"
)

// Module names and arguments handed to the dispatcher.
const (
	ModuleInbound  = "inbound-main"
	ModuleOutbound = "outbound-main"
	ModuleProbes   = "probes"
	ModuleStats    = "stats"
	ModuleDNS      = "dns-main"

	ArgLiveness   = "liveness"
	ArgReadiness  = "readiness"
	ArgStartup    = "startup"
	ArgPrometheus = "prometheus"
	ArgOSMStats   = "osm-stats"
)

// Spec describes one listener slot.
type Spec struct {
	Name        string   `json:"name"`
	Group       Group    `json:"group"`
	Address     string   `json:"address"`
	Port        int      `json:"port"`
	Protocol    Protocol `json:"protocol"`
	Transparent bool     `json:"transparent"`
	Module      string   `json:"module"`
	ModuleArg   string   `json:"module_arg,omitempty"`
	Active      bool     `json:"active"`
}

// Bindable reports whether the slot should become a live socket.
func (s Spec) Bindable() bool {
	return s.Active && s.Port != PortUnbound
}

// Addr returns host:port for the slot.
func (s Spec) Addr() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// Network returns the Go network name for the slot. IPv4 literals bind
// IPv4-only sockets; the IPv6 wildcard binds a dual-stack socket.
func (s Spec) Network() string {
	proto := string(s.Protocol)
	ip := net.ParseIP(s.Address)
	switch {
	case ip == nil:
		return proto
	case ip.To4() != nil:
		return proto + "4"
	case ip.IsUnspecified():
		return proto
	default:
		return proto + "6"
	}
}

// Target returns the module invocation, e.g. "probes(liveness)".
func (s Spec) Target() string {
	if s.ModuleArg == "" {
		return s.Module
	}
	return s.Module + "(" + s.ModuleArg + ")"
}

func (s Spec) String() string {
	mode := ""
	if s.Transparent {
		mode = " transparent"
	}
	return fmt.Sprintf("%s %s/%s%s -> %s", s.Name, s.Addr(), s.Protocol, mode, s.Target())
}
