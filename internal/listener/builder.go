package listener

import "grimm.is/switchyard/internal/activation"

// groupDef pairs an activation predicate with the slots it controls. Adding a
// listener group means adding one entry to groups.
type groupDef struct {
	group  Group
	active func(activation.Decision) bool
	build  func(active bool) []Spec
}

var groups = []groupDef{
	{
		group:  GroupInbound,
		active: func(d activation.Decision) bool { return d.Inbound },
		build: func(active bool) []Spec {
			return []Spec{{
				Name: "inbound", Group: GroupInbound,
				Address: AddrAnyIPv4, Port: PortInbound, Protocol: ProtocolTCP,
				Transparent: true, Module: ModuleInbound, Active: active,
			}}
		},
	},
	{
		group:  GroupOutbound,
		active: func(d activation.Decision) bool { return d.Outbound },
		build: func(active bool) []Spec {
			return []Spec{{
				Name: "outbound", Group: GroupOutbound,
				Address: AddrAnyIPv4, Port: PortOutbound, Protocol: ProtocolTCP,
				Transparent: true, Module: ModuleOutbound, Active: active,
			}}
		},
	},
	{
		group:  GroupProbes,
		active: func(d activation.Decision) bool { return d.Probes },
		build: func(active bool) []Spec {
			probe := func(arg string, port int) Spec {
				if !active {
					port = PortUnbound
				}
				return Spec{
					Name: arg, Group: GroupProbes,
					Address: AddrAnyIPv4, Port: port, Protocol: ProtocolTCP,
					Module: ModuleProbes, ModuleArg: arg, Active: active,
				}
			}
			return []Spec{
				probe(ArgLiveness, PortLiveness),
				probe(ArgReadiness, PortReadiness),
				probe(ArgStartup, PortStartup),
			}
		},
	},
	{
		group:  GroupMetrics,
		active: func(activation.Decision) bool { return true },
		build: func(bool) []Spec {
			return []Spec{
				{
					Name: ArgPrometheus, Group: GroupMetrics,
					Address: AddrAnyIPv4, Port: PortMetrics, Protocol: ProtocolTCP,
					Module: ModuleStats, ModuleArg: ArgPrometheus, Active: true,
				},
				{
					Name: ArgOSMStats, Group: GroupMetrics,
					Address: AddrAnyIPv6, Port: PortStats, Protocol: ProtocolTCP,
					Module: ModuleStats, ModuleArg: ArgOSMStats, Active: true,
				},
			}
		},
	},
	{
		group:  GroupDNS,
		active: func(d activation.Decision) bool { return d.DNS },
		build: func(active bool) []Spec {
			return []Spec{{
				Name: "dns", Group: GroupDNS,
				Address: AddrDNS, Port: PortDNS, Protocol: ProtocolUDP,
				Transparent: true, Module: ModuleDNS, Active: active,
			}}
		},
	},
}

// Build returns every listener slot for the decision, in a fixed order.
// Inactive slots are returned with Active=false so the slot count is
// stable; inactive probe slots also carry the unbound port.
func Build(d activation.Decision) []Spec {
	var specs []Spec
	for _, g := range groups {
		specs = append(specs, g.build(g.active(d))...)
	}
	return specs
}

// Bindable filters specs down to the ones that become live sockets.
func Bindable(specs []Spec) []Spec {
	var out []Spec
	for _, s := range specs {
		if s.Bindable() {
			out = append(out, s)
		}
	}
	return out
}

// Groups returns the known groups in build order.
func Groups() []Group {
	out := make([]Group, len(groups))
	for i, g := range groups {
		out[i] = g.group
	}
	return out
}
