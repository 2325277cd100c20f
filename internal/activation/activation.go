// Package activation turns the configuration tree and the process
// environment into on/off decisions for each listener group.
package activation

import (
	"fmt"

	"grimm.is/switchyard/internal/config"
)

// Paths read from the configuration tree.
var (
	PathInboundTrafficMatches = []any{"Inbound", "TrafficMatches"}
	PathOutbound              = []any{"Outbound"}
	PathEnableEgress          = []any{"Spec", "Traffic", "EnableEgress"}
	PathProbeScheme           = []any{"Spec", "Probes", "LivenessProbes", 0, "httpGet", "scheme"}
)

// Decision holds one flag per gated listener group. It is computed once at
// startup and never changes.
type Decision struct {
	Inbound  bool `json:"inbound"`
	Outbound bool `json:"outbound"`
	Probes   bool `json:"probes"`
	DNS      bool `json:"dns"`
}

// Evaluate computes the Decision. It never fails: any missing field makes
// the corresponding group inactive.
func Evaluate(tree config.Node, env config.Env) Decision {
	return Decision{
		Inbound:  tree.Get(PathInboundTrafficMatches...).Truthy(),
		Outbound: tree.Get(PathOutbound...).Truthy() || tree.Get(PathEnableEgress...).Truthy(),
		Probes:   tree.Get(PathProbeScheme...).Truthy(),
		DNS:      env.Get(config.EnvLocalDNSProxy) != "",
	}
}

// ProbeScheme returns the scheme of the first liveness probe, or "".
func ProbeScheme(tree config.Node) string {
	n := tree.Get(PathProbeScheme...)
	if !n.Truthy() {
		return ""
	}
	return n.String("")
}

func (d Decision) String() string {
	return fmt.Sprintf("inbound=%t outbound=%t probes=%t dns=%t", d.Inbound, d.Outbound, d.Probes, d.DNS)
}
