//go:build linux
// +build linux

package health

import (
	"context"
	"fmt"
	"os"
	"strings"

	"grimm.is/switchyard/internal/clock"
)

// CheckConntrack verifies connection tracking is available. Transparent
// relays recover original destinations from conntrack.
func CheckConntrack(ctx context.Context) Check {
	start := clock.Now()
	check := Check{LastChecked: start}

	data, err := os.ReadFile("/proc/sys/net/netfilter/nf_conntrack_count")
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("cannot read conntrack: %v", err)
	} else {
		check.Status = StatusHealthy
		check.Message = fmt.Sprintf("conntrack entries: %s", strings.TrimSpace(string(data)))
	}

	check.Duration = clock.Since(start)
	return check
}

// CheckMemory verifies memory is available.
func CheckMemory(ctx context.Context) Check {
	start := clock.Now()
	check := Check{LastChecked: start}

	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("cannot read meminfo: %v", err)
	} else {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "MemAvailable:") {
				check.Status = StatusHealthy
				check.Message = strings.Join(strings.Fields(line), " ")
				break
			}
		}
		if check.Status == "" {
			check.Status = StatusHealthy
			check.Message = "memory info available"
		}
	}

	check.Duration = clock.Since(start)
	return check
}
