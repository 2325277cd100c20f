//go:build !linux
// +build !linux

package health

import (
	"context"

	"grimm.is/switchyard/internal/clock"
)

// CheckConntrack verifies connection tracking is available.
func CheckConntrack(ctx context.Context) Check {
	return Check{
		Status:      StatusHealthy,
		Message:     "conntrack unsupported on this OS (stubbed)",
		LastChecked: clock.Now(),
	}
}

// CheckMemory verifies memory is available.
func CheckMemory(ctx context.Context) Check {
	return Check{
		Status:      StatusHealthy,
		Message:     "procfs unsupported on this OS (stubbed)",
		LastChecked: clock.Now(),
	}
}
