//go:build !windows

package infrastructure

import (
	"context"

	"github.com/shirou/gopsutil/v4/process"

	"lineagemon/internal/domain"
)

// isElevated reports whether the process runs with root privileges.
func isElevated(ctx context.Context, p *process.Process) bool {
	uids, err := p.UidsWithContext(ctx)
	if err != nil || len(uids) == 0 {
		return false
	}
	return uids[0] == 0
}

// normalizePriority maps Unix niceness onto the ordered priority scale.
// Lower niceness means higher scheduling priority.
func normalizePriority(nice int32) domain.Priority {
	switch {
	case nice > 10:
		return domain.PriorityIdle
	case nice >= -9:
		return domain.PriorityNormal
	case nice >= -19:
		return domain.PriorityHigh
	default:
		return domain.PriorityRealtime
	}
}
