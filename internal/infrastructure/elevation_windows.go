//go:build windows

package infrastructure

import (
	"context"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/windows"

	"lineagemon/internal/domain"
)

// Windows priority class values as reported by gopsutil's Nice on
// Windows (GetPriorityClass).
const (
	idlePriorityClass        = 0x00000040
	belowNormalPriorityClass = 0x00004000
	normalPriorityClass      = 0x00000020
	aboveNormalPriorityClass = 0x00008000
	highPriorityClass        = 0x00000080
	realtimePriorityClass    = 0x00000100
)

// isElevated queries the process token for elevation. Processes we
// cannot open are assumed unelevated.
func isElevated(_ context.Context, p *process.Process) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(p.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var token windows.Token
	if err := windows.OpenProcessToken(handle, windows.TOKEN_QUERY, &token); err != nil {
		return false
	}
	defer token.Close()

	return token.IsElevated()
}

func normalizePriority(class int32) domain.Priority {
	switch class {
	case idlePriorityClass:
		return domain.PriorityIdle
	case highPriorityClass:
		return domain.PriorityHigh
	case realtimePriorityClass:
		return domain.PriorityRealtime
	case belowNormalPriorityClass, normalPriorityClass, aboveNormalPriorityClass:
		return domain.PriorityNormal
	default:
		return domain.PriorityNormal
	}
}
