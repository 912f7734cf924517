package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/process"

	"lineagemon/internal/domain"
)

// GopsutilSource enumerates the OS process table via gopsutil. A single
// unreadable process degrades to a best-effort partial record; only a
// failed enumeration makes the whole cycle unusable.
type GopsutilSource struct{}

// NewSnapshotSource creates a process snapshot source backed by the OS
// process table.
func NewSnapshotSource() *GopsutilSource {
	return &GopsutilSource{}
}

// ListProcesses returns one ProcessInfo per currently running process.
func (s *GopsutilSource) ListProcesses(ctx context.Context) ([]domain.ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(domain.ErrSnapshotUnavailable, err.Error())
	}

	infos := make([]domain.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		info, ok := s.describe(ctx, p)
		if !ok {
			// Process exited mid-enumeration; skip it, the next
			// snapshot settles the difference.
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// describe reads one process's attributes. Unreadable attributes fall
// back to neutral values rather than discarding the process.
func (s *GopsutilSource) describe(ctx context.Context, p *process.Process) (domain.ProcessInfo, bool) {
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return domain.ProcessInfo{}, false
	}

	info := domain.ProcessInfo{
		PID:      p.Pid,
		Name:     name,
		Owner:    "N/A",
		Priority: domain.PriorityNormal,
	}

	if ppid, err := p.PpidWithContext(ctx); err == nil {
		info.ParentPID = ppid
	}
	if owner, err := p.UsernameWithContext(ctx); err == nil && owner != "" {
		info.Owner = owner
	}
	if nice, err := p.NiceWithContext(ctx); err == nil {
		info.Priority = normalizePriority(nice)
	}
	if created, err := p.CreateTimeWithContext(ctx); err == nil && created > 0 {
		info.CreatedAt = time.UnixMilli(created)
	}
	if exe, err := p.ExeWithContext(ctx); err == nil {
		info.Exe = exe
	}
	info.Elevated = isElevated(ctx, p)

	return info, true
}
