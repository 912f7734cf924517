package domain

import (
	"errors"
	"sort"
	"time"
)

var (
	ErrInvalidPID          = errors.New("invalid process ID")
	ErrSnapshotUnavailable = errors.New("process snapshot unavailable")
	ErrSinkClosed          = errors.New("event sink closed")
	ErrAlreadyRunning      = errors.New("monitor already running")
	ErrNotRestartable      = errors.New("monitor stopped; a new instance is required")
)

// Priority is the platform-normalized scheduling priority of a process.
// Values are ordered: idle < normal < high < realtime.
type Priority int

const (
	PriorityIdle Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityRealtime
)

// String returns human-readable priority name
func (p Priority) String() string {
	switch p {
	case PriorityIdle:
		return "idle"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityRealtime:
		return "realtime"
	default:
		return "unknown"
	}
}

// ProcessInfo is one raw entry of a process snapshot as delivered by a
// SnapshotSource. Attributes that could not be read are left at their
// zero values ("best-effort partial record").
type ProcessInfo struct {
	PID       int32
	Name      string
	ParentPID int32
	Exe       string
	Owner     string
	Elevated  bool
	Priority  Priority
	CreatedAt time.Time
}

// ProcessRecord is the tracked state of one PID across scan cycles.
// A PID reused by the OS after exit becomes a brand-new record.
type ProcessRecord struct {
	PID       int32
	Name      string
	ParentPID int32
	Exe       string
	Owner     string
	Elevated  bool
	Priority  Priority

	// CreatedAt is the time of first observation; EndedAt is zero while
	// the process is live and set exactly once when it disappears.
	CreatedAt time.Time
	EndedAt   time.Time

	// Children is derived from the snapshot's parent pointers every
	// cycle, never mutated incrementally.
	Children map[int32]struct{}

	// SpawnTimes holds child-birth timestamps inside the trailing
	// spawn-rate window; older entries are pruned each cycle.
	SpawnTimes []time.Time

	// ChainDepth is the distance to the furthest living root ancestor
	// still present in the registry (0 for roots).
	ChainDepth int

	// LastPriority is the priority recorded last cycle, used to detect
	// transitions.
	LastPriority Priority

	// Flags records which detectors fired for this process during its
	// life; flushed with the final lifecycle row.
	Flags map[string]struct{}

	// endedCycle is the registry cycle the record was marked ended on;
	// the registry evicts the record one cycle later.
	endedCycle int
}

// IsLive reports whether the record has not been marked ended.
func (r *ProcessRecord) IsLive() bool {
	return r.EndedAt.IsZero()
}

// Duration returns the observed lifetime of the process. For live
// records the duration is measured up to now.
func (r *ProcessRecord) Duration(now time.Time) time.Duration {
	if r.IsLive() {
		return now.Sub(r.CreatedAt)
	}
	return r.EndedAt.Sub(r.CreatedAt)
}

// MarkFlag records that a detector fired for this process.
func (r *ProcessRecord) MarkFlag(kind string) {
	if r.Flags == nil {
		r.Flags = make(map[string]struct{})
	}
	r.Flags[kind] = struct{}{}
}

// FlagList returns the triggered detector flags in sorted order.
func (r *ProcessRecord) FlagList() []string {
	if len(r.Flags) == 0 {
		return nil
	}
	flags := make([]string, 0, len(r.Flags))
	for f := range r.Flags {
		flags = append(flags, f)
	}
	sort.Strings(flags)
	return flags
}

// LifecycleRow is one tabular-sink row describing a process lifecycle
// terminus (first sighting or end of life).
type LifecycleRow struct {
	Phase       string // "created" or "ended"
	PID         int32
	Name        string
	Exe         string
	ParentPID   int32
	StartTime   time.Time
	EndTime     time.Time // zero for creation rows
	SpawnRate   int
	NumChildren int
	Ancestry    []int32 // root-first
	Owner       string
	Priority    Priority
	Duration    time.Duration
	Elevated    bool
	Flags       []string
}
