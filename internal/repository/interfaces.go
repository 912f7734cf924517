package repository

import (
	"context"

	"lineagemon/internal/domain"
)

// SnapshotSource enumerates the currently running processes. A partial
// result with a non-nil error means the OS denied access to part of the
// process table; callers must process the partial snapshot rather than
// discard it. A nil slice with an error means the cycle is unusable.
type SnapshotSource interface {
	ListProcesses(ctx context.Context) ([]domain.ProcessInfo, error)
}

// EventSink receives every structured event the engine emits.
type EventSink interface {
	Emit(event *domain.Event) error
	Close() error
}

// LifecycleSink receives one tabular row per process lifecycle terminus.
type LifecycleSink interface {
	WriteRow(row *domain.LifecycleRow) error
	Close() error
}
