package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"lineagemon/config"
	"lineagemon/internal/domain"
	"lineagemon/internal/repository"
)

// State is the scan scheduler lifecycle state. There is no transition
// from Stopped back to Running: a stopped engine stays stopped.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

// String returns human-readable state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MonitorService drives the fixed-interval scan loop: snapshot fetch,
// registry update, detection, emission. At most one scan is in flight
// at any time; the interval is measured from the start of one scan to
// the start of the next, so an overrunning scan is followed
// immediately rather than queuing pending scans.
type MonitorService struct {
	cfg       *config.Config
	source    repository.SnapshotSource
	registry  *domain.LineageRegistry
	detectors *domain.DetectorSet
	actions   *domain.ActionRegistry
	writer    *EventWriter
	lifecycle repository.LifecycleSink
	clock     clockwork.Clock
	logger    *logrus.Logger

	mu      sync.RWMutex
	state   State
	csvGate failureGate
	stats   struct {
		cycles        int64
		cyclesSkipped int64
		partialCycles int64
		eventsraised  int64
		rowsWritten   int64
		rowsFailed    int64
	}

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitorService wires the engine together. The configuration and
// detector thresholds are treated as immutable for the lifetime of the
// service.
func NewMonitorService(
	cfg *config.Config,
	source repository.SnapshotSource,
	registry *domain.LineageRegistry,
	detectors *domain.DetectorSet,
	actions *domain.ActionRegistry,
	writer *EventWriter,
	lifecycle repository.LifecycleSink,
	clock clockwork.Clock,
	logger *logrus.Logger,
) *MonitorService {
	return &MonitorService{
		cfg:       cfg,
		source:    source,
		registry:  registry,
		detectors: detectors,
		actions:   actions,
		writer:    writer,
		lifecycle: lifecycle,
		clock:     clock,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start transitions Idle -> Running and schedules the first scan
// immediately. A stopped service cannot be restarted.
func (s *MonitorService) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateRunning, StateStopping:
		s.mu.Unlock()
		return domain.ErrAlreadyRunning
	case StateStopped:
		s.mu.Unlock()
		return domain.ErrNotRestartable
	}
	s.state = StateRunning
	s.mu.Unlock()

	if err := s.writer.Start(); err != nil {
		return err
	}

	s.logger.Infof("[*] Starting process lineage monitor (interval: %v)", s.cfg.ScanInterval)
	go s.run(ctx)
	return nil
}

// Stop requests a graceful shutdown and blocks until the in-flight
// scan (if any) completes and the final lifecycle flush is done.
func (s *MonitorService) Stop() {
	s.mu.Lock()
	switch s.state {
	case StateRunning:
		s.state = StateStopping
		close(s.stopCh)
		s.mu.Unlock()
	case StateStopping:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		return
	}
	<-s.doneCh
}

// State returns the current scheduler state.
func (s *MonitorService) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Registry exposes the lineage registry for console rendering.
func (s *MonitorService) Registry() *domain.LineageRegistry {
	return s.registry
}

func (s *MonitorService) run(ctx context.Context) {
	defer close(s.doneCh)

	for {
		start := s.clock.Now()
		s.scan(ctx)

		// The shutdown signal is observed only at cycle boundaries, so
		// the registry is never left mid-update.
		if s.shouldStop(ctx) {
			break
		}

		if wait := s.cfg.ScanInterval - s.clock.Since(start); wait > 0 {
			select {
			case <-s.stopCh:
			case <-ctx.Done():
			case <-s.clock.After(wait):
			}
			if s.shouldStop(ctx) {
				break
			}
		}
	}

	s.finalize()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.logger.Info("[+] Monitor stopped")
}

func (s *MonitorService) shouldStop(ctx context.Context) bool {
	select {
	case <-s.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// scan runs one full cycle: snapshot -> registry diff -> actions ->
// lifecycle emission -> detectors. A failed snapshot skips the cycle
// and leaves the registry unchanged; records are never speculatively
// marked ended on a fetch failure.
func (s *MonitorService) scan(ctx context.Context) {
	entries, err := s.source.ListProcesses(ctx)
	if err != nil {
		if len(entries) == 0 {
			s.logger.Warnf("[!] Snapshot unavailable, skipping cycle: %v", err)
			s.mu.Lock()
			s.stats.cyclesSkipped++
			s.mu.Unlock()
			return
		}
		s.logger.Warnf("[!] Partial snapshot (%d processes): %v", len(entries), err)
		s.mu.Lock()
		s.stats.partialCycles++
		s.mu.Unlock()
	}

	diff := s.registry.Update(entries)
	if diff.Initial {
		s.logger.Infof("[+] Initial collection complete: %d processes tracked", s.registry.Len())
	}

	// Named-process actions fire on first sighting, including for
	// processes already running at startup.
	for _, pid := range diff.Created {
		if rec, ok := s.registry.Record(pid); ok {
			s.actions.Invoke(rec)
		}
	}

	for _, pid := range diff.Created {
		rec, ok := s.registry.Record(pid)
		if !ok {
			continue
		}
		s.writeRow(rec, "created", diff)
		if !diff.Initial {
			s.emit(domain.NewEvent(domain.EventProcessCreated, diff.Now, pid, rec.Name).
				AddAttr("parent_pid", rec.ParentPID).
				AddAttr("owner", rec.Owner))
		}
	}

	for _, pid := range diff.Ended {
		// The identity behind the PID is gone: if the OS hands the PID
		// out again, the new process may trigger actions afresh.
		s.actions.Forget(pid)

		rec, ok := s.registry.Record(pid)
		if !ok {
			continue
		}
		s.writeRow(rec, "ended", diff)
		s.emit(domain.NewEvent(domain.EventProcessEnded, diff.Now, pid, rec.Name).
			AddAttr("duration_seconds", rec.Duration(diff.Now).Seconds()))
	}

	for _, pid := range diff.CycleMembers {
		rec, ok := s.registry.Record(pid)
		if !ok {
			continue
		}
		s.logger.Warnf("[!] Parent cycle detected at PID %d (%s); isolated as root for this cycle", pid, rec.Name)
		s.emit(domain.NewEvent(domain.EventRegistryWarning, diff.Now, pid, rec.Name).
			AddAttr("reason", "parent_cycle").
			AddAttr("parent_pid", rec.ParentPID))
	}

	events := s.detectors.Run(s.registry, diff)
	for _, event := range events {
		if rec, ok := s.registry.Record(event.PID); ok {
			rec.MarkFlag(event.Kind)
		}
		s.logger.Warnf("[!] %s: PID=%d name=%s %v", event.Kind, event.PID, event.Name, event.Attrs)
		s.emit(event)
	}

	s.mu.Lock()
	s.stats.cycles++
	s.stats.eventsraised += int64(len(events))
	s.mu.Unlock()
}

// finalize marks every still-live record ended at the shutdown time and
// flushes its final lifecycle row before returning control.
func (s *MonitorService) finalize() {
	now := s.clock.Now()
	finalized := s.registry.FinalizeAll(now)
	if len(finalized) > 0 {
		s.logger.Infof("[*] Final flush: marking %d live processes ended", len(finalized))
	}

	for _, rec := range finalized {
		row := s.buildRow(rec, "ended", now)
		if err := s.lifecycle.WriteRow(row); err != nil {
			s.logger.Warnf("[!] Failed to write final row for PID %d: %v", rec.PID, err)
			continue
		}
		s.emit(domain.NewEvent(domain.EventProcessEnded, now, rec.PID, rec.Name).
			AddAttr("duration_seconds", rec.Duration(now).Seconds()).
			AddAttr("reason", "shutdown"))
	}

	s.writer.Stop()
	if err := s.lifecycle.Close(); err != nil {
		s.logger.Warnf("[!] Failed to close tabular sink: %v", err)
	}
}

func (s *MonitorService) emit(event *domain.Event) {
	s.writer.Enqueue(event)
}

func (s *MonitorService) writeRow(rec *domain.ProcessRecord, phase string, diff domain.DiffResult) {
	row := s.buildRow(rec, phase, diff.Now)
	err := s.lifecycle.WriteRow(row)

	s.mu.Lock()
	if err != nil {
		s.stats.rowsFailed++
		logNow := s.csvGate.fail()
		s.mu.Unlock()
		if logNow {
			s.logger.Warnf("[!] Tabular sink write failed (suppressing repeats): %v", err)
		}
		return
	}
	s.stats.rowsWritten++
	suppressed, recovered := s.csvGate.ok()
	s.mu.Unlock()
	if recovered {
		s.logger.Infof("[+] Tabular sink recovered after %d failed writes", suppressed+1)
	}
}

func (s *MonitorService) buildRow(rec *domain.ProcessRecord, phase string, now time.Time) *domain.LifecycleRow {
	return &domain.LifecycleRow{
		Phase:       phase,
		PID:         rec.PID,
		Name:        rec.Name,
		Exe:         rec.Exe,
		ParentPID:   rec.ParentPID,
		StartTime:   rec.CreatedAt,
		EndTime:     rec.EndedAt,
		SpawnRate:   len(rec.SpawnTimes),
		NumChildren: len(rec.Children),
		Ancestry:    s.registry.Ancestry(rec.PID),
		Owner:       rec.Owner,
		Priority:    rec.Priority,
		Duration:    rec.Duration(now),
		Elevated:    rec.Elevated,
		Flags:       rec.FlagList(),
	}
}

// GetStats returns scheduler statistics
func (s *MonitorService) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"state":          s.state.String(),
		"cycles":         s.stats.cycles,
		"cycles_skipped": s.stats.cyclesSkipped,
		"partial_cycles": s.stats.partialCycles,
		"events_raised":  s.stats.eventsraised,
		"rows_written":   s.stats.rowsWritten,
		"rows_failed":    s.stats.rowsFailed,
		"tracked":        s.registry.Len(),
		"live":           len(s.registry.Live()),
	}
	for k, v := range s.writer.GetStats() {
		stats["writer_"+k] = v
	}
	return stats
}
