package domain

import (
	"path"
	"strings"
	"time"
)

// Thresholds is the immutable detection policy passed into the engine at
// construction. Multiple engine instances never share threshold state.
type Thresholds struct {
	MaxSpawnRate  int           // children per parent inside SpawnWindow
	MaxChildren   int           // direct children before alerting
	MaxChainDepth int           // ancestry depth before alerting
	SpawnWindow   time.Duration // trailing window for spawn-rate counting

	// Whitelist holds lowercased process names allowed to run elevated;
	// WhitelistPatterns holds optional glob patterns. An empty whitelist
	// fails open: every elevated process is flagged.
	Whitelist         map[string]struct{}
	WhitelistPatterns []string

	PriorityChangeEnabled  bool
	PrivilegeChangeEnabled bool
}

// ElevationAllowed reports whether a process name may legitimately run
// elevated under this policy.
func (t Thresholds) ElevationAllowed(name string) bool {
	lower := strings.ToLower(name)
	if _, ok := t.Whitelist[lower]; ok {
		return true
	}
	for _, pattern := range t.WhitelistPatterns {
		if matched, err := path.Match(strings.ToLower(pattern), lower); err == nil && matched {
			return true
		}
	}
	return false
}

// DetectorSet evaluates the six anomaly rules against the registry after
// every scan. Detectors are pure with respect to registry state: they
// only read records and the diff, and emit events.
type DetectorSet struct {
	thresholds Thresholds
}

// NewDetectorSet creates a detector set bound to one threshold policy.
func NewDetectorSet(thresholds Thresholds) *DetectorSet {
	return &DetectorSet{thresholds: thresholds}
}

// Thresholds returns the policy the set was constructed with.
func (d *DetectorSet) Thresholds() Thresholds {
	return d.thresholds
}

// Run evaluates every detector and returns the resulting events. Rules
// re-fire each cycle their condition persists; deduplication is the
// caller's concern.
func (d *DetectorSet) Run(reg *LineageRegistry, diff DiffResult) []*Event {
	var events []*Event
	live := reg.Live()

	events = append(events, d.detectGhostAncestry(reg, live, diff)...)
	events = append(events, d.detectExcessChildren(live, diff)...)
	events = append(events, d.detectDeepChains(live, diff)...)
	events = append(events, d.detectSpawnRates(live, diff)...)
	events = append(events, d.detectUnauthorizedElevation(live, diff)...)
	events = append(events, d.detectPriorityChanges(reg, diff)...)
	events = append(events, d.detectOwnerChanges(reg, diff)...)

	return events
}

// detectGhostAncestry flags live records whose recorded parent has been
// observed to end. A parent that was never observed (it predates the
// engine) does not fire: only a vanished ancestor does. The cycle the
// parent is first marked ended does not fire either; the condition is
// visible from the following cycle.
func (d *DetectorSet) detectGhostAncestry(reg *LineageRegistry, live []*ProcessRecord, diff DiffResult) []*Event {
	var events []*Event
	for _, rec := range live {
		ppid := rec.ParentPID
		if ppid <= 0 {
			continue
		}

		ghost := false
		if parent, ok := reg.Record(ppid); ok {
			ghost = !parent.IsLive() && parent.endedCycle < reg.Cycle()
		} else {
			ghost = reg.WasEnded(ppid)
		}
		if !ghost {
			continue
		}

		events = append(events, NewEvent(EventGhostAncestry, diff.Now, rec.PID, rec.Name).
			AddAttr("parent_pid", ppid))
	}
	return events
}

func (d *DetectorSet) detectExcessChildren(live []*ProcessRecord, diff DiffResult) []*Event {
	var events []*Event
	for _, rec := range live {
		if len(rec.Children) <= d.thresholds.MaxChildren {
			continue
		}
		events = append(events, NewEvent(EventExcessChildren, diff.Now, rec.PID, rec.Name).
			AddAttr("children", len(rec.Children)).
			AddAttr("threshold", d.thresholds.MaxChildren))
	}
	return events
}

func (d *DetectorSet) detectDeepChains(live []*ProcessRecord, diff DiffResult) []*Event {
	var events []*Event
	for _, rec := range live {
		if rec.ChainDepth <= d.thresholds.MaxChainDepth {
			continue
		}
		events = append(events, NewEvent(EventDeepChain, diff.Now, rec.PID, rec.Name).
			AddAttr("depth", rec.ChainDepth).
			AddAttr("threshold", d.thresholds.MaxChainDepth))
	}
	return events
}

// detectSpawnRates counts births inside the trailing window. The window
// is sliding, not bucketed: the registry prunes timestamps every cycle,
// so a burst fires immediately and the condition clears once the window
// drains.
func (d *DetectorSet) detectSpawnRates(live []*ProcessRecord, diff DiffResult) []*Event {
	var events []*Event
	for _, rec := range live {
		rate := len(rec.SpawnTimes)
		if rate <= d.thresholds.MaxSpawnRate {
			continue
		}
		events = append(events, NewEvent(EventHighSpawnRate, diff.Now, rec.PID, rec.Name).
			AddAttr("rate", rate).
			AddAttr("threshold", d.thresholds.MaxSpawnRate).
			AddAttr("window_seconds", d.thresholds.SpawnWindow.Seconds()))
	}
	return events
}

func (d *DetectorSet) detectUnauthorizedElevation(live []*ProcessRecord, diff DiffResult) []*Event {
	var events []*Event
	for _, rec := range live {
		if !rec.Elevated || d.thresholds.ElevationAllowed(rec.Name) {
			continue
		}
		events = append(events, NewEvent(EventUnauthorizedElevation, diff.Now, rec.PID, rec.Name).
			AddAttr("owner", rec.Owner))
	}
	return events
}

// detectPriorityChanges flags upward transitions crossing into high or
// realtime. A process lowering its own priority is benign.
func (d *DetectorSet) detectPriorityChanges(reg *LineageRegistry, diff DiffResult) []*Event {
	if !d.thresholds.PriorityChangeEnabled {
		return nil
	}
	var events []*Event
	for pid, change := range diff.PriorityChanged {
		if change.To <= change.From || change.To < PriorityHigh {
			continue
		}
		rec, ok := reg.Record(pid)
		if !ok {
			continue
		}
		events = append(events, NewEvent(EventPriorityChange, diff.Now, pid, rec.Name).
			AddAttr("from", change.From.String()).
			AddAttr("to", change.To.String()))
	}
	return events
}

func (d *DetectorSet) detectOwnerChanges(reg *LineageRegistry, diff DiffResult) []*Event {
	if !d.thresholds.PrivilegeChangeEnabled {
		return nil
	}
	var events []*Event
	for pid, change := range diff.OwnerChanged {
		rec, ok := reg.Record(pid)
		if !ok {
			continue
		}
		events = append(events, NewEvent(EventOwnerChange, diff.Now, pid, rec.Name).
			AddAttr("from", change.From).
			AddAttr("to", change.To))
	}
	return events
}
