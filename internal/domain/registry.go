package domain

import (
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
)

// PriorityChange describes a priority transition observed between two
// scan cycles.
type PriorityChange struct {
	From Priority
	To   Priority
}

// OwnerChange describes an owner-identity transition observed between
// two scan cycles.
type OwnerChange struct {
	From string
	To   string
}

// DiffResult summarizes what one registry update changed, so detectors
// can consult the deltas without re-scanning the whole registry.
type DiffResult struct {
	Now     time.Time
	Initial bool // true for the first collection pass at startup

	Created         []int32
	Ended           []int32
	PriorityChanged map[int32]PriorityChange
	OwnerChanged    map[int32]OwnerChange

	// CycleMembers lists records isolated as synthetic roots this cycle
	// because their parent pointers formed a cycle.
	CycleMembers []int32
}

// LineageRegistry is the in-memory source of truth for process ancestry
// across scan cycles. It is driven by exactly one scan at a time (the
// scheduler guarantees no overlapping scans), so it carries no internal
// locking. Update must be called once per cycle and is not reentrant.
type LineageRegistry struct {
	clock       clockwork.Clock
	spawnWindow time.Duration

	records map[int32]*ProcessRecord

	// ended remembers every PID observed to end, so ghost-ancestry
	// detection can distinguish "ancestor vanished" from "parent never
	// observed". Entries are dropped when the OS reuses the PID.
	ended map[int32]time.Time

	cycle       int
	initialized bool
}

// NewLineageRegistry creates an empty registry. spawnWindow bounds the
// trailing window used for spawn-rate bookkeeping.
func NewLineageRegistry(clock clockwork.Clock, spawnWindow time.Duration) *LineageRegistry {
	return &LineageRegistry{
		clock:       clock,
		spawnWindow: spawnWindow,
		records:     make(map[int32]*ProcessRecord),
		ended:       make(map[int32]time.Time),
	}
}

// Update diffs one full snapshot against the tracked state: creates
// records for new PIDs, updates mutable attributes, marks vanished PIDs
// ended, evicts records ended more than one cycle ago, recomputes
// children and chain depths, and maintains spawn-timestamp windows.
// The first call is the initial collection pass: pre-existing processes
// are recorded without spawn credit.
func (lr *LineageRegistry) Update(snapshot []ProcessInfo) DiffResult {
	now := lr.clock.Now()
	lr.cycle++

	diff := DiffResult{
		Now:             now,
		Initial:         !lr.initialized,
		PriorityChanged: make(map[int32]PriorityChange),
		OwnerChanged:    make(map[int32]OwnerChange),
	}

	current := make(map[int32]ProcessInfo, len(snapshot))
	for _, pi := range snapshot {
		if pi.PID <= 0 {
			continue
		}
		current[pi.PID] = pi
	}

	// Evict records that ended in an earlier cycle and are still gone.
	for pid, rec := range lr.records {
		if rec.IsLive() {
			continue
		}
		if _, back := current[pid]; back {
			continue
		}
		if lr.cycle-rec.endedCycle >= 2 {
			delete(lr.records, pid)
		}
	}

	for pid, pi := range current {
		rec, known := lr.records[pid]
		if known && !rec.IsLive() {
			// The OS reused the PID: no identity carries over.
			known = false
		}

		if !known {
			created := pi.CreatedAt
			if created.IsZero() {
				created = now
			}
			lr.records[pid] = &ProcessRecord{
				PID:          pid,
				Name:         pi.Name,
				ParentPID:    pi.ParentPID,
				Exe:          pi.Exe,
				Owner:        pi.Owner,
				Elevated:     pi.Elevated,
				Priority:     pi.Priority,
				CreatedAt:    created,
				Children:     make(map[int32]struct{}),
				LastPriority: pi.Priority,
			}
			delete(lr.ended, pid)
			diff.Created = append(diff.Created, pid)
			continue
		}

		// Existing live record: refresh mutable attributes and note
		// transitions for the detectors.
		if pi.Priority != rec.LastPriority {
			diff.PriorityChanged[pid] = PriorityChange{From: rec.LastPriority, To: pi.Priority}
			rec.LastPriority = pi.Priority
		}
		if pi.Owner != "" && pi.Owner != rec.Owner {
			diff.OwnerChanged[pid] = OwnerChange{From: rec.Owner, To: pi.Owner}
			rec.Owner = pi.Owner
		}
		rec.Priority = pi.Priority
		rec.Elevated = pi.Elevated
		rec.ParentPID = pi.ParentPID
		if pi.Exe != "" {
			rec.Exe = pi.Exe
		}
		if pi.Name != "" {
			rec.Name = pi.Name
		}
	}

	// Mark tracked PIDs that vanished from this snapshot.
	for pid, rec := range lr.records {
		if !rec.IsLive() {
			continue
		}
		if _, present := current[pid]; present {
			continue
		}
		rec.EndedAt = now
		rec.endedCycle = lr.cycle
		lr.ended[pid] = now
		diff.Ended = append(diff.Ended, pid)
	}

	// Children are derived, never incremental: rebuild from the
	// snapshot's parent pointers in one pass.
	for _, rec := range lr.records {
		if rec.IsLive() {
			rec.Children = make(map[int32]struct{})
		}
	}
	for pid, pi := range current {
		if pi.ParentPID == pid {
			continue
		}
		if parent, ok := lr.records[pi.ParentPID]; ok && parent.IsLive() {
			parent.Children[pid] = struct{}{}
		}
	}

	diff.CycleMembers = lr.recomputeDepths()

	// Credit births to the parent's spawn window, then prune windows.
	// The initial pass gets no credit: those processes were not observed
	// being born.
	if !diff.Initial {
		for _, pid := range diff.Created {
			rec := lr.records[pid]
			if parent, ok := lr.records[rec.ParentPID]; ok && parent.IsLive() && rec.ParentPID != pid {
				parent.SpawnTimes = append(parent.SpawnTimes, now)
			}
		}
	}
	cutoff := now.Add(-lr.spawnWindow)
	for _, rec := range lr.records {
		rec.SpawnTimes = pruneTimes(rec.SpawnTimes, cutoff)
	}

	lr.initialized = true

	sort.Slice(diff.Created, func(i, j int) bool { return diff.Created[i] < diff.Created[j] })
	sort.Slice(diff.Ended, func(i, j int) bool { return diff.Ended[i] < diff.Ended[j] })
	return diff
}

// recomputeDepths assigns ChainDepth for every live record: roots (no
// parent, or parent absent or ended) have depth 0, and each live child
// is one deeper than its parent. Parent cycles cannot occur in a real
// process table but can appear transiently from PID reuse races; every
// member of a detected cycle is treated as a root so the walk always
// terminates.
func (lr *LineageRegistry) recomputeDepths() []int32 {
	depths := make(map[int32]int, len(lr.records))
	var cycleMembers []int32

	for pid, rec := range lr.records {
		if !rec.IsLive() {
			continue
		}
		lr.resolveDepth(pid, depths, &cycleMembers)
	}

	for pid, rec := range lr.records {
		if rec.IsLive() {
			rec.ChainDepth = depths[pid]
		}
	}
	sort.Slice(cycleMembers, func(i, j int) bool { return cycleMembers[i] < cycleMembers[j] })
	return cycleMembers
}

func (lr *LineageRegistry) resolveDepth(start int32, depths map[int32]int, cycleMembers *[]int32) {
	var chain []int32
	onChain := make(map[int32]bool)

	cur := start
	base := 0
	for {
		if d, ok := depths[cur]; ok {
			base = d
			break
		}

		rec := lr.records[cur]
		ppid := rec.ParentPID
		parent, ok := lr.records[ppid]
		if ppid <= 0 || ppid == cur || !ok || !parent.IsLive() {
			depths[cur] = 0
			base = 0
			break
		}

		if onChain[ppid] {
			// Parent cycle: isolate only the cycle's members, from the
			// first occurrence of ppid on the chain through cur, as
			// synthetic roots. Nodes hanging below the cycle are not
			// part of it and unwind normally from depth 0.
			idx := 0
			for i, m := range chain {
				if m == ppid {
					idx = i
					break
				}
			}
			for _, m := range chain[idx:] {
				depths[m] = 0
				*cycleMembers = append(*cycleMembers, m)
			}
			depths[cur] = 0
			*cycleMembers = append(*cycleMembers, cur)
			chain = chain[:idx]
			base = 0
			break
		}

		chain = append(chain, cur)
		onChain[cur] = true
		cur = ppid
	}

	d := base
	for i := len(chain) - 1; i >= 0; i-- {
		d++
		depths[chain[i]] = d
	}
}

// FinalizeAll marks every still-live record ended at the given time and
// returns them sorted by PID, for the shutdown flush.
func (lr *LineageRegistry) FinalizeAll(now time.Time) []*ProcessRecord {
	var finalized []*ProcessRecord
	for pid, rec := range lr.records {
		if !rec.IsLive() {
			continue
		}
		rec.EndedAt = now
		rec.endedCycle = lr.cycle
		lr.ended[pid] = now
		finalized = append(finalized, rec)
	}
	sort.Slice(finalized, func(i, j int) bool { return finalized[i].PID < finalized[j].PID })
	return finalized
}

// Record returns the tracked record for a PID, live or ended.
func (lr *LineageRegistry) Record(pid int32) (*ProcessRecord, bool) {
	rec, ok := lr.records[pid]
	return rec, ok
}

// WasEnded reports whether a PID was ever observed to end.
func (lr *LineageRegistry) WasEnded(pid int32) bool {
	_, ok := lr.ended[pid]
	return ok
}

// Live returns all live records sorted by PID.
func (lr *LineageRegistry) Live() []*ProcessRecord {
	recs := make([]*ProcessRecord, 0, len(lr.records))
	for _, rec := range lr.records {
		if rec.IsLive() {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].PID < recs[j].PID })
	return recs
}

// All returns every tracked record, live and ended, sorted by PID.
func (lr *LineageRegistry) All() []*ProcessRecord {
	recs := make([]*ProcessRecord, 0, len(lr.records))
	for _, rec := range lr.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].PID < recs[j].PID })
	return recs
}

// Ancestry returns the ordered ancestor PIDs of a process, root first.
// Ended ancestors still retained in the registry are included.
func (lr *LineageRegistry) Ancestry(pid int32) []int32 {
	rec, ok := lr.records[pid]
	if !ok {
		return nil
	}

	var lineage []int32
	seen := map[int32]bool{pid: true}
	cur := rec
	for {
		ppid := cur.ParentPID
		if ppid <= 0 || seen[ppid] {
			break
		}
		parent, ok := lr.records[ppid]
		if !ok {
			break
		}
		lineage = append(lineage, ppid)
		seen[ppid] = true
		cur = parent
	}

	for i, j := 0, len(lineage)-1; i < j; i, j = i+1, j-1 {
		lineage[i], lineage[j] = lineage[j], lineage[i]
	}
	return lineage
}

// Depth returns the chain depth of a live record, or 0 for unknown or
// ended PIDs.
func (lr *LineageRegistry) Depth(pid int32) int {
	rec, ok := lr.records[pid]
	if !ok || !rec.IsLive() {
		return 0
	}
	return rec.ChainDepth
}

// Len returns the number of tracked records, live and ended.
func (lr *LineageRegistry) Len() int {
	return len(lr.records)
}

// Cycle returns the number of completed update cycles.
func (lr *LineageRegistry) Cycle() int {
	return lr.cycle
}

func pruneTimes(times []time.Time, cutoff time.Time) []time.Time {
	if len(times) == 0 {
		return times
	}
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
