package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testThresholds() Thresholds {
	return Thresholds{
		MaxSpawnRate:           10,
		MaxChildren:            20,
		MaxChainDepth:          10,
		SpawnWindow:            time.Minute,
		Whitelist:              map[string]struct{}{},
		PriorityChangeEnabled:  true,
		PrivilegeChangeEnabled: true,
	}
}

func eventsOfKind(events []*Event, kind string) []*Event {
	var matched []*Event
	for _, e := range events {
		if e.Kind == kind {
			matched = append(matched, e)
		}
	}
	return matched
}

func TestDetectExcessChildren(t *testing.T) {
	reg, clock := newTestRegistry(t)
	detectors := NewDetectorSet(testThresholds())

	snapshot := []ProcessInfo{proc(1, 0, "init"), proc(42, 1, "spawner")}
	for i := int32(0); i < 25; i++ {
		snapshot = append(snapshot, proc(100+i, 42, "child"))
	}
	reg.Update(snapshot)
	clock.Advance(2 * time.Second)
	diff := reg.Update(snapshot)

	events := eventsOfKind(detectors.Run(reg, diff), EventExcessChildren)
	require.Len(t, events, 1)
	assert.Equal(t, int32(42), events[0].PID)
	assert.Equal(t, 25, events[0].Attrs["children"])
	assert.Equal(t, 20, events[0].Attrs["threshold"])
}

func TestDetectExcessChildrenAtThresholdDoesNotFire(t *testing.T) {
	reg, _ := newTestRegistry(t)
	detectors := NewDetectorSet(testThresholds())

	snapshot := []ProcessInfo{proc(1, 0, "init"), proc(42, 1, "spawner")}
	for i := int32(0); i < 20; i++ {
		snapshot = append(snapshot, proc(100+i, 42, "child"))
	}
	diff := reg.Update(snapshot)

	assert.Empty(t, eventsOfKind(detectors.Run(reg, diff), EventExcessChildren))
}

func TestDetectGhostAncestryFiresOneCycleAfterParentEnds(t *testing.T) {
	reg, clock := newTestRegistry(t)
	detectors := NewDetectorSet(testThresholds())

	reg.Update([]ProcessInfo{
		proc(1, 0, "init"),
		proc(42, 1, "parent"),
		proc(100, 42, "child"),
	})

	// Cycle N: the parent vanishes. The ending itself is not a ghost
	// condition yet.
	clock.Advance(2 * time.Second)
	diff := reg.Update([]ProcessInfo{
		proc(1, 0, "init"),
		proc(100, 42, "child"),
	})
	assert.Empty(t, eventsOfKind(detectors.Run(reg, diff), EventGhostAncestry))

	// Cycle N+1: the child still references the ended parent.
	clock.Advance(2 * time.Second)
	diff = reg.Update([]ProcessInfo{
		proc(1, 0, "init"),
		proc(100, 42, "child"),
	})
	events := eventsOfKind(detectors.Run(reg, diff), EventGhostAncestry)
	require.Len(t, events, 1)
	assert.Equal(t, int32(100), events[0].PID)
	assert.Equal(t, int32(42), events[0].Attrs["parent_pid"])
}

func TestDetectGhostAncestryAfterParentEviction(t *testing.T) {
	reg, clock := newTestRegistry(t)
	detectors := NewDetectorSet(testThresholds())

	reg.Update([]ProcessInfo{proc(42, 1, "parent"), proc(100, 42, "child")})

	for i := 0; i < 3; i++ {
		clock.Advance(2 * time.Second)
		diff := reg.Update([]ProcessInfo{proc(100, 42, "child")})
		if i == 0 {
			continue
		}
		// The parent record is eventually evicted; the ended-PID memory
		// keeps the condition firing.
		events := eventsOfKind(detectors.Run(reg, diff), EventGhostAncestry)
		require.Len(t, events, 1, "cycle %d", i)
	}
	_, retained := reg.Record(42)
	assert.False(t, retained)
}

func TestDetectGhostAncestryIgnoresUnobservedParents(t *testing.T) {
	reg, _ := newTestRegistry(t)
	detectors := NewDetectorSet(testThresholds())

	// The parent PID was never tracked: it predates the engine.
	diff := reg.Update([]ProcessInfo{proc(100, 42, "child")})

	assert.Empty(t, eventsOfKind(detectors.Run(reg, diff), EventGhostAncestry))
}

func TestDetectDeepChain(t *testing.T) {
	reg, _ := newTestRegistry(t)
	detectors := NewDetectorSet(testThresholds())

	snapshot := []ProcessInfo{proc(1, 0, "root")}
	for i := int32(1); i <= 12; i++ {
		snapshot = append(snapshot, proc(i+1, i, fmt.Sprintf("link%d", i)))
	}
	diff := reg.Update(snapshot)

	// Depths 11 and 12 exceed the threshold of 10.
	events := eventsOfKind(detectors.Run(reg, diff), EventDeepChain)
	require.Len(t, events, 2)
}

func TestDetectHighSpawnRateFiresAndClears(t *testing.T) {
	reg, clock := newTestRegistry(t)
	detectors := NewDetectorSet(testThresholds())

	reg.Update([]ProcessInfo{proc(1, 0, "init"), proc(42, 1, "spawner")})

	// 11 births in one window beats the threshold of 10.
	snapshot := []ProcessInfo{proc(1, 0, "init"), proc(42, 1, "spawner")}
	for i := int32(0); i < 11; i++ {
		snapshot = append(snapshot, proc(100+i, 42, "burst"))
	}
	clock.Advance(2 * time.Second)
	diff := reg.Update(snapshot)

	events := eventsOfKind(detectors.Run(reg, diff), EventHighSpawnRate)
	require.Len(t, events, 1)
	assert.Equal(t, int32(42), events[0].PID)
	assert.Equal(t, 11, events[0].Attrs["rate"])

	// Once the window slides past the burst the condition clears, even
	// though the children are still alive.
	clock.Advance(2 * time.Minute)
	diff = reg.Update(snapshot)
	assert.Empty(t, eventsOfKind(detectors.Run(reg, diff), EventHighSpawnRate))
}

func TestDetectUnauthorizedElevation(t *testing.T) {
	thresholds := testThresholds()
	thresholds.Whitelist = map[string]struct{}{"systemd": {}}
	thresholds.WhitelistPatterns = []string{"kworker*"}
	detectors := NewDetectorSet(thresholds)

	reg, _ := newTestRegistry(t)
	elevated := func(pid int32, name string) ProcessInfo {
		pi := proc(pid, 1, name)
		pi.Elevated = true
		return pi
	}
	diff := reg.Update([]ProcessInfo{
		elevated(10, "SYSTEMD"),     // whitelisted, case-insensitive
		elevated(20, "kworker/0:1"), // pattern match
		elevated(30, "miner"),       // flagged
		proc(40, 1, "shell"),        // not elevated
	})

	events := eventsOfKind(detectors.Run(reg, diff), EventUnauthorizedElevation)
	require.Len(t, events, 1)
	assert.Equal(t, int32(30), events[0].PID)
}

func TestDetectUnauthorizedElevationEmptyWhitelistFlagsAll(t *testing.T) {
	detectors := NewDetectorSet(testThresholds())
	reg, _ := newTestRegistry(t)

	pi := proc(10, 1, "systemd")
	pi.Elevated = true
	diff := reg.Update([]ProcessInfo{pi})

	events := eventsOfKind(detectors.Run(reg, diff), EventUnauthorizedElevation)
	require.Len(t, events, 1)
}

func TestDetectPriorityChanges(t *testing.T) {
	tests := []struct {
		name string
		from Priority
		to   Priority
		want bool
	}{
		{"normal to high fires", PriorityNormal, PriorityHigh, true},
		{"normal to realtime fires", PriorityNormal, PriorityRealtime, true},
		{"high to realtime fires", PriorityHigh, PriorityRealtime, true},
		{"idle to normal is benign", PriorityIdle, PriorityNormal, false},
		{"lowering is benign", PriorityRealtime, PriorityNormal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, clock := newTestRegistry(t)
			detectors := NewDetectorSet(testThresholds())

			pi := proc(42, 1, "daemon")
			pi.Priority = tt.from
			reg.Update([]ProcessInfo{pi})

			clock.Advance(2 * time.Second)
			pi.Priority = tt.to
			diff := reg.Update([]ProcessInfo{pi})

			events := eventsOfKind(detectors.Run(reg, diff), EventPriorityChange)
			if tt.want {
				require.Len(t, events, 1)
				assert.Equal(t, tt.from.String(), events[0].Attrs["from"])
				assert.Equal(t, tt.to.String(), events[0].Attrs["to"])
			} else {
				assert.Empty(t, events)
			}
		})
	}
}

func TestDetectOwnerChanges(t *testing.T) {
	reg, clock := newTestRegistry(t)
	detectors := NewDetectorSet(testThresholds())

	pi := proc(42, 1, "daemon")
	pi.Owner = "alice"
	reg.Update([]ProcessInfo{pi})

	clock.Advance(2 * time.Second)
	pi.Owner = "root"
	diff := reg.Update([]ProcessInfo{pi})

	events := eventsOfKind(detectors.Run(reg, diff), EventOwnerChange)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].Attrs["from"])
	assert.Equal(t, "root", events[0].Attrs["to"])
}

func TestDetectorTogglesDisable(t *testing.T) {
	thresholds := testThresholds()
	thresholds.PriorityChangeEnabled = false
	thresholds.PrivilegeChangeEnabled = false
	detectors := NewDetectorSet(thresholds)

	reg, clock := newTestRegistry(t)
	pi := proc(42, 1, "daemon")
	pi.Owner = "alice"
	pi.Priority = PriorityNormal
	reg.Update([]ProcessInfo{pi})

	clock.Advance(2 * time.Second)
	pi.Owner = "root"
	pi.Priority = PriorityRealtime
	diff := reg.Update([]ProcessInfo{pi})

	events := detectors.Run(reg, diff)
	assert.Empty(t, eventsOfKind(events, EventPriorityChange))
	assert.Empty(t, eventsOfKind(events, EventOwnerChange))
}
