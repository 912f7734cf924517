package domain

import (
	"path"
	"strings"
)

// ProcessAction is a caller-supplied capability invoked when a process
// matching a registered name pattern is first observed.
type ProcessAction func(rec *ProcessRecord)

// ActionRegistry maps process-name patterns to actions. Patterns use
// path.Match glob syntax; a pattern without wildcards is an exact,
// case-insensitive name match. Each action fires at most once per PID.
type ActionRegistry struct {
	entries []actionEntry
	fired   map[int32]struct{}
}

type actionEntry struct {
	pattern string
	action  ProcessAction
}

// NewActionRegistry creates an empty action registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{fired: make(map[int32]struct{})}
}

// Register associates an action with a process-name pattern.
func (ar *ActionRegistry) Register(pattern string, action ProcessAction) {
	ar.entries = append(ar.entries, actionEntry{
		pattern: strings.ToLower(pattern),
		action:  action,
	})
}

// Len returns the number of registered patterns.
func (ar *ActionRegistry) Len() int {
	return len(ar.entries)
}

// Invoke runs every action whose pattern matches the record's name,
// unless an action already fired for this PID.
func (ar *ActionRegistry) Invoke(rec *ProcessRecord) {
	if len(ar.entries) == 0 {
		return
	}
	if _, done := ar.fired[rec.PID]; done {
		return
	}

	name := strings.ToLower(rec.Name)
	matched := false
	for _, entry := range ar.entries {
		if entry.pattern == name {
			matched = true
		} else if ok, err := path.Match(entry.pattern, name); err == nil && ok {
			matched = true
		} else {
			continue
		}
		entry.action(rec)
	}
	if matched {
		ar.fired[rec.PID] = struct{}{}
	}
}

// Forget clears the fired marker for a PID, so a reused PID can trigger
// actions again.
func (ar *ActionRegistry) Forget(pid int32) {
	delete(ar.fired, pid)
}
