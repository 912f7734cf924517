package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionRegistryExactMatch(t *testing.T) {
	actions := NewActionRegistry()
	var invoked []int32
	actions.Register("Notepad.exe", func(rec *ProcessRecord) {
		invoked = append(invoked, rec.PID)
	})

	actions.Invoke(&ProcessRecord{PID: 10, Name: "NOTEPAD.EXE"})
	actions.Invoke(&ProcessRecord{PID: 20, Name: "calc.exe"})

	assert.Equal(t, []int32{10}, invoked)
}

func TestActionRegistryPatternMatch(t *testing.T) {
	actions := NewActionRegistry()
	var invoked []string
	actions.Register("python*", func(rec *ProcessRecord) {
		invoked = append(invoked, rec.Name)
	})

	actions.Invoke(&ProcessRecord{PID: 10, Name: "python3.11"})
	actions.Invoke(&ProcessRecord{PID: 20, Name: "perl"})

	assert.Equal(t, []string{"python3.11"}, invoked)
}

func TestActionRegistryFiresOncePerPID(t *testing.T) {
	actions := NewActionRegistry()
	count := 0
	actions.Register("daemon", func(rec *ProcessRecord) { count++ })

	rec := &ProcessRecord{PID: 10, Name: "daemon"}
	actions.Invoke(rec)
	actions.Invoke(rec)
	assert.Equal(t, 1, count)

	// A reused PID fires again once the old marker is cleared.
	actions.Forget(10)
	actions.Invoke(rec)
	assert.Equal(t, 2, count)
}

func TestActionRegistryMultipleMatches(t *testing.T) {
	actions := NewActionRegistry()
	var order []string
	actions.Register("daemon", func(rec *ProcessRecord) { order = append(order, "exact") })
	actions.Register("dae*", func(rec *ProcessRecord) { order = append(order, "glob") })

	actions.Invoke(&ProcessRecord{PID: 10, Name: "daemon"})

	assert.Equal(t, []string{"exact", "glob"}, order)
	assert.Equal(t, 2, actions.Len())
}
