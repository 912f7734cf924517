package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lineagemon/config"
	"lineagemon/internal/domain"
)

func treeRegistry(t *testing.T) *domain.LineageRegistry {
	t.Helper()
	clock := clockwork.NewFakeClock()
	reg := domain.NewLineageRegistry(clock, time.Minute)
	reg.Update([]domain.ProcessInfo{
		{PID: 1, Name: "init", Owner: "root"},
		{PID: 42, Name: "daemon", ParentPID: 1, Owner: "root"},
		{PID: 100, Name: "worker", ParentPID: 42, Owner: "alice"},
	})
	clock.Advance(2 * time.Second)
	reg.Update([]domain.ProcessInfo{
		{PID: 1, Name: "init", Owner: "root"},
		{PID: 42, Name: "daemon", ParentPID: 1, Owner: "root"},
	})
	return reg
}

func TestRenderTree(t *testing.T) {
	var buf strings.Builder
	RenderTree(&buf, treeRegistry(t))
	out := buf.String()

	assert.Contains(t, out, "init (PID 1, root)")
	assert.Contains(t, out, "  daemon (PID 42, root)")
	assert.Contains(t, out, "    worker (PID 100, alice) [ENDED]")
	assert.Contains(t, out, "3 tracked, 2 live")
}

func TestRenderTreeEmpty(t *testing.T) {
	var buf strings.Builder
	RenderTree(&buf, domain.NewLineageRegistry(clockwork.NewFakeClock(), time.Minute))

	assert.Contains(t, buf.String(), "No processes tracked")
}

func TestRenderStatus(t *testing.T) {
	var buf strings.Builder
	RenderStatus(&buf, map[string]interface{}{
		"cycles": int64(7),
		"state":  "running",
	})
	out := buf.String()

	assert.Contains(t, out, "cycles")
	assert.Contains(t, out, "7")
	assert.Contains(t, out, "running")
}

func TestRenderConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.json")
	payload := fmt.Sprintf(`{"platforms": {"%s": ["systemd", "sshd"]}, "patterns": ["kworker*"]}`, runtime.GOOS)
	require.NoError(t, os.WriteFile(path, []byte(payload), 0644))

	cfg := config.Load()
	wl, err := config.LoadWhitelist(path)
	require.NoError(t, err)

	var buf strings.Builder
	RenderConfig(&buf, cfg, wl)
	out := buf.String()

	assert.Contains(t, out, "Scan interval")
	assert.Contains(t, out, cfg.ScanInterval.String())
	assert.Contains(t, out, "Privilege whitelist")

	// Entries print as process names, sorted, never as struct values.
	assert.Contains(t, out, "  - sshd\n  - systemd\n")
	assert.Contains(t, out, "  - kworker* (pattern)")
	assert.NotContains(t, out, "{}")
}
