package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 2*time.Second, cfg.ScanInterval)
	assert.Equal(t, 10, cfg.MaxSpawnRate)
	assert.Equal(t, 20, cfg.MaxChildren)
	assert.Equal(t, 10, cfg.MaxChainDepth)
	assert.Equal(t, time.Minute, cfg.SpawnWindow)
	assert.Equal(t, int64(5*1024*1024), cfg.RotationSizeBytes)
	assert.Equal(t, 5, cfg.RotationBackups)
	assert.True(t, cfg.PriorityChangeEnabled)
	assert.True(t, cfg.PrivilegeChangeEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SCAN_INTERVAL", "500ms")
	t.Setenv("MAX_CHILDREN", "50")
	t.Setenv("PRIORITY_CHANGE_ENABLED", "false")
	t.Setenv("ROTATION_SIZE_BYTES", "1048576")

	cfg := Load()
	assert.Equal(t, 500*time.Millisecond, cfg.ScanInterval)
	assert.Equal(t, 50, cfg.MaxChildren)
	assert.False(t, cfg.PriorityChangeEnabled)
	assert.Equal(t, int64(1048576), cfg.RotationSizeBytes)
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("SCAN_INTERVAL", "not-a-duration")
	t.Setenv("MAX_CHILDREN", "many")

	cfg := Load()
	assert.Equal(t, 2*time.Second, cfg.ScanInterval)
	assert.Equal(t, 20, cfg.MaxChildren)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.ScanInterval = 0 }},
		{"negative spawn rate", func(c *Config) { c.MaxSpawnRate = -1 }},
		{"zero children", func(c *Config) { c.MaxChildren = 0 }},
		{"zero depth", func(c *Config) { c.MaxChainDepth = 0 }},
		{"zero window", func(c *Config) { c.SpawnWindow = 0 }},
		{"zero rotation size", func(c *Config) { c.RotationSizeBytes = 0 }},
		{"zero backups", func(c *Config) { c.RotationBackups = 0 }},
		{"zero queue", func(c *Config) { c.EventQueueSize = 0 }},
		{"empty filename", func(c *Config) { c.LogFilename = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSinkPaths(t *testing.T) {
	cfg := Load()
	cfg.LogDirectory = "out"

	assert.Equal(t, filepath.Join("out", cfg.LogFilename), cfg.LogPath())
	assert.Equal(t, filepath.Join("out", cfg.CSVFilename), cfg.CSVPath())
}
