package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Config holds engine configuration. It is loaded once at startup and
// treated as immutable afterwards; multiple engine instances can safely
// share it.
type Config struct {
	// Scan settings
	ScanInterval time.Duration

	// Detection thresholds
	MaxSpawnRate  int           // children per parent per spawn window
	MaxChildren   int           // direct children before alerting
	MaxChainDepth int           // ancestry depth before alerting
	SpawnWindow   time.Duration // trailing window for spawn-rate counting

	// Sink settings
	LogDirectory      string
	LogFilename       string // structured NDJSON sink, rotated by size
	CSVFilename       string // tabular lifecycle sink
	RotationSizeBytes int64
	RotationBackups   int

	// Detection toggles
	PriorityChangeEnabled  bool
	PrivilegeChangeEnabled bool

	// WhitelistPath points at the privilege-whitelist JSON file.
	WhitelistPath string

	// EventQueueSize bounds the in-flight event queue between the scan
	// loop and the sink writer.
	EventQueueSize int
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		ScanInterval:           getDurationEnv("SCAN_INTERVAL", 2*time.Second),
		MaxSpawnRate:           getIntEnv("MAX_SPAWN_RATE", 10),
		MaxChildren:            getIntEnv("MAX_CHILDREN", 20),
		MaxChainDepth:          getIntEnv("MAX_CHAIN_DEPTH", 10),
		SpawnWindow:            getDurationEnv("SPAWN_WINDOW", time.Minute),
		LogDirectory:           getEnv("LOG_DIR", "logs"),
		LogFilename:            getEnv("LOG_FILENAME", "process_monitor.ndjson"),
		CSVFilename:            getEnv("CSV_FILENAME", "process_monitor_log.csv"),
		RotationSizeBytes:      getInt64Env("ROTATION_SIZE_BYTES", 5*1024*1024),
		RotationBackups:        getIntEnv("ROTATION_BACKUPS", 5),
		PriorityChangeEnabled:  getBoolEnv("PRIORITY_CHANGE_ENABLED", true),
		PrivilegeChangeEnabled: getBoolEnv("PRIVILEGE_CHANGE_ENABLED", true),
		WhitelistPath:          getEnv("WHITELIST_PATH", filepath.Join("config", "privilege_whitelist.json")),
		EventQueueSize:         getIntEnv("EVENT_QUEUE_SIZE", 256),
	}
}

// Validate rejects configurations the engine must refuse to start with.
func (c *Config) Validate() error {
	if c.ScanInterval <= 0 {
		return errors.Errorf("scan interval must be positive, got %v", c.ScanInterval)
	}
	if c.MaxSpawnRate <= 0 {
		return errors.Errorf("max spawn rate must be positive, got %d", c.MaxSpawnRate)
	}
	if c.MaxChildren <= 0 {
		return errors.Errorf("max children must be positive, got %d", c.MaxChildren)
	}
	if c.MaxChainDepth <= 0 {
		return errors.Errorf("max chain depth must be positive, got %d", c.MaxChainDepth)
	}
	if c.SpawnWindow <= 0 {
		return errors.Errorf("spawn window must be positive, got %v", c.SpawnWindow)
	}
	if c.RotationSizeBytes <= 0 {
		return errors.Errorf("rotation size must be positive, got %d", c.RotationSizeBytes)
	}
	if c.RotationBackups < 1 {
		return errors.Errorf("rotation backups must be at least 1, got %d", c.RotationBackups)
	}
	if c.EventQueueSize < 1 {
		return errors.Errorf("event queue size must be at least 1, got %d", c.EventQueueSize)
	}
	if c.LogFilename == "" || c.CSVFilename == "" {
		return errors.New("log and csv filenames must not be empty")
	}
	return nil
}

// LogPath returns the full path of the structured sink file.
func (c *Config) LogPath() string {
	return filepath.Join(c.LogDirectory, c.LogFilename)
}

// CSVPath returns the full path of the tabular sink file.
func (c *Config) CSVPath() string {
	return filepath.Join(c.LogDirectory, c.CSVFilename)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
