package config

import (
	"encoding/json"
	"os"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// WhitelistFile is the on-disk structure of privilege_whitelist.json:
// per-platform lists of process names allowed to run elevated, plus
// optional glob patterns applied on every platform.
type WhitelistFile struct {
	Version   string              `json:"version"`
	Platforms map[string][]string `json:"platforms"`
	Patterns  []string            `json:"patterns"`
}

// Whitelist is the resolved, platform-specific elevation whitelist.
// An empty whitelist fails open: every elevated process gets flagged.
type Whitelist struct {
	names    map[string]struct{}
	patterns []string
	platform string
}

// defaultPlatformWhitelists lists processes that legitimately run
// elevated on each supported platform.
var defaultPlatformWhitelists = map[string][]string{
	"windows": {
		"svchost.exe",
		"explorer.exe",
		"services.exe",
		"taskhostw.exe",
		"system",
		"wininit.exe",
		"csrss.exe",
		"lsass.exe",
	},
	"linux": {
		"init",
		"systemd",
		"sshd",
		"cron",
		"bash",
	},
	"darwin": {
		"launchd",
		"kernel_task",
		"syslogd",
		"mds",
	},
}

// LoadWhitelist loads the elevation whitelist for the current platform.
// A missing file falls back to the built-in defaults; a malformed file
// is a configuration error and fatal to startup. A platform with no
// entry yields an empty whitelist, which fails open.
func LoadWhitelist(path string) (*Whitelist, error) {
	return loadWhitelistForPlatform(path, runtime.GOOS)
}

func loadWhitelistForPlatform(path, platform string) (*Whitelist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newWhitelist(defaultPlatformWhitelists[platform], nil, platform), nil
		}
		return nil, errors.Wrapf(err, "failed to read whitelist %s", path)
	}

	var file WhitelistFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "failed to parse whitelist %s", path)
	}

	return newWhitelist(file.Platforms[platform], file.Patterns, platform), nil
}

func newWhitelist(names []string, patterns []string, platform string) *Whitelist {
	wl := &Whitelist{
		names:    make(map[string]struct{}, len(names)),
		patterns: patterns,
		platform: platform,
	}
	for _, name := range names {
		wl.names[strings.ToLower(name)] = struct{}{}
	}
	return wl
}

// Names returns the lowercased whitelisted names.
func (wl *Whitelist) Names() map[string]struct{} {
	return wl.names
}

// Patterns returns the glob patterns, if any.
func (wl *Whitelist) Patterns() []string {
	return wl.patterns
}

// Platform returns the platform the whitelist was resolved for.
func (wl *Whitelist) Platform() string {
	return wl.platform
}

// Empty reports whether no names or patterns are whitelisted.
func (wl *Whitelist) Empty() bool {
	return len(wl.names) == 0 && len(wl.patterns) == 0
}
