// Package version reports the build identity of thingcheck.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/webthings/thingcheck/internal/version.Version=v0.3.0 \
//	                   -X github.com/webthings/thingcheck/internal/version.Commit=abc1234"
//
// Unset values are filled from the module's VCS build settings.
var (
	Version = ""
	Commit  = ""
)

// Info is the resolved build identity.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"goVersion"`
}

var (
	once     sync.Once
	resolved Info
)

// Get returns the build identity, resolving it on first use.
func Get() Info {
	once.Do(func() {
		resolved = resolve(Version, Commit, readSettings())
	})
	return resolved
}

func readSettings() map[string]string {
	settings := make(map[string]string)
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return settings
	}
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		settings["main.version"] = info.Main.Version
	}
	return settings
}

func resolve(version, commit string, settings map[string]string) Info {
	info := Info{Version: version, Commit: commit, GoVersion: runtime.Version()}

	if info.Commit == "" {
		if rev := settings["vcs.revision"]; rev != "" {
			if len(rev) > 7 {
				rev = rev[:7]
			}
			info.Commit = rev
		}
	}
	info.Modified = settings["vcs.modified"] == "true"

	if info.Version == "" {
		info.Version = settings["main.version"]
	}
	if info.Version == "" {
		info.Version = "dev"
		if t := settings["vcs.time"]; len(t) >= 10 {
			info.Version = "dev-" + t[:4] + t[5:7] + t[8:10]
		}
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	return info
}

// String returns the version and commit.
func (i Info) String() string {
	commit := i.Commit
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (commit: %s)", i.Version, commit)
}

// Full returns the full version string including commit
func Full() string {
	return Get().String()
}
