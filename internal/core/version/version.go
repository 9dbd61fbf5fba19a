// Package version reports how the running binary was built
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Overridden with -ldflags "-X ghstrata/internal/core/version.version=v0.3.0 ..."
var (
	version = "dev"
	commit  = ""
	date    = ""
)

// BuildInfo identifies a binary in logs, --version output and clickhouse client info
type BuildInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
	Go      string `json:"go"`
}

// Info returns the linker provided values, falling back to the VCS stamp the
// go tool embeds when building from a checkout
func Info() BuildInfo {
	b := BuildInfo{Service: "ghstrata", Version: version, Commit: commit, Date: date, Go: runtime.Version()}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if b.Commit == "" {
					b.Commit = s.Value
				}
			case "vcs.time":
				if b.Date == "" {
					b.Date = s.Value
				}
			}
		}
	}
	if len(b.Commit) > 12 {
		b.Commit = b.Commit[:12]
	}
	if b.Commit == "" {
		b.Commit = "none"
	}
	if b.Date == "" {
		b.Date = "unknown"
	}
	return b
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s)", b.Service, b.Version, b.Commit, b.Date, b.Go)
}
