// Package buildinfo carries the version stamped in by -ldflags and the
// runtime facts reported by `telenode version` and GET /version.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Name is the program name used in client identifiers and banners.
const Name = "telenode"

// Set with -ldflags "-X github.com/nugget/telenode/internal/buildinfo.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

// Keys lists the Info keys in display order.
var Keys = []string{
	"name", "version", "git_commit", "git_branch", "build_time",
	"go_version", "os", "arch", "uptime",
}

// Info returns build and runtime metadata keyed by [Keys].
func Info() map[string]string {
	return map[string]string{
		"name":       Name,
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime is the time since the process started, to the second.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// String is the startup banner, e.g. "telenode dev (unknown@unknown) built unknown".
func String() string {
	return fmt.Sprintf("%s %s (%s@%s) built %s", Name, Version, GitCommit, GitBranch, BuildTime)
}
