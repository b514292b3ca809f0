// Package buildinfo exposes version information stamped at build time.
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

// Version and Commit are set via -ldflags at release build time.
// A source build falls back to module build info.
var (
	Version = "dev"
	Commit  = ""
)

// Short returns a human-readable version string.
func Short() string {
	v := Version
	if v == "dev" {
		if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			v = bi.Main.Version
		}
	}
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", v, Commit)
	}
	return v
}

// UserAgent returns the User-Agent header value for outbound HTTP calls.
func UserAgent() string {
	return "kestrel/" + Version
}
