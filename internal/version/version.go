// Package version provides version information for opsgate.
// The Version variable is set at build time via ldflags.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the current version of opsgate.
// Set at build time via: -ldflags "-X github.com/xdg/opsgate/internal/version.Version=v1.0.0"
// Defaults to "dev" for development builds.
var Version = "dev"

// String returns the version with the VCS revision when the binary carries
// one, plus the Go version and platform.
func String() string {
	return format(Version, revision(), runtime.Version(), runtime.GOOS+"/"+runtime.GOARCH)
}

func format(v, rev, goVersion, platform string) string {
	if rev != "" {
		v += " (" + rev + ")"
	}
	return fmt.Sprintf("opsgate %s %s %s", v, goVersion, platform)
}

// revision returns the short VCS revision recorded in the build info, with
// a "+dirty" suffix for modified trees.
func revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && dirty {
		rev += "+dirty"
	}
	return rev
}
