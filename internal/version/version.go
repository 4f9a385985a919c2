// Package version reports build metadata. Values set with -ldflags win;
// otherwise the VCS stamp embedded by the Go toolchain is used.
package version

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Set via -ldflags "-X github.com/smazurov/agentexec/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
)

// Info contains version and build metadata.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	Modified  bool   `json:"modified"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var buildInfo = sync.OnceValue(func() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildDate == "" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
})

// Get returns version and build information.
func Get() Info {
	return buildInfo()
}

// String returns the version, with the short commit when known.
func String() string {
	info := Get()
	if len(info.GitCommit) >= 7 {
		return info.Version + " (" + info.GitCommit[:7] + ")"
	}
	return info.Version
}
