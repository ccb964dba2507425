// Package version reports build metadata injected with -ldflags, e.g.
// -X 'github.com/examforge/examforge/pkg/version.Version=v0.3.0'.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version    = "dev"
	CommitHash = ""
	BuildDate  = ""
)

type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
	GoVersion  string `json:"go_version"`
}

// Get returns the injected metadata, filling the commit from the embedded
// VCS stamp when ldflags did not set it.
func Get() Info {
	info := Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildDate:  BuildDate,
		GoVersion:  runtime.Version(),
	}
	if info.CommitHash != "" {
		return info
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.CommitHash = s.Value
			case "vcs.time":
				if info.BuildDate == "" {
					info.BuildDate = s.Value
				}
			}
		}
	}
	return info
}

func (i Info) String() string {
	commit := i.CommitHash
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if commit == "" {
		commit = "unknown"
	}
	return fmt.Sprintf("examforge %s (%s, %s)", i.Version, commit, i.GoVersion)
}
