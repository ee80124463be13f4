// Package version reports build metadata stamped in with -ldflags, falling
// back to what the Go toolchain embeds in the binary.
package version

import (
	"fmt"
	"runtime/debug"
)

// Set via -ldflags "-X github.com/keithlinneman/flatcms/internal/version.Version=...".
var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// Get merges ldflags values with debug.BuildInfo; ldflags win for commit
// and build date, the toolchain wins for go version and dirty state.
func Get() Info {
	out := Info{
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	out.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			if out.BuildDate == "" {
				out.BuildDate = s.Value
			}
			if out.CommitDate == "" {
				out.CommitDate = s.Value
			}
		case "vcs.modified":
			if b, ok := parseBool(s.Value); ok {
				out.VCSDirty = &b
			}
		}
	}
	return out
}

// ShortCommit trims the commit to 12 characters.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 12 {
		return i.Commit[:12]
	}
	return i.Commit
}

// String is the one-line form printed by -version flags.
func (i Info) String() string {
	s := fmt.Sprintf("%s (commit %s", i.Version, i.ShortCommit())
	if i.VCSDirty != nil && *i.VCSDirty {
		s += ", dirty"
	}
	if i.BuildDate != "" {
		s += ", built " + i.BuildDate
	}
	if i.GoVersion != "" {
		s += ", " + i.GoVersion
	}
	return s + ")"
}

func parseBool(s string) (bool, bool) {
	switch s {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}
