// Package versions provides build information for thv-jobwatch.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const unknownStr = "unknown"

// Version information set by build using -ldflags
var (
	// Version is the current version of thv-jobwatch
	Version = "dev"
	// Commit is the git commit hash of the build
	Commit = unknownStr
	// BuildDate is the date when the binary was built
	BuildDate = unknownStr
)

// VersionInfo represents the version information
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the version information
func GetVersionInfo() VersionInfo {
	return getVersionInfoWithValues(Version, Commit, BuildDate, readVCSSettings)
}

func readVCSSettings() map[string]string {
	out := map[string]string{}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	for _, setting := range info.Settings {
		out[setting.Key] = setting.Value
	}
	return out
}

func getVersionInfoWithValues(version, commit, buildDate string, vcs func() map[string]string) VersionInfo {
	if strings.HasPrefix(version, "dev") {
		settings := vcs()
		if rev, ok := settings["vcs.revision"]; ok && commit == unknownStr {
			commit = rev
		}
		if ts, ok := settings["vcs.time"]; ok && buildDate == unknownStr {
			buildDate = ts
		}
	}

	if buildDate != unknownStr {
		if t, err := time.Parse(time.RFC3339, buildDate); err == nil {
			buildDate = t.UTC().Format("2006-01-02 15:04:05 MST")
		}
	}

	// development builds get a version derived from the commit
	if version == "dev" {
		version = fmt.Sprintf("build-%.*s", 8, commit)
	}

	return VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
