// Package version carries build information injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Build information, set at link time.
//
//nolint:gochecknoglobals // build-time injection
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
)

// Name is the program name used in version strings and connection names.
const Name = "telebridge"

// Info represents version information.
type Info struct {
	Version   string `json:"version"    yaml:"version"`
	GitCommit string `json:"git_commit" yaml:"git_commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform"   yaml:"platform"`
}

// Get returns the version information.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns a one-line human readable form.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, go: %s, platform: %s)",
		Name, i.Version, i.GitCommit, i.BuildDate, i.GoVersion, i.Platform)
}

// Short returns "<name>/<version>", used as a publisher tag on reports.
func (i Info) Short() string {
	return Name + "/" + i.Version
}
