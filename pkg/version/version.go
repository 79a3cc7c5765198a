// Package version provides build and version information for subindex.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
)

// Version is the current version of subindex.
// Set via ldflags at build time, or defaults to dev:
// -X github.com/Aman-CERP/subindex/pkg/version.Version=$(VERSION)
var Version = "dev"

// Build information set via ldflags at build time.
var (
	// Commit is the git commit hash.
	Commit = "unknown"

	// Date is the build date in RFC3339 format.
	Date = "unknown"

	// GoVersion is the Go version used to build the binary.
	GoVersion = runtime.Version()
)

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	// Engine holds the versions of the storage and search libraries linked
	// into the binary, keyed by module path.
	Engine map[string]string `json:"engine,omitempty"`
}

// EngineModules are the modules whose versions decide the on-disk and
// in-memory index formats.
var EngineModules = []string{
	"github.com/blevesearch/bleve/v2",
	"modernc.org/sqlite",
	"github.com/gofrs/flock",
}

// String returns a formatted version string with all build info.
func String() string {
	return fmt.Sprintf("subindex %s (commit: %s, built: %s, go: %s)",
		Version, Commit, Date, GoVersion)
}

// Short returns just the version string.
func Short() string {
	return Version
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Engine:    Engine(),
	}
}

// Engine returns the linked versions of EngineModules. Modules missing from
// the build info are omitted; the map is nil when no build info is embedded.
func Engine() map[string]string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	engine := make(map[string]string)
	for _, dep := range bi.Deps {
		for _, path := range EngineModules {
			if dep.Path != path {
				continue
			}
			if dep.Replace != nil {
				dep = dep.Replace
			}
			engine[path] = dep.Version
		}
	}
	return engine
}

// EngineLines returns "module version" lines sorted by module path.
func EngineLines(engine map[string]string) []string {
	lines := make([]string, 0, len(engine))
	for path, v := range engine {
		lines = append(lines, path+" "+v)
	}
	sort.Strings(lines)
	return lines
}
