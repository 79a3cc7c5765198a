// Package ui provides terminal output for the subindex CLI: progress of
// index and replace runs, and the partition status table.
package ui

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage represents a step of an index or replace run.
type Stage int

const (
	// StageScanning is the document discovery stage.
	StageScanning Stage = iota
	// StageWriting is the per-partition write and commit stage.
	StageWriting
	// StageBuilding is the source build of a replace.
	StageBuilding
	// StageReplacing is the locked swap of a replace.
	StageReplacing
	// StageComplete indicates the run is complete.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "Scanning"
	case StageWriting:
		return "Writing"
	case StageBuilding:
		return "Building"
	case StageReplacing:
		return "Replacing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage label for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageScanning:
		return "SCAN"
	case StageWriting:
		return "WRITE"
	case StageBuilding:
		return "BUILD"
	case StageReplacing:
		return "SWAP"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage     Stage
	Current   int
	Total     int
	Partition string
	Message   string
}

// ErrorEvent represents an error during processing.
type ErrorEvent struct {
	Partition string
	Err       error
	IsWarn    bool
}

// CompletionStats contains the summary of a run.
type CompletionStats struct {
	Documents  int
	Partitions int
	Duration   time.Duration
	Errors     int
	Warnings   int
}

// Config configures the UI renderer.
type Config struct {
	Output  io.Writer
	NoColor bool
	Quiet   bool
}

// NewConfig creates a Config for output. Color is disabled when output is
// not a terminal, in CI, or when NO_COLOR is set.
func NewConfig(output io.Writer, noColor bool) Config {
	return Config{
		Output:  output,
		NoColor: noColor || !IsTTY(output) || DetectCI() || DetectNoColor(),
	}
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
