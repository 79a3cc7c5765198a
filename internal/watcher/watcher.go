package watcher

import (
	"context"
	"time"
)

// Tasks is the maintenance hook run by a Scheduler.
// *manager.Manager implements it.
type Tasks interface {
	PerformScheduledTasks(ctx context.Context) error
}

// Mode reports how a Scheduler learns about marker changes.
type Mode string

const (
	// ModeNotify wakes on fsnotify events in addition to the ticker.
	ModeNotify Mode = "fsnotify"

	// ModePolling relies on the ticker alone.
	ModePolling Mode = "polling"
)

// Options configures the scheduler behavior.
type Options struct {
	// PollInterval is the time between unconditional runs.
	// Default: 5s
	PollInterval time.Duration

	// DebounceWindow is the time to wait after a marker event before running,
	// so a burst of touches across partitions results in a single run.
	// Default: 100ms
	DebounceWindow time.Duration

	// MarkerFile is the file name watched in every directory.
	// Default: "clearcache"
	MarkerFile string

	// ErrorBufferSize is the size of the error channel buffer.
	// Default: 16
	ErrorBufferSize int

	// DisableNotify forces polling mode.
	DisableNotify bool
}

// DefaultOptions returns the default scheduler options.
func DefaultOptions() Options {
	return Options{
		PollInterval:    5 * time.Second,
		DebounceWindow:  100 * time.Millisecond,
		MarkerFile:      "clearcache",
		ErrorBufferSize: 16,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.MarkerFile == "" {
		o.MarkerFile = defaults.MarkerFile
	}
	if o.ErrorBufferSize <= 0 {
		o.ErrorBufferSize = defaults.ErrorBufferSize
	}
	return o
}
