package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	ierrors "github.com/Aman-CERP/subindex/internal/errors"
	"github.com/Aman-CERP/subindex/internal/telemetry"
)

// Scheduler runs Tasks on a ticker and on marker file changes.
type Scheduler struct {
	tasks   Tasks
	dirs    []string
	opts    Options
	metrics *telemetry.Metrics
	logger  *slog.Logger

	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	errors    chan error
	stopCh    chan struct{}
	runs      atomic.Int64

	mu      sync.Mutex
	running bool
	stopped bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics records every run.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler creates a scheduler for tasks watching the marker file in
// each of dirs. If the directories cannot be watched the scheduler falls
// back to polling.
func NewScheduler(tasks Tasks, dirs []string, opts Options, options ...Option) (*Scheduler, error) {
	if tasks == nil {
		return nil, ierrors.ValidationError("scheduler needs a task hook", nil)
	}
	opts = opts.WithDefaults()

	s := &Scheduler{
		tasks:     tasks,
		dirs:      append([]string(nil), dirs...),
		opts:      opts,
		logger:    slog.Default(),
		debouncer: NewDebouncer(opts.DebounceWindow),
		errors:    make(chan error, opts.ErrorBufferSize),
		stopCh:    make(chan struct{}),
	}
	for _, o := range options {
		o(s)
	}

	if !opts.DisableNotify && len(s.dirs) > 0 {
		fsWatcher, err := s.watchDirs()
		if err != nil {
			s.logger.Warn("fsnotify unavailable, falling back to polling",
				slog.String("error", err.Error()),
				slog.Duration("poll_interval", opts.PollInterval))
		} else {
			s.fsWatcher = fsWatcher
		}
	}
	return s, nil
}

func (s *Scheduler) watchDirs() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	for _, dir := range s.dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Mode reports whether marker events wake the scheduler.
func (s *Scheduler) Mode() Mode {
	if s.fsWatcher != nil {
		return ModeNotify
	}
	return ModePolling
}

// Runs returns the number of completed runs.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// Errors returns a channel of failed runs and watcher errors.
// The channel is closed by Stop.
func (s *Scheduler) Errors() <-chan error {
	return s.errors
}

// Run performs the tasks once, then keeps running them until ctx is done
// or Stop is called. A failed run is reported on Errors and does not stop
// the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ierrors.ClosedError("scheduler_run")
	}
	if s.running {
		s.mu.Unlock()
		return ierrors.ValidationError("scheduler is already running", nil)
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("scheduler_started",
		slog.String("mode", string(s.Mode())),
		slog.Int("dirs", len(s.dirs)),
		slog.Duration("poll_interval", s.opts.PollInterval))

	s.RunOnce(ctx, "start")

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	// Nil channels block forever in polling mode.
	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if s.fsWatcher != nil {
		events = s.fsWatcher.Events
		watchErrs = s.fsWatcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.RunOnce(ctx, "tick")
		case <-s.debouncer.Output():
			s.RunOnce(ctx, "marker")
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if s.isMarkerEvent(event) {
				s.debouncer.Trigger()
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			s.emitError(fmt.Errorf("fsnotify: %w", err))
		}
	}
}

// RunOnce performs the tasks a single time and records the outcome.
func (s *Scheduler) RunOnce(ctx context.Context, trigger string) {
	start := time.Now()
	err := s.tasks.PerformScheduledTasks(ctx)
	s.runs.Add(1)
	s.metrics.ScheduledRun(time.Now(), err)

	if err != nil {
		s.logger.Warn("scheduled_run_failed",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()))
		s.emitError(err)
		return
	}
	s.logger.Debug("scheduled_run_complete",
		slog.String("trigger", trigger),
		slog.Duration("duration", time.Since(start)))
}

// isMarkerEvent reports whether event touched the marker file. Touching the
// modification time arrives as a Chmod on Linux.
func (s *Scheduler) isMarkerEvent(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != s.opts.MarkerFile {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod)
}

func (s *Scheduler) emitError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	select {
	case s.errors <- err:
	default:
		s.logger.Warn("scheduler error buffer full, dropping error",
			slog.String("error", err.Error()))
	}
}

// Stop stops the scheduler and releases the fsnotify watcher.
// Safe to call multiple times.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	close(s.errors)
	s.mu.Unlock()

	s.debouncer.Stop()
	if s.fsWatcher != nil {
		return s.fsWatcher.Close()
	}
	return nil
}
