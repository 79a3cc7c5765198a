package manager

import (
	"log/slog"
	"time"

	"github.com/Aman-CERP/subindex/internal/telemetry"
)

// InvalidationNever disables the currency check: once a handle is cached it
// is served until explicitly invalidated.
const InvalidationNever time.Duration = -1

// Settings controls caching, locking and commit behavior.
type Settings struct {
	// InvalidationInterval throttles the currency check. A cached handle is
	// checked only when more than this much time passed since its last check.
	// InvalidationNever disables probing.
	InvalidationInterval time.Duration

	// LockTimeout bounds every write lock acquisition.
	LockTimeout time.Duration

	// EnableConcurrentCommit allows commit batches to run on the worker pool.
	EnableConcurrentCommit bool

	// ConcurrentCommitThreshold is the batch size that must be exceeded to
	// use the pool.
	ConcurrentCommitThreshold int

	// MaxConcurrentCommitThreads caps the pool size. The pool never exceeds
	// the number of partitions.
	MaxConcurrentCommitThreads int

	// WaitForCacheInvalidation opts into the propagation wait of Operate.
	WaitForCacheInvalidation bool

	// CacheInvalidationWait is the propagation wait between invalidating
	// caches and running the second step. Zero disables it.
	CacheInvalidationWait time.Duration
}

// DefaultSettings returns the default settings.
func DefaultSettings() Settings {
	return Settings{
		InvalidationInterval:       5 * time.Second,
		LockTimeout:                10 * time.Second,
		EnableConcurrentCommit:     true,
		ConcurrentCommitThreshold:  1,
		MaxConcurrentCommitThreads: 10,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces time.Now for the invalidation interval and markers.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMetrics records cache, operate and commit metrics.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithInvalidationChannel replaces the marker file channel used for
// cross-process invalidation.
func WithInvalidationChannel(ch InvalidationChannel) Option {
	return func(m *Manager) {
		if ch != nil {
			m.channel = ch
		}
	}
}
