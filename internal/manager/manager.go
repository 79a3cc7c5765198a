// Package manager caches read handles on index partitions and coordinates
// replacing their contents.
//
// Each partition has at most one cached Handle. Borrowers Acquire a handle
// and Release it; a handle that was replaced or invalidated stays open
// until its last borrower releases it. Staleness is detected two ways:
// a throttled check of the reader (local writes) and the modification time
// of a per-partition marker file (writes by other processes, observed by
// polling CheckAndClearIfNotifiedAllToClearCache).
package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/subindex/internal/directory"
	ierrors "github.com/Aman-CERP/subindex/internal/errors"
	"github.com/Aman-CERP/subindex/internal/store"
	"github.com/Aman-CERP/subindex/internal/telemetry"
)

// Store is the partition store the manager works on.
type Store interface {
	SubIndexes() []string
	Directory(partition string) (directory.Directory, error)
	OpenReader(ctx context.Context, partition string) (store.IndexReader, error)
	OpenWriter(ctx context.Context, partition string, lockTimeout time.Duration) (*store.Writer, error)
	Documents(ctx context.Context, partition string) ([]store.Document, error)
	CopyFrom(ctx context.Context, src store.Source) error
	AllowConcurrentCommit() bool

	CreateIndex(ctx context.Context) error
	DeleteIndex(ctx context.Context) error
	IndexExists(ctx context.Context) (bool, error)
	VerifyIndex(ctx context.Context) (bool, error)

	IsLocked(partition string) (bool, error)
	ReleaseLock(partition string) error
	PerformScheduledTasks(ctx context.Context) error
	Close() error
}

// Ensure the partition store satisfies Store.
var _ Store = (*store.Store)(nil)

// Manager owns the handle cache of a Store.
type Manager struct {
	store      Store
	partitions []string
	settings   Settings

	cache     *partitionCache
	oracle    *oracle
	channel   InvalidationChannel
	committer commitStrategy

	logger  *slog.Logger
	now     func() time.Time
	metrics *telemetry.Metrics

	// signalMu serializes marker polling. lastSeen is nil until the first
	// poll establishes the baseline.
	signalMu sync.Mutex
	lastSeen map[string]time.Time

	waitBeforeSecondStep atomic.Bool
	running              atomic.Bool
	closed               atomic.Bool
	closeOnce            sync.Once
	shutdown             chan struct{}
}

// New creates a manager over s. The partition set is read once from
// s.SubIndexes and fixed for the manager's lifetime.
func New(s Store, settings Settings, opts ...Option) (*Manager, error) {
	if s == nil {
		return nil, ierrors.ValidationError("store is nil", nil)
	}
	partitions := append([]string(nil), s.SubIndexes()...)
	if len(partitions) == 0 {
		return nil, ierrors.ValidationError("store has no partitions", nil)
	}

	m := &Manager{
		store:      s,
		partitions: partitions,
		settings:   settings,
		cache:      newPartitionCache(partitions),
		logger:     slog.Default(),
		now:        time.Now,
		shutdown:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.oracle = &oracle{interval: settings.InvalidationInterval, now: m.now}
	if m.channel == nil {
		m.channel = NewMarkerChannel(s, m.now)
	}
	m.committer = newCommitStrategy(settings, s.AllowConcurrentCommit(), len(partitions), m.logger)
	m.waitBeforeSecondStep.Store(settings.WaitForCacheInvalidation)

	m.logger.Debug("manager_created",
		slog.Int("partitions", len(partitions)),
		slog.Duration("invalidation_interval", settings.InvalidationInterval),
		slog.Duration("lock_timeout", settings.LockTimeout))
	return m, nil
}

// Store returns the underlying store.
func (m *Manager) Store() Store { return m.store }

// SubIndexes returns the partition set.
func (m *Manager) SubIndexes() []string {
	return append([]string(nil), m.partitions...)
}

// Settings returns the settings the manager was built with.
func (m *Manager) Settings() Settings { return m.settings }

// Acquire returns the cached handle of a partition, opening a fresh one
// when there is none or the cached one is stale. The caller must Release
// the handle when done with it.
func (m *Manager) Acquire(ctx context.Context, partition string) (*Handle, error) {
	if m.closed.Load() {
		return nil, ierrors.ClosedError("acquire")
	}
	mu, ok := m.cache.lock(partition)
	if !ok {
		return nil, ierrors.UnknownPartitionError(partition)
	}

	var retired *Handle
	defer func() {
		if retired != nil {
			m.closeHandle(retired)
		}
	}()

	mu.Lock()
	defer mu.Unlock()

	// Close may have cleared this partition while we waited for its lock.
	if m.closed.Load() {
		return nil, ierrors.ClosedError("acquire")
	}

	h := m.cache.entries[partition]
	stale, err := m.oracle.shouldInvalidate(ctx, h)
	if err != nil {
		return nil, ierrors.StoreIOError(partition, "failed to check index currency", err).
			WithOperation("acquire")
	}

	if !stale {
		h.refCount++
		m.metrics.CacheHit(partition)
		return h, nil
	}

	if h != nil {
		retired = m.cache.remove(partition)
		m.metrics.Invalidated(partition, "stale")
		m.logger.Debug("handle_stale",
			slog.String("partition", partition),
			slog.Int("ref_count", h.refCount))
	}

	h, err = m.openHandle(ctx, partition)
	if err != nil {
		return nil, err
	}
	h.refCount++
	return h, nil
}

// openHandle opens and installs a new handle. Caller holds the partition lock.
func (m *Manager) openHandle(ctx context.Context, partition string) (*Handle, error) {
	dir, err := m.store.Directory(partition)
	if err != nil {
		return nil, err
	}
	reader, err := m.store.OpenReader(ctx, partition)
	if err != nil {
		var ie *ierrors.IndexError
		if errors.As(err, &ie) {
			return nil, err
		}
		return nil, ierrors.StoreIOError(partition, "failed to open reader", err).
			WithOperation("acquire")
	}

	h := newHandle(partition, reader, dir, m.now())
	m.cache.entries[partition] = h
	m.metrics.HandleOpened(partition)
	m.logger.Debug("handle_opened",
		slog.String("partition", partition),
		slog.Int64("generation", reader.Generation()))
	return h, nil
}

// Release returns a handle acquired with Acquire. Releasing more often than
// acquiring is an error and leaves the handle unchanged. Release keeps
// working after Close so outstanding handles can be returned.
func (m *Manager) Release(h *Handle) error {
	if h == nil {
		return ierrors.ValidationError("handle is nil", nil)
	}
	mu, ok := m.cache.lock(h.partition)
	if !ok {
		return ierrors.UnknownPartitionError(h.partition)
	}

	mu.Lock()
	if h.refCount == 0 {
		mu.Unlock()
		return ierrors.New(ierrors.ErrCodeHandleReleased, "handle released more times than acquired", nil).
			WithPartition(h.partition).
			WithOperation("release")
	}
	h.refCount--
	closeNow := h.markedForClose && h.refCount == 0
	mu.Unlock()

	if closeNow {
		m.closeHandle(h)
	}
	return nil
}

func (m *Manager) closeHandle(h *Handle) {
	if h.close(m.logger) {
		m.metrics.HandleClosed(h.partition)
		m.logger.Debug("handle_closed", slog.String("partition", h.partition))
	}
}

// RefreshCache installs reader as the cached handle of a partition. The
// previous handle, if any, is marked for close.
func (m *Manager) RefreshCache(partition string, reader store.IndexReader) error {
	if m.closed.Load() {
		return ierrors.ClosedError("refresh_cache")
	}
	if reader == nil {
		return ierrors.ValidationError("reader is nil", nil)
	}
	mu, ok := m.cache.lock(partition)
	if !ok {
		return ierrors.UnknownPartitionError(partition)
	}
	dir, err := m.store.Directory(partition)
	if err != nil {
		return err
	}

	mu.Lock()
	retired := m.cache.remove(partition)
	m.cache.entries[partition] = newHandle(partition, reader, dir, m.now())
	mu.Unlock()

	if retired != nil {
		m.closeHandle(retired)
	}
	m.metrics.HandleOpened(partition)
	return nil
}

// ClearPartitionCache drops the cached handle of one partition without
// opening a replacement.
func (m *Manager) ClearPartitionCache(partition string) error {
	if m.closed.Load() {
		return ierrors.ClosedError("clear_cache")
	}
	if _, ok := m.cache.lock(partition); !ok {
		return ierrors.UnknownPartitionError(partition)
	}
	m.clearPartition(partition, "cleared")
	return nil
}

// ClearCache drops the cached handle of every partition.
func (m *Manager) ClearCache() error {
	if m.closed.Load() {
		return ierrors.ClosedError("clear_cache")
	}
	m.clearAll("cleared")
	return nil
}

func (m *Manager) clearAll(reason string) {
	for _, p := range m.partitions {
		m.clearPartition(p, reason)
	}
}

func (m *Manager) clearPartition(partition, reason string) {
	mu, _ := m.cache.lock(partition)
	mu.Lock()
	_, cached := m.cache.entries[partition]
	retired := m.cache.remove(partition)
	mu.Unlock()

	if cached {
		m.metrics.Invalidated(partition, reason)
	}
	if retired != nil {
		m.closeHandle(retired)
	}
}

// IsCached reports whether a partition currently has a cached handle.
// The answer may be outdated as soon as it is returned.
func (m *Manager) IsCached(partition string) bool {
	mu, ok := m.cache.lock(partition)
	if !ok {
		return false
	}
	mu.Lock()
	defer mu.Unlock()
	_, cached := m.cache.entries[partition]
	return cached
}

// IsAnyCached reports whether any partition has a cached handle.
func (m *Manager) IsAnyCached() bool {
	for _, p := range m.partitions {
		if m.IsCached(p) {
			return true
		}
	}
	return false
}

// NotifyAllToClearCache signals every process sharing the store, this one
// included, to drop its cached handles. Every partition is attempted; the
// first failure is returned.
func (m *Manager) NotifyAllToClearCache() error {
	if m.closed.Load() {
		return ierrors.ClosedError("notify")
	}
	return m.notifyAll()
}

func (m *Manager) notifyAll() error {
	var firstErr error
	for _, p := range m.partitions {
		if err := m.channel.Touch(p); err != nil {
			m.logger.Warn("notify_failed",
				slog.String("partition", p),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = ierrors.StoreIOError(p, "failed to touch invalidation marker", err).
					WithOperation("notify")
			}
		}
	}
	m.logger.Debug("notified_all_to_clear_cache", slog.Int("partitions", len(m.partitions)))
	return firstErr
}

// CheckAndClearIfNotifiedAllToClearCache drops the cached handle of every
// partition whose marker advanced since the last call. The first call only
// records the current markers.
func (m *Manager) CheckAndClearIfNotifiedAllToClearCache() error {
	if m.closed.Load() {
		return ierrors.ClosedError("check_and_clear")
	}

	m.signalMu.Lock()
	defer m.signalMu.Unlock()

	if m.lastSeen == nil {
		return m.primeSignals()
	}

	var firstErr error
	for _, p := range m.partitions {
		last, err := m.channel.LastSignal(p)
		if err != nil {
			m.logger.Warn("marker_read_failed",
				slog.String("partition", p),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = ierrors.StoreIOError(p, "failed to read invalidation marker", err).
					WithOperation("check_and_clear")
			}
			continue
		}
		if !last.After(m.lastSeen[p]) {
			continue
		}
		m.lastSeen[p] = last
		m.clearPartition(p, "remote")
		m.logger.Info("cache_cleared_by_notification",
			slog.String("partition", p),
			slog.Time("signal", last))
	}
	return firstErr
}

// primeSignals records the current marker of every partition. Caller holds
// signalMu. Nothing is recorded unless every marker could be read.
func (m *Manager) primeSignals() error {
	seen := make(map[string]time.Time, len(m.partitions))
	for _, p := range m.partitions {
		last, err := m.channel.LastSignal(p)
		if err != nil {
			return ierrors.StoreIOError(p, "failed to read invalidation marker", err).
				WithOperation("check_and_clear")
		}
		seen[p] = last
	}
	m.lastSeen = seen
	return nil
}

// PerformScheduledTasks polls the invalidation markers and runs the store's
// maintenance. It is meant to be called periodically by every process.
func (m *Manager) PerformScheduledTasks(ctx context.Context) error {
	if m.closed.Load() {
		return ierrors.ClosedError("scheduled_tasks")
	}
	checkErr := m.CheckAndClearIfNotifiedAllToClearCache()
	if checkErr != nil {
		m.logger.Warn("scheduled_check_failed", slog.String("error", checkErr.Error()))
	}
	if err := m.store.PerformScheduledTasks(ctx); err != nil {
		return err
	}
	return checkErr
}

// ExecuteCommit runs a batch of commit actions with the strategy chosen at
// construction.
func (m *Manager) ExecuteCommit(actions ...CommitAction) error {
	if m.closed.Load() {
		return ierrors.ClosedError("execute_commit")
	}
	if len(actions) == 0 {
		return nil
	}

	mode := m.committer.mode(len(actions))
	err := m.committer.execute(actions)
	m.metrics.Committed(mode, len(actions), err)
	if err != nil {
		m.logger.Warn("commit_failed",
			slog.String("mode", mode),
			slog.Int("actions", len(actions)),
			slog.String("error", err.Error()))
	}
	return err
}

// Write opens the partition writer, runs fn and commits. The write lock is
// held throughout. The local cache is left alone; the currency check picks
// up the new generation.
func (m *Manager) Write(ctx context.Context, partition string, fn func(*store.Writer) error) (err error) {
	if m.closed.Load() {
		return ierrors.ClosedError("write")
	}
	if fn == nil {
		return ierrors.ValidationError("write function is nil", nil)
	}
	if _, ok := m.cache.lock(partition); !ok {
		return ierrors.UnknownPartitionError(partition)
	}

	w, err := m.store.OpenWriter(ctx, partition, m.settings.LockTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := w.Close(); closeErr != nil {
			if err == nil {
				err = ierrors.StoreIOError(partition, "failed to close writer", closeErr)
				return
			}
			m.logger.Warn("writer_close_failed_after_error",
				slog.String("partition", partition),
				slog.String("error", closeErr.Error()),
				slog.String("primary_error", err.Error()))
		}
	}()

	if err := fn(w); err != nil {
		return err
	}
	_, err = w.Commit(ctx)
	return err
}

// IsLocked reports whether any partition write lock is held.
func (m *Manager) IsLocked() (bool, error) {
	if m.closed.Load() {
		return false, ierrors.ClosedError("is_locked")
	}
	for _, p := range m.partitions {
		locked, err := m.store.IsLocked(p)
		if err != nil {
			return false, err
		}
		if locked {
			return true, nil
		}
	}
	return false, nil
}

// IsPartitionLocked reports whether the write lock of one partition is held.
func (m *Manager) IsPartitionLocked(partition string) (bool, error) {
	if m.closed.Load() {
		return false, ierrors.ClosedError("is_locked")
	}
	if _, ok := m.cache.lock(partition); !ok {
		return false, ierrors.UnknownPartitionError(partition)
	}
	return m.store.IsLocked(partition)
}

// ReleaseLocks forcibly breaks the write lock of every partition.
func (m *Manager) ReleaseLocks() error {
	if m.closed.Load() {
		return ierrors.ClosedError("release_locks")
	}
	var firstErr error
	for _, p := range m.partitions {
		if err := m.store.ReleaseLock(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.logger.Info("locks_released", slog.Int("partitions", len(m.partitions)))
	return firstErr
}

// ReleaseLock forcibly breaks the write lock of one partition.
func (m *Manager) ReleaseLock(partition string) error {
	if m.closed.Load() {
		return ierrors.ClosedError("release_locks")
	}
	if _, ok := m.cache.lock(partition); !ok {
		return ierrors.UnknownPartitionError(partition)
	}
	return m.store.ReleaseLock(partition)
}

// CreateIndex clears the cache and recreates every partition empty.
func (m *Manager) CreateIndex(ctx context.Context) error {
	if m.closed.Load() {
		return ierrors.ClosedError("create_index")
	}
	m.logger.Debug("creating_index")
	m.clearAll("cleared")
	return m.store.CreateIndex(ctx)
}

// DeleteIndex clears the cache and removes every partition.
func (m *Manager) DeleteIndex(ctx context.Context) error {
	if m.closed.Load() {
		return ierrors.ClosedError("delete_index")
	}
	m.logger.Debug("deleting_index")
	m.clearAll("cleared")
	return m.store.DeleteIndex(ctx)
}

// VerifyIndex clears the cache, creates missing partitions and checks the
// rest. It reports whether anything was created.
func (m *Manager) VerifyIndex(ctx context.Context) (bool, error) {
	if m.closed.Load() {
		return false, ierrors.ClosedError("verify_index")
	}
	m.clearAll("cleared")
	return m.store.VerifyIndex(ctx)
}

// IndexExists reports whether every partition exists.
func (m *Manager) IndexExists(ctx context.Context) (bool, error) {
	if m.closed.Load() {
		return false, ierrors.ClosedError("index_exists")
	}
	return m.store.IndexExists(ctx)
}

// Start marks the manager running and records the current invalidation
// markers, so the first poll afterwards already sees new notifications.
func (m *Manager) Start() error {
	if m.closed.Load() {
		return ierrors.ClosedError("start")
	}
	m.signalMu.Lock()
	var err error
	if m.lastSeen == nil {
		err = m.primeSignals()
	}
	m.signalMu.Unlock()
	if err != nil {
		return err
	}
	m.running.Store(true)
	m.logger.Debug("manager_started")
	return nil
}

// Stop marks the manager stopped. Cached handles stay valid.
func (m *Manager) Stop() {
	m.running.Store(false)
}

// IsRunning reports whether Start was called without a later Stop.
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// Close stops the commit pool, drops every cached handle and closes the
// store. Handles still borrowed are closed when released. Every operation
// except Release fails afterwards. Close is idempotent.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.running.Store(false)
		close(m.shutdown)
		m.committer.stop()
		m.clearAll("closed")
		err = m.store.Close()
		m.logger.Debug("manager_closed")
	})
	return err
}
