// Package store implements the partitioned document store read and written
// through the index manager.
//
// Each partition lives in its own directory under the store root:
//
//	<root>/<partition>/segments.db   SQLite database (WAL) with documents
//	<root>/<partition>/write.lock    exclusive write lock
//	<root>/<partition>/clearcache    cache invalidation marker (owned by the manager)
//
// Every commit bumps the partition generation. Readers load a snapshot into
// an in-memory bleve index and compare generations to detect staleness.
package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/subindex/internal/directory"
	ierrors "github.com/Aman-CERP/subindex/internal/errors"
)

// Store is a fixed set of partitions under one root directory.
type Store struct {
	root       string
	partitions []string
	dirs       map[string]*directory.FSDirectory

	mu     sync.Mutex
	segs   map[string]*segments
	closed bool
}

var _ Source = (*Store)(nil)

// Open opens the store rooted at cfg.Root, creating partition directories.
// Segment databases are created lazily by writers or CreateIndex.
func Open(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, ierrors.ValidationError("store root is required", nil)
	}
	if err := validatePartitions(cfg.Partitions); err != nil {
		return nil, err
	}

	s := &Store{
		root:       cfg.Root,
		partitions: append([]string(nil), cfg.Partitions...),
		dirs:       make(map[string]*directory.FSDirectory, len(cfg.Partitions)),
		segs:       make(map[string]*segments),
	}
	for _, p := range s.partitions {
		dir, err := directory.NewFSDirectory(filepath.Join(cfg.Root, p))
		if err != nil {
			return nil, ierrors.StoreIOError(p, "failed to open partition directory", err)
		}
		s.dirs[p] = dir
	}
	return s, nil
}

func validatePartitions(partitions []string) error {
	if len(partitions) == 0 {
		return ierrors.ValidationError("at least one partition is required", nil)
	}
	seen := make(map[string]struct{}, len(partitions))
	for _, p := range partitions {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) {
			return ierrors.ValidationError(fmt.Sprintf("invalid partition name %q", p), nil)
		}
		if _, dup := seen[p]; dup {
			return ierrors.ValidationError(fmt.Sprintf("duplicate partition %q", p), nil)
		}
		seen[p] = struct{}{}
	}
	return nil
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// SubIndexes returns the partition names in configuration order.
func (s *Store) SubIndexes() []string {
	return append([]string(nil), s.partitions...)
}

// Directory returns the directory of a partition.
func (s *Store) Directory(partition string) (directory.Directory, error) {
	dir, ok := s.dirs[partition]
	if !ok {
		return nil, ierrors.UnknownPartitionError(partition)
	}
	return dir, nil
}

// PartitionFor maps a document ID onto a partition with FNV-1a.
func (s *Store) PartitionFor(docID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(docID))
	return s.partitions[h.Sum32()%uint32(len(s.partitions))]
}

// AllowConcurrentCommit reports that partitions can commit in parallel.
// Each partition has its own database, so commits never contend.
func (s *Store) AllowConcurrentCommit() bool { return true }

func (s *Store) segmentsPath(partition string) string {
	return filepath.Join(s.root, partition, SegmentsFile)
}

// segmentsFor returns the cached database of a partition, opening it on
// first use. With create unset a missing database is ErrIndexNotFound.
// A cached database whose file was removed or replaced by another process
// is closed and reopened from the file now on disk.
func (s *Store) segmentsFor(ctx context.Context, partition string, create bool) (*segments, error) {
	if _, ok := s.dirs[partition]; !ok {
		return nil, ierrors.UnknownPartitionError(partition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ierrors.New(ierrors.ErrCodeStoreIO, "store is closed", nil).WithPartition(partition)
	}
	if seg, ok := s.segs[partition]; ok {
		if seg.sameFile() {
			return seg, nil
		}
		slog.Debug("segments_replaced_on_disk", slog.String("partition", partition))
		_ = seg.close()
		delete(s.segs, partition)
	}

	path := s.segmentsPath(partition)
	if !create {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, ierrors.New(ierrors.ErrCodeIndexNotFound, "index does not exist", nil).
				WithPartition(partition).
				WithSuggestion("run 'subindex init' to create the index")
		}
	}

	seg, err := openSegments(ctx, path)
	if err != nil {
		return nil, ierrors.StoreIOError(partition, "failed to open segments", err)
	}
	s.segs[partition] = seg
	return seg, nil
}

// OpenReader loads a snapshot of a partition.
func (s *Store) OpenReader(ctx context.Context, partition string) (IndexReader, error) {
	seg, err := s.segmentsFor(ctx, partition, false)
	if err != nil {
		return nil, err
	}
	r, err := openReader(ctx, partition, seg, func(ctx context.Context) (int64, error) {
		return s.generation(ctx, partition)
	})
	if err != nil {
		return nil, ierrors.StoreIOError(partition, "failed to load snapshot", err)
	}
	return r, nil
}

// generation reads the committed generation of a partition.
func (s *Store) generation(ctx context.Context, partition string) (int64, error) {
	seg, err := s.segmentsFor(ctx, partition, false)
	if err != nil {
		return 0, err
	}
	gen, err := seg.generation(ctx)
	if err != nil {
		return 0, ierrors.StoreIOError(partition, "failed to read generation", err)
	}
	return gen, nil
}

// OpenWriter takes the partition write lock, waiting up to lockTimeout, and
// returns a writer. The segments database is created if missing.
func (s *Store) OpenWriter(ctx context.Context, partition string, lockTimeout time.Duration) (*Writer, error) {
	dir, err := s.Directory(partition)
	if err != nil {
		return nil, err
	}
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}

	lock := dir.MakeLock(LockName)
	if err := lock.Obtain(lockTimeout); err != nil {
		if errors.Is(err, directory.ErrLockHeld) {
			return nil, ierrors.LockTimeoutError(partition, err)
		}
		return nil, ierrors.New(ierrors.ErrCodeLockFailed, "failed to obtain write lock", err).
			WithPartition(partition)
	}

	seg, err := s.segmentsFor(ctx, partition, true)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	return &Writer{partition: partition, seg: seg, lock: lock}, nil
}

// Documents returns every document of a partition ordered by ID.
// A partition without segments has no documents.
func (s *Store) Documents(ctx context.Context, partition string) ([]Document, error) {
	seg, err := s.segmentsFor(ctx, partition, false)
	if err != nil {
		if errors.Is(err, ierrors.ErrIndexNotFound) {
			return []Document{}, nil
		}
		return nil, err
	}
	_, docs, err := seg.snapshot(ctx)
	if err != nil {
		return nil, ierrors.StoreIOError(partition, "failed to read documents", err)
	}
	return docs, nil
}

// CopyFrom replaces the contents of every partition with the documents of
// the same partition in src. Each partition is swapped in one transaction.
// The caller is expected to hold the write locks.
func (s *Store) CopyFrom(ctx context.Context, src Source) error {
	for _, p := range s.partitions {
		docs, err := src.Documents(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to read source partition %s: %w", p, err)
		}
		seg, err := s.segmentsFor(ctx, p, true)
		if err != nil {
			return err
		}
		gen, err := seg.replaceAll(ctx, docs)
		if err != nil {
			return ierrors.StoreIOError(p, "failed to copy documents", err)
		}
		slog.Debug("partition_copied",
			slog.String("partition", p),
			slog.Int("documents", len(docs)),
			slog.Int64("generation", gen))
	}
	return nil
}

// CreateIndex empties every partition, creating segments where missing.
// Existing databases are emptied in place with a generation bump, so
// processes holding them open see the change on their next currency check.
// A database that cannot be emptied is deleted and created anew.
func (s *Store) CreateIndex(ctx context.Context) error {
	for _, p := range s.partitions {
		err := s.withWriteLock(p, func() error {
			return s.recreate(ctx, p)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) recreate(ctx context.Context, partition string) error {
	seg, err := s.segmentsFor(ctx, partition, true)
	if s.isClosed() {
		return err
	}
	if err == nil {
		if _, err = seg.reset(ctx); err == nil {
			return nil
		}
	}
	slog.Warn("segments_unusable_recreating",
		slog.String("partition", partition),
		slog.String("error", err.Error()))

	if err := s.removeSegments(partition); err != nil {
		return err
	}
	_, err = s.segmentsFor(ctx, partition, true)
	return err
}

// DeleteIndex closes and removes every partition's segments. Each
// partition is removed under its write lock, so no writer commits into a
// file that is being unlinked.
func (s *Store) DeleteIndex(ctx context.Context) error {
	for _, p := range s.partitions {
		err := s.withWriteLock(p, func() error {
			return s.removeSegments(p)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) removeSegments(partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seg, ok := s.segs[partition]; ok {
		_ = seg.close()
		delete(s.segs, partition)
	}
	if err := removeSegmentFiles(s.segmentsPath(partition)); err != nil {
		return ierrors.StoreIOError(partition, "failed to delete segments", err)
	}
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// withWriteLock runs fn holding the partition write lock.
func (s *Store) withWriteLock(partition string, fn func() error) error {
	dir, err := s.Directory(partition)
	if err != nil {
		return err
	}
	lock := dir.MakeLock(LockName)
	if err := lock.Obtain(DefaultLockTimeout); err != nil {
		if errors.Is(err, directory.ErrLockHeld) {
			return ierrors.LockTimeoutError(partition, err)
		}
		return ierrors.New(ierrors.ErrCodeLockFailed, "failed to obtain write lock", err).
			WithPartition(partition)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("lock_release_failed",
				slog.String("partition", partition),
				slog.String("error", err.Error()))
		}
	}()
	return fn()
}

// IndexExists reports whether every partition has segments.
func (s *Store) IndexExists(ctx context.Context) (bool, error) {
	for _, p := range s.partitions {
		_, err := os.Stat(s.segmentsPath(p))
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, ierrors.StoreIOError(p, "failed to stat segments", err)
		}
	}
	return true, nil
}

// VerifyIndex creates segments for partitions that lack them and checks the
// integrity of the rest. It reports whether anything was created.
func (s *Store) VerifyIndex(ctx context.Context) (bool, error) {
	created := false
	for _, p := range s.partitions {
		_, statErr := os.Stat(s.segmentsPath(p))
		missing := errors.Is(statErr, os.ErrNotExist)

		seg, err := s.segmentsFor(ctx, p, true)
		if err != nil {
			return created, err
		}
		if missing {
			created = true
			continue
		}
		if err := seg.integrity(ctx); err != nil {
			return created, ierrors.New(ierrors.ErrCodeCorruptIndex, "partition failed integrity check", err).
				WithPartition(p).
				WithSuggestion("run 'subindex init --force' to recreate the index")
		}
	}
	return created, nil
}

// Stats reports the durable state of a partition.
func (s *Store) Stats(ctx context.Context, partition string) (PartitionStats, error) {
	st := PartitionStats{Partition: partition}
	dir, err := s.Directory(partition)
	if err != nil {
		return st, err
	}
	if st.Locked, err = dir.MakeLock(LockName).IsLocked(); err != nil {
		return st, ierrors.StoreIOError(partition, "failed to test lock", err)
	}

	seg, err := s.segmentsFor(ctx, partition, false)
	if errors.Is(err, ierrors.ErrIndexNotFound) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.Exists = true
	if st.Generation, err = seg.generation(ctx); err != nil {
		return st, ierrors.StoreIOError(partition, "failed to read generation", err)
	}
	if st.DocCount, err = seg.count(ctx); err != nil {
		return st, ierrors.StoreIOError(partition, "failed to count documents", err)
	}
	return st, nil
}

// IsLocked reports whether the partition write lock is held by anyone.
func (s *Store) IsLocked(partition string) (bool, error) {
	dir, err := s.Directory(partition)
	if err != nil {
		return false, err
	}
	locked, err := dir.MakeLock(LockName).IsLocked()
	if err != nil {
		return false, ierrors.StoreIOError(partition, "failed to test lock", err)
	}
	return locked, nil
}

// ReleaseLock forcibly breaks the partition write lock.
// Only safe when the holder is known to be gone.
func (s *Store) ReleaseLock(partition string) error {
	dir, err := s.Directory(partition)
	if err != nil {
		return err
	}
	if err := dir.DeleteFile(LockName); err != nil {
		return ierrors.StoreIOError(partition, "failed to release lock", err)
	}
	return nil
}

// PerformScheduledTasks checkpoints the WAL of every open partition.
// All partitions are attempted; the last failure is returned.
func (s *Store) PerformScheduledTasks(ctx context.Context) error {
	s.mu.Lock()
	segs := make(map[string]*segments, len(s.segs))
	for p, seg := range s.segs {
		segs[p] = seg
	}
	s.mu.Unlock()

	var lastErr error
	for _, p := range s.partitions {
		seg, ok := segs[p]
		if !ok {
			continue
		}
		if err := seg.checkpoint(ctx); err != nil {
			slog.Warn("checkpoint_failed",
				slog.String("partition", p),
				slog.String("error", err.Error()))
			lastErr = ierrors.StoreIOError(p, "failed to checkpoint", err)
		}
	}
	return lastErr
}

// Close closes every open database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for p, seg := range s.segs {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = ierrors.StoreIOError(p, "failed to close segments", err)
		}
	}
	s.segs = nil
	for _, dir := range s.dirs {
		_ = dir.Close()
	}
	return firstErr
}
