package manager

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/subindex/internal/directory"
	ierrors "github.com/Aman-CERP/subindex/internal/errors"
	"github.com/Aman-CERP/subindex/internal/store"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeReader is current while the store generation of its partition is
// the one it was opened at.
type fakeReader struct {
	store      *fakeStore
	partition  string
	generation int64
	closes     atomic.Int32
}

func (r *fakeReader) Partition() string { return r.partition }
func (r *fakeReader) Generation() int64 { return r.generation }
func (r *fakeReader) DocCount() int     { return 0 }

func (r *fakeReader) IsCurrent(ctx context.Context) (bool, error) {
	return r.store.generation(r.partition) == r.generation, nil
}

func (r *fakeReader) Search(ctx context.Context, query string, limit int) ([]store.Hit, error) {
	return nil, nil
}

func (r *fakeReader) Close() error {
	r.closes.Add(1)
	return nil
}

// fakeStore keeps partitions in memory directories. Methods the manager
// tests never reach are left to the embedded nil interface.
type fakeStore struct {
	Store

	partitions []string
	dirs       map[string]*directory.MemDirectory

	mu          sync.Mutex
	generations map[string]int64
	readers     []*fakeReader
	openErr     error
	copied      store.Source
	scheduled   int
	closed      bool
	concurrent  bool
}

func newFakeStore(clock func() time.Time, partitions ...string) *fakeStore {
	s := &fakeStore{
		partitions:  partitions,
		dirs:        make(map[string]*directory.MemDirectory, len(partitions)),
		generations: make(map[string]int64, len(partitions)),
		concurrent:  true,
	}
	for _, p := range partitions {
		s.dirs[p] = directory.NewMemDirectory(p, clock)
	}
	return s
}

func (s *fakeStore) SubIndexes() []string { return s.partitions }

func (s *fakeStore) Directory(partition string) (directory.Directory, error) {
	d, ok := s.dirs[partition]
	if !ok {
		return nil, ierrors.UnknownPartitionError(partition)
	}
	return d, nil
}

func (s *fakeStore) OpenReader(ctx context.Context, partition string) (store.IndexReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	r := &fakeReader{store: s, partition: partition, generation: s.generations[partition]}
	s.readers = append(s.readers, r)
	return r, nil
}

func (s *fakeStore) Documents(ctx context.Context, partition string) ([]store.Document, error) {
	return []store.Document{}, nil
}

func (s *fakeStore) CopyFrom(ctx context.Context, src store.Source) error {
	s.mu.Lock()
	s.copied = src
	s.mu.Unlock()
	for _, p := range s.partitions {
		s.commit(p)
	}
	return nil
}

func (s *fakeStore) AllowConcurrentCommit() bool { return s.concurrent }

func (s *fakeStore) CreateIndex(ctx context.Context) error         { return nil }
func (s *fakeStore) DeleteIndex(ctx context.Context) error         { return nil }
func (s *fakeStore) IndexExists(ctx context.Context) (bool, error) { return true, nil }
func (s *fakeStore) VerifyIndex(ctx context.Context) (bool, error) { return false, nil }

func (s *fakeStore) IsLocked(partition string) (bool, error) {
	return s.dirs[partition].MakeLock(store.LockName).IsLocked()
}

func (s *fakeStore) ReleaseLock(partition string) error {
	return s.dirs[partition].DeleteFile(store.LockName)
}

func (s *fakeStore) PerformScheduledTasks(ctx context.Context) error {
	s.mu.Lock()
	s.scheduled++
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// commit simulates a write to a partition.
func (s *fakeStore) commit(partition string) {
	s.mu.Lock()
	s.generations[partition]++
	s.mu.Unlock()
}

func (s *fakeStore) generation(partition string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[partition]
}

func (s *fakeStore) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readers)
}

func (s *fakeStore) allReaders() []*fakeReader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeReader(nil), s.readers...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, s Store, settings Settings, clock *fakeClock) *Manager {
	t.Helper()
	opts := []Option{WithLogger(discardLogger())}
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	m, err := New(s, settings, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func readerOf(t *testing.T, h *Handle) *fakeReader {
	t.Helper()
	r, ok := h.Reader().(*fakeReader)
	require.True(t, ok)
	return r
}
