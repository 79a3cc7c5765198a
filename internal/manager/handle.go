package manager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/subindex/internal/directory"
	"github.com/Aman-CERP/subindex/internal/store"
)

// Handle is a cached, reference-counted read handle on one partition.
//
// The reader is closed exactly once, when the handle has been marked for
// close (replaced or invalidated) and the last borrower released it.
// All mutable fields are guarded by the partition lock.
type Handle struct {
	partition string
	reader    store.IndexReader
	dir       directory.Directory

	refCount              int
	markedForClose        bool
	lastInvalidationCheck time.Time
	closed                bool
}

func newHandle(partition string, reader store.IndexReader, dir directory.Directory, now time.Time) *Handle {
	return &Handle{
		partition:             partition,
		reader:                reader,
		dir:                   dir,
		lastInvalidationCheck: now,
	}
}

// Partition returns the partition the handle reads.
func (h *Handle) Partition() string { return h.partition }

// Reader returns the underlying reader. It must not be used after Release.
func (h *Handle) Reader() store.IndexReader { return h.reader }

// Directory returns the partition directory the handle was opened against.
func (h *Handle) Directory() directory.Directory { return h.dir }

// markForClose flags the handle and reports whether it can be closed now.
func (h *Handle) markForClose() bool {
	h.markedForClose = true
	return h.refCount == 0
}

// close releases the reader. Called outside the partition lock; the
// closed flag makes a second call harmless.
func (h *Handle) close(logger *slog.Logger) bool {
	if h.closed {
		return false
	}
	h.closed = true
	if err := h.reader.Close(); err != nil {
		logger.Warn("handle_close_failed",
			slog.String("partition", h.partition),
			slog.String("error", err.Error()))
	}
	return true
}

// partitionCache maps each partition to at most one live handle.
// The lock table is built once and never mutated, so lookups need no
// further synchronization.
type partitionCache struct {
	locks   map[string]*sync.Mutex
	entries map[string]*Handle
}

func newPartitionCache(partitions []string) *partitionCache {
	c := &partitionCache{
		locks:   make(map[string]*sync.Mutex, len(partitions)),
		entries: make(map[string]*Handle, len(partitions)),
	}
	for _, p := range partitions {
		c.locks[p] = &sync.Mutex{}
	}
	return c
}

func (c *partitionCache) lock(partition string) (*sync.Mutex, bool) {
	mu, ok := c.locks[partition]
	return mu, ok
}

// remove drops the entry of a partition and marks it for close. The caller
// holds the partition lock and closes the returned handle, if any, after
// unlocking.
func (c *partitionCache) remove(partition string) *Handle {
	h, ok := c.entries[partition]
	if !ok {
		return nil
	}
	delete(c.entries, partition)
	if h.markForClose() {
		return h
	}
	return nil
}
