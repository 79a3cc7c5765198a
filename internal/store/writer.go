package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Aman-CERP/subindex/internal/directory"
)

// Writer buffers mutations for one partition and applies them on Commit.
// It holds the partition write lock from OpenWriter until Close, so writers
// in other processes and replace operations exclude each other.
type Writer struct {
	partition string
	seg       *segments
	lock      directory.Lock

	mu      sync.Mutex
	pending []mutation
	closed  bool
}

// Partition returns the partition the writer was opened on.
func (w *Writer) Partition() string { return w.partition }

// Add queues documents for insertion; existing IDs are overwritten.
func (w *Writer) Add(docs ...Document) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range docs {
		d := docs[i]
		w.pending = append(w.pending, mutation{doc: &d})
	}
}

// Delete queues documents for removal by ID.
func (w *Writer) Delete(ids ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range ids {
		w.pending = append(w.pending, mutation{deleteID: id})
	}
}

// DeleteAll queues removal of every document.
func (w *Writer) DeleteAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, mutation{deleteAll: true})
}

// Pending returns the number of queued mutations.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Commit applies queued mutations in one transaction and returns the new
// generation. Committing with nothing queued is a no-op.
func (w *Writer) Commit(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, fmt.Errorf("writer for %s is closed", w.partition)
	}
	if len(w.pending) == 0 {
		return w.seg.generation(ctx)
	}

	gen, err := w.seg.apply(ctx, w.pending)
	if err != nil {
		return 0, err
	}
	slog.Debug("partition_committed",
		slog.String("partition", w.partition),
		slog.Int("mutations", len(w.pending)),
		slog.Int64("generation", gen))
	w.pending = nil
	return gen, nil
}

// Close discards uncommitted mutations and releases the write lock.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if n := len(w.pending); n > 0 {
		slog.Warn("writer_closed_with_pending",
			slog.String("partition", w.partition),
			slog.Int("discarded", n))
	}
	w.pending = nil
	return w.lock.Release()
}
