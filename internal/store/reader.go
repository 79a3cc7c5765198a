package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	ierrors "github.com/Aman-CERP/subindex/internal/errors"
)

// DefaultSearchLimit is used when Search is called with a non-positive limit.
const DefaultSearchLimit = 10

// Reader is an IndexReader backed by a bleve in-memory index built from a
// segments snapshot. Opening is the expensive step; searches are cheap.
type Reader struct {
	partition  string
	generation int64
	docCount   int
	// current reads the committed generation of the partition as it is on
	// disk now, following the database if it was recreated.
	current func(ctx context.Context) (int64, error)

	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

var _ IndexReader = (*Reader)(nil)

// bleveDocument is the shape indexed into bleve.
type bleveDocument struct {
	Content string `json:"content"`
}

func openReader(ctx context.Context, partition string, seg *segments, current func(context.Context) (int64, error)) (*Reader, error) {
	gen, docs, err := seg.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	m, err := newIndexMapping()
	if err != nil {
		return nil, err
	}
	idx, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	batch := idx.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.ID, bleveDocument{Content: d.Content}); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("failed to index document %s: %w", d.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to execute batch: %w", err)
	}

	return &Reader{
		partition:  partition,
		generation: gen,
		docCount:   len(docs),
		current:    current,
		index:      idx,
	}, nil
}

// Partition returns the partition name.
func (r *Reader) Partition() string { return r.partition }

// Generation returns the generation the snapshot was loaded at.
func (r *Reader) Generation() int64 { return r.generation }

// DocCount returns the number of documents in the snapshot.
func (r *Reader) DocCount() int { return r.docCount }

// IsCurrent reports whether no commit happened since the snapshot. A
// partition whose segments were deleted is never current.
func (r *Reader) IsCurrent(ctx context.Context) (bool, error) {
	gen, err := r.current(ctx)
	if errors.Is(err, ierrors.ErrIndexNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return gen == r.generation, nil
}

// Search runs a match query over document content.
func (r *Reader) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("reader is closed")
	}
	if strings.TrimSpace(query) == "" {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	q := bleve.NewMatchQuery(query)
	q.SetField(contentField)
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{contentField}

	res, err := r.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		content, _ := h.Fields[contentField].(string)
		hits = append(hits, Hit{
			Partition: r.partition,
			ID:        h.ID,
			Score:     h.Score,
			Content:   content,
		})
	}
	return hits, nil
}

// Close releases the in-memory index. It is safe to call more than once.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.index.Close()
}
