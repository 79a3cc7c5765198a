// Package search runs queries across every partition of an index manager.
//
// Each partition is searched on a handle borrowed from the manager, in
// parallel, and the hits are merged by score. Per-partition results are
// cached by the generation of the handle that produced them, so a cached
// result is served exactly as long as the manager keeps serving that
// snapshot.
package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	ierrors "github.com/Aman-CERP/subindex/internal/errors"
	"github.com/Aman-CERP/subindex/internal/manager"
	"github.com/Aman-CERP/subindex/internal/store"
	"github.com/Aman-CERP/subindex/internal/telemetry"
)

const (
	// DefaultLimit is the number of hits returned when Options.Limit is unset.
	DefaultLimit = 10

	// MaxLimit caps Options.Limit.
	MaxLimit = 100

	// DefaultCacheSize is the number of per-partition results kept.
	DefaultCacheSize = 256

	// DefaultParallelism is the number of partitions searched at once.
	DefaultParallelism = 4
)

// HandleSource lends partition handles. *manager.Manager implements it.
type HandleSource interface {
	SubIndexes() []string
	Acquire(ctx context.Context, partition string) (*manager.Handle, error)
	Release(h *manager.Handle) error
}

// Options configures one search.
type Options struct {
	// Limit is the maximum number of hits (default 10, max 100).
	Limit int

	// Partitions restricts the search. Empty means every partition.
	Partitions []string
}

type cacheKey struct {
	partition  string
	generation int64
	query      string
	limit      int
}

// Searcher fans a query out over partitions.
type Searcher struct {
	source      HandleSource
	cache       *lru.Cache[cacheKey, []store.Hit]
	parallelism int
	metrics     *telemetry.Metrics
	logger      *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithCacheSize sets the number of cached per-partition results.
func WithCacheSize(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.cache, _ = lru.New[cacheKey, []store.Hit](n)
		}
	}
}

// WithParallelism sets the maximum number of partitions searched at once.
func WithParallelism(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithMetrics records searches and cache hits.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Searcher) {
		s.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a searcher over source.
func New(source HandleSource, opts ...Option) *Searcher {
	cache, _ := lru.New[cacheKey, []store.Hit](DefaultCacheSize)
	s := &Searcher{
		source:      source,
		cache:       cache,
		parallelism: DefaultParallelism,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search returns the best hits for query across the selected partitions,
// highest score first. Any partition failure fails the whole search.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) (hits []store.Hit, err error) {
	start := time.Now()
	defer func() { s.metrics.Searched(err) }()

	query = strings.TrimSpace(query)
	if query == "" {
		return []store.Hit{}, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	partitions := opts.Partitions
	if len(partitions) == 0 {
		partitions = s.source.SubIndexes()
	}

	results := make([][]store.Hit, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, s.parallelism)

	for i, p := range partitions {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}

			res, err := s.searchPartition(gctx, p, query, limit)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var ie *ierrors.IndexError
		if errors.As(err, &ie) {
			return nil, err
		}
		return nil, ierrors.New(ierrors.ErrCodeSearchFailed, "search failed", err)
	}

	hits = merge(results, limit)
	s.logger.Debug("search_complete",
		slog.String("query", query),
		slog.Int("partitions", len(partitions)),
		slog.Int("hits", len(hits)),
		slog.Duration("duration", time.Since(start)))
	return hits, nil
}

func (s *Searcher) searchPartition(ctx context.Context, partition, query string, limit int) ([]store.Hit, error) {
	h, err := s.source.Acquire(ctx, partition)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.source.Release(h); err != nil {
			s.logger.Warn("handle_release_failed",
				slog.String("partition", partition),
				slog.String("error", err.Error()))
		}
	}()

	reader := h.Reader()
	key := cacheKey{partition: partition, generation: reader.Generation(), query: query, limit: limit}
	if cached, ok := s.cache.Get(key); ok {
		s.metrics.SearchCacheHit()
		return cached, nil
	}

	hits, err := reader.Search(ctx, query, limit)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeSearchFailed, "partition search failed", err).
			WithPartition(partition)
	}
	s.cache.Add(key, hits)
	return hits, nil
}

// Purge drops every cached result.
func (s *Searcher) Purge() {
	s.cache.Purge()
}

// merge concatenates per-partition hits, orders them by score and keeps
// the first limit. Ties are broken by partition then ID so the order is
// stable across runs.
func merge(results [][]store.Hit, limit int) []store.Hit {
	total := 0
	for _, r := range results {
		total += len(r)
	}
	merged := make([]store.Hit, 0, total)
	for _, r := range results {
		merged = append(merged, r...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Partition != b.Partition {
			return a.Partition < b.Partition
		}
		return a.ID < b.ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
