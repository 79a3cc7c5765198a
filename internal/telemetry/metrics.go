package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for one index manager.
// A nil *Metrics is valid and records nothing, so callers never need to
// check whether metrics are enabled.
type Metrics struct {
	// Handle cache
	CacheHits     *prometheus.CounterVec // subindex_cache_hits_total{partition}
	HandlesOpened *prometheus.CounterVec // subindex_handles_opened_total{partition}
	HandlesClosed *prometheus.CounterVec // subindex_handles_closed_total{partition}
	Invalidations *prometheus.CounterVec // subindex_invalidations_total{partition,reason}

	// Replace and commit
	Operations       *prometheus.CounterVec // subindex_operations_total{result}
	OperateDuration  prometheus.Histogram   // subindex_operate_duration_seconds
	Commits          *prometheus.CounterVec // subindex_commits_total{mode,result}
	CommitBatchSizes prometheus.Histogram   // subindex_commit_batch_size

	// Searcher
	Searches         *prometheus.CounterVec // subindex_searches_total{result}
	SearchCacheHits  prometheus.Counter     // subindex_search_cache_hits_total
	ScheduledRuns    *prometheus.CounterVec // subindex_scheduled_runs_total{result}
	LastScheduledRun prometheus.Gauge       // subindex_last_scheduled_run_timestamp_seconds
}

// NewMetrics creates and registers the collectors on registry.
// A nil registry uses prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	return &Metrics{
		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "subindex_cache_hits_total",
			Help: "Acquisitions served by an already cached handle",
		}, []string{"partition"}),

		HandlesOpened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "subindex_handles_opened_total",
			Help: "Read handles opened, by partition",
		}, []string{"partition"}),

		HandlesClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "subindex_handles_closed_total",
			Help: "Read handles whose resources were released, by partition",
		}, []string{"partition"}),

		Invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "subindex_invalidations_total",
			Help: "Cache entries dropped, by partition and reason (stale, remote, cleared, operate, closed)",
		}, []string{"partition", "reason"}),

		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "subindex_operations_total",
			Help: "Two-phase operations by result (ok, skipped, error)",
		}, []string{"result"}),

		OperateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "subindex_operate_duration_seconds",
			Help:    "Time spent inside two-phase operations, locks included",
			Buckets: prometheus.DefBuckets,
		}),

		Commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "subindex_commits_total",
			Help: "Commit batches by execution mode (serial, concurrent) and result",
		}, []string{"mode", "result"}),

		CommitBatchSizes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "subindex_commit_batch_size",
			Help:    "Number of actions per commit batch",
			Buckets: prometheus.LinearBuckets(1, 2, 8),
		}),

		Searches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "subindex_searches_total",
			Help: "Searches by result (ok, error)",
		}, []string{"result"}),

		SearchCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "subindex_search_cache_hits_total",
			Help: "Partition searches answered from the result cache",
		}),

		ScheduledRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "subindex_scheduled_runs_total",
			Help: "Scheduled task runs by result (ok, error)",
		}, []string{"result"}),

		LastScheduledRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "subindex_last_scheduled_run_timestamp_seconds",
			Help: "Unix time of the last scheduled task run",
		}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// CacheHit records an acquisition served from cache.
func (m *Metrics) CacheHit(partition string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(partition).Inc()
}

// HandleOpened records a freshly opened handle.
func (m *Metrics) HandleOpened(partition string) {
	if m == nil {
		return
	}
	m.HandlesOpened.WithLabelValues(partition).Inc()
}

// HandleClosed records a handle whose resources were released.
func (m *Metrics) HandleClosed(partition string) {
	if m == nil {
		return
	}
	m.HandlesClosed.WithLabelValues(partition).Inc()
}

// Invalidated records a dropped cache entry.
func (m *Metrics) Invalidated(partition, reason string) {
	if m == nil {
		return
	}
	m.Invalidations.WithLabelValues(partition, reason).Inc()
}

// Operated records the outcome of a two-phase operation.
func (m *Metrics) Operated(res string, d time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(res).Inc()
	m.OperateDuration.Observe(d.Seconds())
}

// Committed records a commit batch.
func (m *Metrics) Committed(mode string, size int, err error) {
	if m == nil {
		return
	}
	m.Commits.WithLabelValues(mode, result(err)).Inc()
	m.CommitBatchSizes.Observe(float64(size))
}

// Searched records a fan-out search.
func (m *Metrics) Searched(err error) {
	if m == nil {
		return
	}
	m.Searches.WithLabelValues(result(err)).Inc()
}

// SearchCacheHit records a partition result served from cache.
func (m *Metrics) SearchCacheHit() {
	if m == nil {
		return
	}
	m.SearchCacheHits.Inc()
}

// ScheduledRun records a scheduled tasks run.
func (m *Metrics) ScheduledRun(at time.Time, err error) {
	if m == nil {
		return
	}
	m.ScheduledRuns.WithLabelValues(result(err)).Inc()
	m.LastScheduledRun.Set(float64(at.Unix()))
}
