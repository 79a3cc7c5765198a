package store

import (
	"context"
	"time"
)

const (
	// SegmentsFile is the SQLite database holding a partition's documents.
	SegmentsFile = "segments.db"

	// LockName is the write lock taken by writers and replace operations.
	LockName = "write.lock"

	// DefaultLockTimeout is used by OpenWriter when no timeout is given.
	DefaultLockTimeout = 10 * time.Second
)

// Document is one indexed unit of text.
type Document struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Hit is a single search result from one partition.
type Hit struct {
	Partition string  `json:"partition"`
	ID        string  `json:"id"`
	Score     float64 `json:"score"`
	Content   string  `json:"content,omitempty"`
}

// PartitionStats describes the durable state of one partition.
type PartitionStats struct {
	Partition  string `json:"partition"`
	Exists     bool   `json:"exists"`
	Generation int64  `json:"generation"`
	DocCount   int    `json:"doc_count"`
	Locked     bool   `json:"locked"`
}

// IndexReader is a point-in-time read handle on one partition.
// It never observes commits made after it was opened; IsCurrent reports
// whether such commits exist.
type IndexReader interface {
	// Partition returns the partition the reader was opened on.
	Partition() string

	// Generation returns the commit generation the reader loaded.
	Generation() int64

	// IsCurrent reports whether the partition is still at the loaded generation.
	IsCurrent(ctx context.Context) (bool, error)

	// DocCount returns the number of documents in the snapshot.
	DocCount() int

	// Search runs a match query against the snapshot.
	Search(ctx context.Context, query string, limit int) ([]Hit, error)

	// Close releases the snapshot.
	Close() error
}

// Source supplies documents to copy into a store during a replace.
type Source interface {
	SubIndexes() []string
	Documents(ctx context.Context, partition string) ([]Document, error)
}

// Config configures a Store.
type Config struct {
	// Root is the directory holding one subdirectory per partition.
	Root string

	// Partitions is the fixed set of partition names.
	Partitions []string
}
