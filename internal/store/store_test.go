package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Aman-CERP/subindex/internal/errors"
)

func newTestStore(t *testing.T, partitions ...string) *Store {
	t.Helper()
	if len(partitions) == 0 {
		partitions = []string{"p1", "p2"}
	}
	s, err := Open(Config{Root: t.TempDir(), Partitions: partitions})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeDocs(t *testing.T, s *Store, partition string, docs ...Document) int64 {
	t.Helper()
	ctx := context.Background()
	w, err := s.OpenWriter(ctx, partition, time.Second)
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close()) }()
	w.Add(docs...)
	gen, err := w.Commit(ctx)
	require.NoError(t, err)
	return gen
}

func TestOpen_ValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing root", Config{Partitions: []string{"a"}}},
		{"no partitions", Config{Root: t.TempDir()}},
		{"empty partition", Config{Root: t.TempDir(), Partitions: []string{""}}},
		{"path separator", Config{Root: t.TempDir(), Partitions: []string{"a/b"}}},
		{"duplicate", Config{Root: t.TempDir(), Partitions: []string{"a", "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.cfg)
			require.Error(t, err)
			assert.Equal(t, ierrors.ErrCodeInvalidInput, ierrors.GetCode(err))
		})
	}
}

func TestStore_OpenReader_MissingIndex(t *testing.T) {
	// Given: a store with no segments yet
	s := newTestStore(t)

	// When: opening a reader
	_, err := s.OpenReader(context.Background(), "p1")

	// Then: the index is reported missing
	require.Error(t, err)
	assert.True(t, errors.Is(err, ierrors.ErrIndexNotFound))
}

func TestStore_UnknownPartition(t *testing.T) {
	s := newTestStore(t)

	_, err := s.OpenReader(context.Background(), "nope")
	assert.True(t, errors.Is(err, ierrors.ErrUnknownPartition))

	_, err = s.Directory("nope")
	assert.True(t, errors.Is(err, ierrors.ErrUnknownPartition))
}

func TestStore_WriteThenRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Given: two committed documents
	gen := writeDocs(t, s, "p1",
		Document{ID: "d1", Content: "parseHTTPRequest reads the request line"},
		Document{ID: "d2", Content: "write_lock guards the partition"},
	)
	assert.Positive(t, gen)

	// When: opening a reader
	r, err := s.OpenReader(ctx, "p1")
	require.NoError(t, err)
	defer r.Close()

	// Then: the snapshot matches the commit
	assert.Equal(t, "p1", r.Partition())
	assert.Equal(t, gen, r.Generation())
	assert.Equal(t, 2, r.DocCount())

	hits, err := r.Search(ctx, "http", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d1", hits[0].ID)
	assert.Equal(t, "p1", hits[0].Partition)
	assert.Contains(t, hits[0].Content, "parseHTTPRequest")

	hits, err = r.Search(ctx, "lock", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d2", hits[0].ID)
}

func TestReader_IsCurrent_TracksCommits(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	writeDocs(t, s, "p1", Document{ID: "d1", Content: "alpha"})

	r, err := s.OpenReader(ctx, "p1")
	require.NoError(t, err)
	defer r.Close()

	current, err := r.IsCurrent(ctx)
	require.NoError(t, err)
	assert.True(t, current)

	// When: another commit lands
	writeDocs(t, s, "p1", Document{ID: "d2", Content: "beta"})

	// Then: the reader is stale but still sees its snapshot
	current, err = r.IsCurrent(ctx)
	require.NoError(t, err)
	assert.False(t, current)
	assert.Equal(t, 1, r.DocCount())
}

func TestReader_SeesOtherStoreInstanceCommits(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cfg := Config{Root: root, Partitions: []string{"p1"}}

	a, err := Open(cfg)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(cfg)
	require.NoError(t, err)
	defer b.Close()

	writeDocs(t, a, "p1", Document{ID: "d1", Content: "alpha"})
	r, err := b.OpenReader(ctx, "p1")
	require.NoError(t, err)
	defer r.Close()

	// When: the first instance commits again
	writeDocs(t, a, "p1", Document{ID: "d2", Content: "beta"})

	// Then: the second instance's reader notices
	current, err := r.IsCurrent(ctx)
	require.NoError(t, err)
	assert.False(t, current)
}

func TestReader_SearchEdgeCases(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	writeDocs(t, s, "p1", Document{ID: "d1", Content: "alpha"})

	r, err := s.OpenReader(ctx, "p1")
	require.NoError(t, err)

	hits, err := r.Search(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.Search(ctx, "alpha", 10)
	assert.Error(t, err)
}

func TestWriter_DeleteAndDeleteAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first := writeDocs(t, s, "p1",
		Document{ID: "d1", Content: "alpha"},
		Document{ID: "d2", Content: "beta"},
		Document{ID: "d3", Content: "gamma"},
	)

	w, err := s.OpenWriter(ctx, "p1", time.Second)
	require.NoError(t, err)
	w.Delete("d2")
	assert.Equal(t, 1, w.Pending())
	_, err = w.Commit(ctx)
	require.NoError(t, err)

	docs, err := s.Documents(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []Document{{ID: "d1", Content: "alpha"}, {ID: "d3", Content: "gamma"}}, docs)

	w.DeleteAll()
	w.Add(Document{ID: "d9", Content: "omega"})
	gen, err := w.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, first+2, gen)
	require.NoError(t, w.Close())

	docs, err = s.Documents(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []Document{{ID: "d9", Content: "omega"}}, docs)
}

func TestWriter_EmptyCommitKeepsGeneration(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first := writeDocs(t, s, "p1", Document{ID: "d1", Content: "alpha"})

	w, err := s.OpenWriter(ctx, "p1", time.Second)
	require.NoError(t, err)
	defer w.Close()

	gen, err := w.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, gen)
}

func TestWriter_ClosedWriterRejectsCommit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	w, err := s.OpenWriter(ctx, "p1", time.Second)
	require.NoError(t, err)
	w.Add(Document{ID: "d1", Content: "alpha"})
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Commit(ctx)
	assert.Error(t, err)
}

func TestOpenWriter_LockTimeout(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Given: a writer holding the lock
	w, err := s.OpenWriter(ctx, "p1", time.Second)
	require.NoError(t, err)
	defer w.Close()

	locked, err := s.IsLocked("p1")
	require.NoError(t, err)
	assert.True(t, locked)

	// When: a second writer tries briefly
	_, err = s.OpenWriter(ctx, "p1", 50*time.Millisecond)

	// Then: it fails with a retryable lock timeout
	require.Error(t, err)
	assert.True(t, errors.Is(err, ierrors.ErrLockTimeout))
	assert.True(t, ierrors.IsRetryable(err))

	// And: the other partition is unaffected
	w2, err := s.OpenWriter(ctx, "p2", 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w2.Close())
}

func TestStore_ReleaseLock_BreaksStaleLock(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	w, err := s.OpenWriter(ctx, "p1", time.Second)
	require.NoError(t, err)
	defer w.Close()

	// When: forcibly releasing
	require.NoError(t, s.ReleaseLock("p1"))

	// Then: a new writer gets in
	w2, err := s.OpenWriter(ctx, "p1", 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w2.Close())
}

func TestStore_CopyFrom_ReplacesEveryPartition(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	dst := newTestStore(t)

	writeDocs(t, src, "p1", Document{ID: "s1", Content: "source one"})
	writeDocs(t, src, "p2", Document{ID: "s2", Content: "source two"})
	before := writeDocs(t, dst, "p1", Document{ID: "old", Content: "stale"})

	// When: copying
	require.NoError(t, dst.CopyFrom(ctx, src))

	// Then: destination mirrors source and generations moved
	docs, err := dst.Documents(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []Document{{ID: "s1", Content: "source one"}}, docs)

	docs, err = dst.Documents(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, []Document{{ID: "s2", Content: "source two"}}, docs)

	st, err := dst.Stats(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, before+1, st.Generation)
	assert.Equal(t, 1, st.DocCount)
}

func TestStore_CopyFrom_EmptySourcePartition(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	dst := newTestStore(t)
	writeDocs(t, dst, "p1", Document{ID: "old", Content: "stale"})

	require.NoError(t, dst.CopyFrom(ctx, src))

	docs, err := dst.Documents(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestStore_IndexLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	exists, err := s.IndexExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	// When: verifying, missing partitions get created
	created, err := s.VerifyIndex(ctx)
	require.NoError(t, err)
	assert.True(t, created)

	exists, err = s.IndexExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	created, err = s.VerifyIndex(ctx)
	require.NoError(t, err)
	assert.False(t, created)

	// When: creating over existing data, it starts empty
	writeDocs(t, s, "p1", Document{ID: "d1", Content: "alpha"})
	require.NoError(t, s.CreateIndex(ctx))
	docs, err := s.Documents(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, docs)

	// When: deleting
	require.NoError(t, s.DeleteIndex(ctx))
	exists, err = s.IndexExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_PerformScheduledTasks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// No open partitions: nothing to do
	require.NoError(t, s.PerformScheduledTasks(ctx))

	writeDocs(t, s, "p1", Document{ID: "d1", Content: "alpha"})
	require.NoError(t, s.PerformScheduledTasks(ctx))
}

func TestStore_PartitionFor_IsStable(t *testing.T) {
	s := newTestStore(t, "a", "b", "c")

	first := s.PartitionFor("doc-42")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.PartitionFor("doc-42"))
	}
	assert.Contains(t, s.SubIndexes(), first)
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	writeDocs(t, s, "p1", Document{ID: "d1", Content: "alpha"})

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.OpenReader(ctx, "p1")
	assert.Error(t, err)
}

func TestStore_CreateIndex_GenerationKeepsIncreasing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Given: a reader over a committed document
	gen := writeDocs(t, s, "p1", Document{ID: "old", Content: "alpha"})
	r, err := s.OpenReader(ctx, "p1")
	require.NoError(t, err)
	defer r.Close()

	// When: the index is recreated and one document is committed
	require.NoError(t, s.CreateIndex(ctx))
	st, err := s.Stats(ctx, "p1")
	require.NoError(t, err)
	assert.Greater(t, st.Generation, gen)
	after := writeDocs(t, s, "p1", Document{ID: "new", Content: "beta"})

	// Then: no generation is reused and the old reader is stale
	assert.Greater(t, after, st.Generation)
	current, err := r.IsCurrent(ctx)
	require.NoError(t, err)
	assert.False(t, current)
}

func TestStore_DeleteIndex_NewDatabaseStartsAboveOld(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	gen := writeDocs(t, s, "p1", Document{ID: "old", Content: "alpha"})
	r, err := s.OpenReader(ctx, "p1")
	require.NoError(t, err)
	defer r.Close()

	// When: deleted, then written again from scratch
	require.NoError(t, s.DeleteIndex(ctx))
	current, err := r.IsCurrent(ctx)
	require.NoError(t, err)
	assert.False(t, current, "deleted partition is never current")

	after := writeDocs(t, s, "p1", Document{ID: "new", Content: "beta"})

	// Then: the new database counts on from above the old one
	assert.Greater(t, after, gen)
	current, err = r.IsCurrent(ctx)
	require.NoError(t, err)
	assert.False(t, current)
}

func TestStore_TwoInstances_RecreateKeepsWritesShared(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	open := func() *Store {
		s, err := Open(Config{Root: root, Partitions: []string{"p1"}})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	a, b := open(), open()

	// Given: instance a wrote a document
	writeDocs(t, a, "p1", Document{ID: "d1", Content: "alpha"})

	// When: instance b recreates the index and a writes again
	require.NoError(t, b.CreateIndex(ctx))
	writeDocs(t, a, "p1", Document{ID: "d2", Content: "beta"})

	// Then: both instances see exactly the write made after the recreate
	for name, s := range map[string]*Store{"a": a, "b": b} {
		docs, err := s.Documents(ctx, "p1")
		require.NoError(t, err, name)
		assert.Equal(t, []Document{{ID: "d2", Content: "beta"}}, docs, name)
	}
}

func TestStore_TwoInstances_DeleteThenWriteFollowsNewFile(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	open := func() *Store {
		s, err := Open(Config{Root: root, Partitions: []string{"p1"}})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	a, b := open(), open()
	writeDocs(t, a, "p1", Document{ID: "d1", Content: "alpha"})

	// When: instance b deletes the index, then a writes
	require.NoError(t, b.DeleteIndex(ctx))
	writeDocs(t, a, "p1", Document{ID: "d2", Content: "beta"})

	// Then: the write landed in the file b sees
	docs, err := b.Documents(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []Document{{ID: "d2", Content: "beta"}}, docs)
}
