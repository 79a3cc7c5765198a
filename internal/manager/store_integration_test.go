package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Aman-CERP/subindex/internal/errors"
	"github.com/Aman-CERP/subindex/internal/store"
)

func openRealManager(t *testing.T, root string, settings Settings, opts ...Option) *Manager {
	t.Helper()
	s, err := store.Open(store.Config{Root: root, Partitions: []string{"a", "b"}})
	require.NoError(t, err)
	m, err := New(s, settings, append([]Option{WithLogger(discardLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func addDocs(docs ...store.Document) func(*store.Writer) error {
	return func(w *store.Writer) error {
		w.Add(docs...)
		return nil
	}
}

func TestWrite_ThenAcquireSeesDocuments(t *testing.T) {
	// Given: a manager over an on-disk store
	clock := newFakeClock()
	m := openRealManager(t, t.TempDir(), intervalSettings(time.Second), WithClock(clock.Now))
	ctx := context.Background()
	require.NoError(t, m.Write(ctx, "a", addDocs(store.Document{ID: "1", Content: "parse config file"})))

	h, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, h.Reader().DocCount())
	require.NoError(t, m.Release(h))

	// When: writing more and acquiring after the interval
	require.NoError(t, m.Write(ctx, "a", addDocs(store.Document{ID: "2", Content: "render template"})))
	clock.Advance(2 * time.Second)
	fresh, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	defer func() { require.NoError(t, m.Release(fresh)) }()

	// Then: the currency check picked up the new generation
	assert.NotSame(t, h, fresh)
	assert.Equal(t, 2, fresh.Reader().DocCount())
	hits, err := fresh.Reader().Search(ctx, "template", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "2", hits[0].ID)
}

func TestWrite_FailureDiscardsAndUnlocks(t *testing.T) {
	m := openRealManager(t, t.TempDir(), neverSettings())
	ctx := context.Background()
	boom := errors.New("mapping failed")

	err := m.Write(ctx, "a", func(w *store.Writer) error {
		w.Add(store.Document{ID: "1", Content: "lost"})
		return boom
	})

	require.ErrorIs(t, err, boom)
	locked, err := m.IsPartitionLocked("a")
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, m.Write(ctx, "a", addDocs()))
	h, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, h.Reader().DocCount())
	require.NoError(t, m.Release(h))
}

func TestWrite_BlockedByOperate(t *testing.T) {
	// Given: an operation holding every write lock
	settings := neverSettings()
	settings.LockTimeout = 50 * time.Millisecond
	m := openRealManager(t, t.TempDir(), settings)
	ctx := context.Background()

	var writeErr error
	err := m.Operate(OperationFuncs{
		First: func() (bool, error) {
			// When: writing from inside the operation
			writeErr = m.Write(ctx, "a", addDocs(store.Document{ID: "1", Content: "x"}))
			return false, nil
		},
	})

	// Then: the write could not get the lock
	require.NoError(t, err)
	assert.True(t, errors.Is(writeErr, ierrors.ErrLockTimeout))
}

func TestReplace_CopiesSourceIntoEveryPartition(t *testing.T) {
	// Given: a live target and a freshly built source on disk
	ctx := context.Background()
	target := openRealManager(t, t.TempDir(), neverSettings())
	source := openRealManager(t, t.TempDir(), neverSettings())
	require.NoError(t, target.Write(ctx, "a", addDocs(store.Document{ID: "old", Content: "stale data"})))
	old, err := target.Acquire(ctx, "a")
	require.NoError(t, err)

	// When: replacing, building the source in the first step
	err = target.Replace(ctx, source, ReplaceFunc(func() error {
		if err := source.Write(ctx, "a", addDocs(store.Document{ID: "a1", Content: "alpha"})); err != nil {
			return err
		}
		return source.Write(ctx, "b", addDocs(
			store.Document{ID: "b1", Content: "beta"},
			store.Document{ID: "b2", Content: "gamma"},
		))
	}))
	require.NoError(t, err)

	// Then: the borrowed handle still reads the old snapshot
	assert.Equal(t, 1, old.Reader().DocCount())
	hits, err := old.Reader().Search(ctx, "stale", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	require.NoError(t, target.Release(old))

	// And: new acquisitions see the source contents in every partition
	for p, want := range map[string]int{"a": 1, "b": 2} {
		h, err := target.Acquire(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, want, h.Reader().DocCount(), p)
		require.NoError(t, target.Release(h))
	}
	docs, err := target.Store().Documents(ctx, "a")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a1", docs[0].ID)
}

func TestTwoInstances_ShareMarkers(t *testing.T) {
	// Given: two managers on the same directory tree
	root := t.TempDir()
	ctx := context.Background()
	m1 := openRealManager(t, root, neverSettings())
	m2 := openRealManager(t, root, neverSettings())
	require.NoError(t, m1.CreateIndex(ctx))
	require.NoError(t, m2.Start())
	cacheAll(t, m2)

	// When: the first replaces its contents through Operate
	err := m1.Operate(OperationFuncs{Second: func() error {
		return m1.Store().CopyFrom(ctx, m1.Store())
	}})
	require.NoError(t, err)

	// Then: the second drops both partitions on its next poll
	assert.True(t, m2.IsCached("a"))
	require.NoError(t, m2.CheckAndClearIfNotifiedAllToClearCache())
	assert.False(t, m2.IsCached("a"))
	assert.False(t, m2.IsCached("b"))
}
