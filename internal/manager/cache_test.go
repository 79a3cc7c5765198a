package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Aman-CERP/subindex/internal/errors"
)

func neverSettings() Settings {
	s := DefaultSettings()
	s.InvalidationInterval = InvalidationNever
	return s
}

func intervalSettings(d time.Duration) Settings {
	s := DefaultSettings()
	s.InvalidationInterval = d
	return s
}

func TestAcquire_NeverInterval_ReturnsSameEntry(t *testing.T) {
	// Given: a manager that never re-checks cached handles
	clock := newFakeClock()
	s := newFakeStore(clock.Now, "p1")
	m := newTestManager(t, s, neverSettings(), clock)
	ctx := context.Background()

	// When: acquiring repeatedly, across writes and time
	h1, err := m.Acquire(ctx, "p1")
	require.NoError(t, err)
	s.commit("p1")
	clock.Advance(time.Hour)
	h2, err := m.Acquire(ctx, "p1")
	require.NoError(t, err)

	// Then: the same entry is served and opened once
	assert.Same(t, h1, h2)
	assert.Equal(t, 1, s.openCount())
	assert.Equal(t, 2, h1.refCount)
	require.NoError(t, m.Release(h1))
	require.NoError(t, m.Release(h2))
}

func TestRelease_RefCountNeverNegative(t *testing.T) {
	// Given: a handle acquired once
	m := newTestManager(t, newFakeStore(nil, "p1"), neverSettings(), nil)
	h, err := m.Acquire(context.Background(), "p1")
	require.NoError(t, err)

	// When: releasing twice
	require.NoError(t, m.Release(h))
	err = m.Release(h)

	// Then: the second release is rejected and the count stays at zero
	require.Error(t, err)
	assert.True(t, errors.Is(err, ierrors.ErrHandleReleased))
	assert.Equal(t, 0, h.refCount)
	assert.True(t, m.IsCached("p1"), "an unmarked handle stays cached")
	assert.Equal(t, int32(0), readerOf(t, h).closes.Load())
}

func TestRelease_ClosesOnlyWhenMarkedAndUnreferenced(t *testing.T) {
	// Given: a handle borrowed twice
	m := newTestManager(t, newFakeStore(nil, "p1"), neverSettings(), nil)
	ctx := context.Background()
	h, err := m.Acquire(ctx, "p1")
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "p1")
	require.NoError(t, err)
	r := readerOf(t, h)

	// When: the cache drops it while borrowed
	require.NoError(t, m.ClearPartitionCache("p1"))

	// Then: it stays open until the last release
	assert.False(t, m.IsCached("p1"))
	assert.True(t, h.markedForClose)
	assert.Equal(t, int32(0), r.closes.Load())

	require.NoError(t, m.Release(h))
	assert.Equal(t, int32(0), r.closes.Load())

	require.NoError(t, m.Release(h))
	assert.Equal(t, int32(1), r.closes.Load())

	// And: a further release neither closes again nor goes negative
	require.Error(t, m.Release(h))
	assert.Equal(t, int32(1), r.closes.Load())
	assert.Equal(t, 0, h.refCount)
}

func TestClearPartitionCache_ClosesIdleHandleNow(t *testing.T) {
	// Given: a cached handle nobody borrows
	m := newTestManager(t, newFakeStore(nil, "p1", "p2"), neverSettings(), nil)
	ctx := context.Background()
	h, err := m.Acquire(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, m.Release(h))
	other, err := m.Acquire(ctx, "p2")
	require.NoError(t, err)

	// When: clearing one partition
	require.NoError(t, m.ClearPartitionCache("p1"))

	// Then: its handle is closed at once and the other partition is untouched
	assert.Equal(t, int32(1), readerOf(t, h).closes.Load())
	assert.False(t, m.IsCached("p1"))
	assert.True(t, m.IsCached("p2"))
	assert.True(t, m.IsAnyCached())
	require.NoError(t, m.Release(other))
}

func TestClearCache_AllPartitions(t *testing.T) {
	m := newTestManager(t, newFakeStore(nil, "a", "b", "c"), neverSettings(), nil)
	ctx := context.Background()
	for _, p := range m.SubIndexes() {
		h, err := m.Acquire(ctx, p)
		require.NoError(t, err)
		require.NoError(t, m.Release(h))
	}
	require.True(t, m.IsAnyCached())

	require.NoError(t, m.ClearCache())

	assert.False(t, m.IsAnyCached())
}

func TestAcquire_StaleReader_ReplacesWithoutClosingBorrowed(t *testing.T) {
	// Given: a borrowed handle and a local write
	clock := newFakeClock()
	s := newFakeStore(clock.Now, "p1")
	m := newTestManager(t, s, intervalSettings(time.Second), clock)
	ctx := context.Background()

	old, err := m.Acquire(ctx, "p1")
	require.NoError(t, err)
	s.commit("p1")

	// When: acquiring after the interval elapsed
	clock.Advance(2 * time.Second)
	fresh, err := m.Acquire(ctx, "p1")
	require.NoError(t, err)

	// Then: a new entry is installed and the old one waits for its borrower
	assert.NotSame(t, old, fresh)
	assert.Equal(t, 2, s.openCount())
	assert.True(t, old.markedForClose)
	assert.Equal(t, int32(0), readerOf(t, old).closes.Load())

	require.NoError(t, m.Release(old))
	assert.Equal(t, int32(1), readerOf(t, old).closes.Load())
	assert.Equal(t, int32(0), readerOf(t, fresh).closes.Load())
	require.NoError(t, m.Release(fresh))
}

func TestAcquire_CurrentHandleSurvivesCheck(t *testing.T) {
	clock := newFakeClock()
	s := newFakeStore(clock.Now, "p1")
	m := newTestManager(t, s, intervalSettings(time.Second), clock)
	ctx := context.Background()

	h1, err := m.Acquire(ctx, "p1")
	require.NoError(t, err)
	clock.Advance(5 * time.Second)
	h2, err := m.Acquire(ctx, "p1")
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, clock.Now(), h1.lastInvalidationCheck, "the check restarts the throttle window")
	require.NoError(t, m.Release(h1))
	require.NoError(t, m.Release(h2))
}

func TestAcquire_IntervalScenario(t *testing.T) {
	// Given: p1 with a 1000ms invalidation interval
	clock := newFakeClock()
	s := newFakeStore(clock.Now, "p1")
	m := newTestManager(t, s, intervalSettings(1000*time.Millisecond), clock)
	ctx := context.Background()

	// t=0: the first acquisition creates the entry
	first, err := m.Acquire(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, m.Release(first))

	// t=10: a local write makes the reader not current
	clock.Advance(10 * time.Millisecond)
	s.commit("p1")
	current, err := first.Reader().IsCurrent(ctx)
	require.NoError(t, err)
	require.False(t, current)

	// t=500: interval not elapsed, the stale entry is still served
	clock.Advance(490 * time.Millisecond)
	second, err := m.Acquire(ctx, "p1")
	require.NoError(t, err)
	assert.Same(t, first, second)
	require.NoError(t, m.Release(second))

	// t=1100: interval elapsed, the check triggers a new entry
	clock.Advance(600 * time.Millisecond)
	third, err := m.Acquire(ctx, "p1")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, int32(1), readerOf(t, first).closes.Load())
	require.NoError(t, m.Release(third))
}

func TestAcquire_IntervalIsStrict(t *testing.T) {
	// Given: a stale handle exactly one interval old
	clock := newFakeClock()
	s := newFakeStore(clock.Now, "p1")
	m := newTestManager(t, s, intervalSettings(time.Second), clock)
	ctx := context.Background()
	h, err := m.Acquire(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, m.Release(h))
	s.commit("p1")

	// When: acquiring at exactly the interval
	clock.Advance(time.Second)
	same, err := m.Acquire(ctx, "p1")
	require.NoError(t, err)

	// Then: the gate has not passed yet
	assert.Same(t, h, same)
	require.NoError(t, m.Release(same))
}

func TestAcquire_OpenFailure(t *testing.T) {
	// Given: a store whose readers cannot be opened
	s := newFakeStore(nil, "p1")
	s.openErr = errors.New("disk on fire")
	m := newTestManager(t, s, neverSettings(), nil)

	// When: acquiring
	_, err := m.Acquire(context.Background(), "p1")

	// Then: the failure is a store I/O error with partition context
	require.Error(t, err)
	assert.True(t, errors.Is(err, ierrors.ErrStoreIO))
	var ie *ierrors.IndexError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "p1", ie.Details["partition"])
	assert.False(t, m.IsCached("p1"))
}

func TestAcquire_UnknownPartition(t *testing.T) {
	m := newTestManager(t, newFakeStore(nil, "p1"), neverSettings(), nil)

	_, err := m.Acquire(context.Background(), "nope")
	assert.True(t, errors.Is(err, ierrors.ErrUnknownPartition))
	assert.True(t, errors.Is(m.ClearPartitionCache("nope"), ierrors.ErrUnknownPartition))
	assert.False(t, m.IsCached("nope"))
}

func TestRefreshCache_InstallsReader(t *testing.T) {
	// Given: a borrowed handle
	s := newFakeStore(nil, "p1")
	m := newTestManager(t, s, neverSettings(), nil)
	ctx := context.Background()
	old, err := m.Acquire(ctx, "p1")
	require.NoError(t, err)

	// When: refreshing with a caller-opened reader
	reader := &fakeReader{store: s, partition: "p1", generation: 7}
	require.NoError(t, m.RefreshCache("p1", reader))

	// Then: the next acquisition serves it and the old handle closes on release
	h, err := m.Acquire(ctx, "p1")
	require.NoError(t, err)
	assert.Same(t, reader, h.Reader())
	assert.Equal(t, int32(0), readerOf(t, old).closes.Load())
	require.NoError(t, m.Release(old))
	assert.Equal(t, int32(1), readerOf(t, old).closes.Load())
	require.NoError(t, m.Release(h))
}

func TestAcquireRelease_Concurrent(t *testing.T) {
	// Given: many goroutines borrowing while the cache keeps being cleared
	s := newFakeStore(nil, "a", "b")
	m, err := New(s, intervalSettings(time.Millisecond), WithLogger(discardLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := m.SubIndexes()[i%2]
			for j := 0; j < 100; j++ {
				h, err := m.Acquire(ctx, p)
				if !assert.NoError(t, err) {
					return
				}
				if j%10 == 0 {
					s.commit(p)
				}
				assert.NoError(t, m.Release(h))
			}
		}()
	}
	for i := 0; i < 20; i++ {
		_ = m.ClearCache()
	}
	wg.Wait()

	// When: closing the manager
	require.NoError(t, m.Close())

	// Then: every reader ever opened was closed exactly once
	for _, r := range s.allReaders() {
		assert.Equal(t, int32(1), r.closes.Load())
	}
}
