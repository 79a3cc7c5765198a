package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/subindex/internal/directory"
)

func TestMarkerChannel_TouchCreatesThenAdvances(t *testing.T) {
	// Given: a partition without a marker
	clock := newFakeClock()
	s := newFakeStore(clock.Now, "p1")
	ch := NewMarkerChannel(s, clock.Now)

	// When: touching it
	require.NoError(t, ch.Touch("p1"))

	// Then: the marker exists with the current time
	created, err := s.dirs["p1"].FileModified(MarkerFile)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), created)

	// And: touching again without the clock moving still advances it
	require.NoError(t, ch.Touch("p1"))
	bumped, err := ch.LastSignal("p1")
	require.NoError(t, err)
	assert.True(t, bumped.After(created))

	clock.Advance(time.Minute)
	require.NoError(t, ch.Touch("p1"))
	latest, err := ch.LastSignal("p1")
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), latest)
}

func TestMarkerChannel_LastSignalCreatesMissingMarker(t *testing.T) {
	s := newFakeStore(nil, "p1")
	ch := NewMarkerChannel(s, nil)

	_, err := ch.LastSignal("p1")
	require.NoError(t, err)

	exists, err := s.dirs["p1"].FileExists(MarkerFile)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMarkerChannel_FSDirectory(t *testing.T) {
	// Given: a marker on disk
	dir, err := directory.NewFSDirectory(t.TempDir())
	require.NoError(t, err)
	ch := NewMarkerChannel(singleDir{dir}, nil)
	require.NoError(t, ch.Touch("p1"))
	before, err := ch.LastSignal("p1")
	require.NoError(t, err)

	// When: touching it again
	require.NoError(t, ch.Touch("p1"))

	// Then: its modification time moved forward
	after, err := ch.LastSignal("p1")
	require.NoError(t, err)
	assert.True(t, after.After(before))
}

type singleDir struct{ dir directory.Directory }

func (s singleDir) Directory(string) (directory.Directory, error) { return s.dir, nil }

func TestNotify_SecondManagerInvalidatesBothPartitions(t *testing.T) {
	// Given: two managers sharing partitions a and b, the second one started
	clock := newFakeClock()
	s := newFakeStore(clock.Now, "a", "b")
	m1 := newTestManager(t, s, neverSettings(), clock)
	m2 := newTestManager(t, s, neverSettings(), clock)
	require.NoError(t, m2.Start())
	ctx := context.Background()
	for _, p := range []string{"a", "b"} {
		h, err := m2.Acquire(ctx, p)
		require.NoError(t, err)
		require.NoError(t, m2.Release(h))
	}

	// When: the first manager notifies
	require.NoError(t, m1.NotifyAllToClearCache())

	// Then: nothing is invalidated before the second manager polls
	assert.True(t, m2.IsCached("a"))
	assert.True(t, m2.IsCached("b"))

	// And: its next poll invalidates both
	require.NoError(t, m2.CheckAndClearIfNotifiedAllToClearCache())
	assert.False(t, m2.IsCached("a"))
	assert.False(t, m2.IsCached("b"))
}

func TestCheckAndClear_OnlyAdvancedPartitions(t *testing.T) {
	// Given: a polling manager with every partition cached
	clock := newFakeClock()
	s := newFakeStore(clock.Now, "a", "b", "c")
	m1 := newTestManager(t, s, neverSettings(), clock)
	m2 := newTestManager(t, s, neverSettings(), clock)
	require.NoError(t, m2.CheckAndClearIfNotifiedAllToClearCache())
	ctx := context.Background()
	for _, p := range m2.SubIndexes() {
		h, err := m2.Acquire(ctx, p)
		require.NoError(t, err)
		require.NoError(t, m2.Release(h))
	}

	// When: only b's marker advances
	clock.Advance(time.Second)
	require.NoError(t, m1.channel.Touch("b"))
	require.NoError(t, m2.CheckAndClearIfNotifiedAllToClearCache())

	// Then: exactly b is invalidated
	assert.True(t, m2.IsCached("a"))
	assert.False(t, m2.IsCached("b"))
	assert.True(t, m2.IsCached("c"))

	// And: a second poll without new signals changes nothing
	h, err := m2.Acquire(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, m2.Release(h))
	require.NoError(t, m2.CheckAndClearIfNotifiedAllToClearCache())
	assert.True(t, m2.IsCached("b"))
}

func TestCheckAndClear_FirstCallOnlyRecordsBaseline(t *testing.T) {
	// Given: a marker touched before the manager ever polled
	clock := newFakeClock()
	s := newFakeStore(clock.Now, "a")
	m1 := newTestManager(t, s, neverSettings(), clock)
	m2 := newTestManager(t, s, neverSettings(), clock)
	require.NoError(t, m1.NotifyAllToClearCache())
	h, err := m2.Acquire(context.Background(), "a")
	require.NoError(t, err)
	require.NoError(t, m2.Release(h))

	// When: the second manager polls for the first time
	require.NoError(t, m2.CheckAndClearIfNotifiedAllToClearCache())

	// Then: the earlier signal is taken as the baseline
	assert.True(t, m2.IsCached("a"))
}

func TestNotify_ClearsOwnCacheOnNextPoll(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, newFakeStore(clock.Now, "a"), neverSettings(), clock)
	require.NoError(t, m.Start())
	h, err := m.Acquire(context.Background(), "a")
	require.NoError(t, err)
	require.NoError(t, m.Release(h))

	require.NoError(t, m.NotifyAllToClearCache())
	require.NoError(t, m.CheckAndClearIfNotifiedAllToClearCache())

	assert.False(t, m.IsCached("a"))
}

// brokenChannel fails for one partition.
type brokenChannel struct {
	InvalidationChannel
	broken string
}

var errMarker = errors.New("marker unreadable")

func (c brokenChannel) Touch(p string) error {
	if p == c.broken {
		return errMarker
	}
	return c.InvalidationChannel.Touch(p)
}

func (c brokenChannel) LastSignal(p string) (time.Time, error) {
	if p == c.broken {
		return time.Time{}, errMarker
	}
	return c.InvalidationChannel.LastSignal(p)
}

func TestNotify_AttemptsEveryPartition(t *testing.T) {
	// Given: a channel failing for partition a
	clock := newFakeClock()
	s := newFakeStore(clock.Now, "a", "b")
	ch := brokenChannel{InvalidationChannel: NewMarkerChannel(s, clock.Now), broken: "a"}
	m, err := New(s, neverSettings(), WithLogger(discardLogger()), WithClock(clock.Now), WithInvalidationChannel(ch))
	require.NoError(t, err)
	defer m.Close()

	// When: notifying
	err = m.NotifyAllToClearCache()

	// Then: the failure is reported and b was still touched
	require.Error(t, err)
	assert.True(t, errors.Is(err, errMarker))
	exists, err := s.dirs["b"].FileExists(MarkerFile)
	require.NoError(t, err)
	assert.True(t, exists)

	// And: a baseline cannot be primed while a marker is unreadable
	require.Error(t, m.Start())
	assert.False(t, m.IsRunning())
}
