package manager

import (
	"time"

	"github.com/Aman-CERP/subindex/internal/directory"
)

// MarkerFile is the per-partition file whose modification time signals
// other processes to drop their cached handles.
const MarkerFile = "clearcache"

// InvalidationChannel broadcasts "clear your cache" to every process
// sharing a partition. Delivery is best effort and unacknowledged;
// observers poll LastSignal.
type InvalidationChannel interface {
	// Touch publishes a new signal for the partition.
	Touch(partition string) error

	// LastSignal returns the time of the latest signal, establishing a
	// baseline if the partition never had one.
	LastSignal(partition string) (time.Time, error)
}

// DirectoryResolver finds the directory of a partition.
type DirectoryResolver interface {
	Directory(partition string) (directory.Directory, error)
}

// markerChannel implements InvalidationChannel with the marker file's
// modification time.
type markerChannel struct {
	dirs DirectoryResolver
	now  func() time.Time
}

// NewMarkerChannel returns the marker file channel over the directories of
// resolver. A nil clock uses time.Now.
func NewMarkerChannel(resolver DirectoryResolver, now func() time.Time) InvalidationChannel {
	if now == nil {
		now = time.Now
	}
	return &markerChannel{dirs: resolver, now: now}
}

// Touch creates the marker if absent and otherwise moves its modification
// time forward. The new time is strictly after the previous one even when
// the clock has not advanced, so observers never miss a signal.
func (c *markerChannel) Touch(partition string) error {
	dir, err := c.dirs.Directory(partition)
	if err != nil {
		return err
	}
	exists, err := dir.FileExists(MarkerFile)
	if err != nil {
		return err
	}
	if !exists {
		return dir.CreateFile(MarkerFile)
	}

	prev, err := dir.FileModified(MarkerFile)
	if err != nil {
		return err
	}
	next := c.now()
	if !next.After(prev) {
		next = prev.Add(time.Millisecond)
	}
	return dir.TouchFile(MarkerFile, next)
}

// LastSignal returns the marker modification time, creating the marker
// when it does not exist yet.
func (c *markerChannel) LastSignal(partition string) (time.Time, error) {
	dir, err := c.dirs.Directory(partition)
	if err != nil {
		return time.Time{}, err
	}
	exists, err := dir.FileExists(MarkerFile)
	if err != nil {
		return time.Time{}, err
	}
	if !exists {
		if err := dir.CreateFile(MarkerFile); err != nil {
			return time.Time{}, err
		}
	}
	return dir.FileModified(MarkerFile)
}
