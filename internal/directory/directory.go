// Package directory provides the storage capability a partition lives in:
// named files with modification times plus named exclusive locks.
//
// Two implementations are provided. FSDirectory is backed by a local
// directory and cross-process file locks (gofrs/flock). MemDirectory keeps
// everything in process and accepts an injectable clock, which makes it the
// directory of choice for tests.
package directory

import (
	"errors"
	"time"
)

// ErrLockHeld is returned by Lock.Obtain when the lock could not be taken
// before the timeout expired.
var ErrLockHeld = errors.New("lock held by another owner")

// ErrNotExist is returned for operations on files that do not exist.
var ErrNotExist = errors.New("file does not exist")

// Directory is a flat namespace of files and locks.
type Directory interface {
	// Path identifies the directory in logs and error details.
	Path() string

	// FileExists reports whether the named file exists.
	FileExists(name string) (bool, error)

	// FileModified returns the modification time of the named file.
	FileModified(name string) (time.Time, error)

	// CreateFile creates an empty file, truncating an existing one.
	CreateFile(name string) error

	// TouchFile sets the modification time of the named file.
	TouchFile(name string, mtime time.Time) error

	// DeleteFile removes the named file. Deleting a missing file is not an error.
	DeleteFile(name string) error

	// MakeLock returns a lock handle for name. The lock is not obtained.
	MakeLock(name string) Lock

	// Close releases resources held by the directory.
	Close() error
}

// Lock is an exclusive lock inside a Directory.
// Two handles returned by separate MakeLock calls exclude each other, even
// inside one process.
type Lock interface {
	// Obtain takes the lock, waiting up to timeout. A zero timeout tries once.
	// Returns an error wrapping ErrLockHeld when the lock stays taken.
	Obtain(timeout time.Duration) error

	// Release gives the lock up. Releasing a lock that is not held is a no-op.
	Release() error

	// IsLocked reports whether anyone currently holds the lock.
	IsLocked() (bool, error)
}
