package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// DefaultLockRetryDelay is how often a waiting Obtain retries the file lock.
const DefaultLockRetryDelay = 50 * time.Millisecond

// FSDirectory is a Directory backed by a local filesystem directory.
// Locks are advisory flock(2) style locks from gofrs/flock and exclude other
// processes as well as other handles in this process.
type FSDirectory struct {
	path       string
	retryDelay time.Duration
}

// NewFSDirectory opens the directory at path, creating it if needed.
func NewFSDirectory(path string) (*FSDirectory, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return &FSDirectory{
		path:       path,
		retryDelay: DefaultLockRetryDelay,
	}, nil
}

// SetLockRetryDelay changes how often waiting locks retry.
func (d *FSDirectory) SetLockRetryDelay(delay time.Duration) {
	if delay > 0 {
		d.retryDelay = delay
	}
}

// Path returns the directory path.
func (d *FSDirectory) Path() string {
	return d.path
}

func (d *FSDirectory) file(name string) string {
	return filepath.Join(d.path, name)
}

// FileExists reports whether the named file exists.
func (d *FSDirectory) FileExists(name string) (bool, error) {
	_, err := os.Stat(d.file(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// FileModified returns the modification time of the named file.
func (d *FSDirectory) FileModified(name string) (time.Time, error) {
	info, err := os.Stat(d.file(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, fmt.Errorf("%s: %w", name, ErrNotExist)
		}
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// CreateFile creates an empty file, truncating an existing one.
func (d *FSDirectory) CreateFile(name string) error {
	f, err := os.Create(d.file(name))
	if err != nil {
		return err
	}
	return f.Close()
}

// TouchFile sets the modification time of the named file.
func (d *FSDirectory) TouchFile(name string, mtime time.Time) error {
	err := os.Chtimes(d.file(name), mtime, mtime)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, ErrNotExist)
	}
	return err
}

// DeleteFile removes the named file.
func (d *FSDirectory) DeleteFile(name string) error {
	err := os.Remove(d.file(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MakeLock returns a new lock handle for the named lock file.
func (d *FSDirectory) MakeLock(name string) Lock {
	path := d.file(name)
	return &fsLock{
		path:       path,
		flock:      flock.New(path),
		retryDelay: d.retryDelay,
	}
}

// Close is a no-op; lock handles are released by their owners.
func (d *FSDirectory) Close() error {
	return nil
}

type fsLock struct {
	path       string
	flock      *flock.Flock
	retryDelay time.Duration

	mu     sync.Mutex
	locked bool
}

func (l *fsLock) Obtain(timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locked {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	var (
		acquired bool
		err      error
	)
	if timeout <= 0 {
		acquired, err = l.flock.TryLock()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		acquired, err = l.flock.TryLockContext(ctx, l.retryDelay)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", l.path, err)
	}
	if !acquired {
		return fmt.Errorf("%s: %w", l.path, ErrLockHeld)
	}

	l.locked = true
	return nil
}

func (l *fsLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.path, err)
	}
	return nil
}

func (l *fsLock) IsLocked() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locked {
		return true, nil
	}
	if _, err := os.Stat(l.path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	// Test with a throwaway handle so this one stays unlocked.
	other := flock.New(l.path)
	acquired, err := other.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to test lock %s: %w", l.path, err)
	}
	if acquired {
		_ = other.Unlock()
		return false, nil
	}
	return true, nil
}
