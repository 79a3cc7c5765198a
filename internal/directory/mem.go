package directory

import (
	"fmt"
	"sync"
	"time"
)

// MemDirectory is an in-process Directory.
// File contents are not kept, only existence and modification times,
// which is all the marker and lock protocols need.
type MemDirectory struct {
	name string
	now  func() time.Time

	mu    sync.Mutex
	files map[string]time.Time
	locks map[string]chan struct{}
}

// NewMemDirectory creates an empty in-memory directory.
// A nil clock uses time.Now.
func NewMemDirectory(name string, clock func() time.Time) *MemDirectory {
	if clock == nil {
		clock = time.Now
	}
	return &MemDirectory{
		name:  name,
		now:   clock,
		files: make(map[string]time.Time),
		locks: make(map[string]chan struct{}),
	}
}

// Path returns a mem:// identifier for the directory.
func (d *MemDirectory) Path() string {
	return "mem://" + d.name
}

// FileExists reports whether the named file exists.
func (d *MemDirectory) FileExists(name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.files[name]
	return ok, nil
}

// FileModified returns the modification time of the named file.
func (d *MemDirectory) FileModified(name string) (time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.files[name]
	if !ok {
		return time.Time{}, fmt.Errorf("%s: %w", name, ErrNotExist)
	}
	return t, nil
}

// CreateFile creates the named file with the current clock time.
func (d *MemDirectory) CreateFile(name string) error {
	now := d.now()
	d.mu.Lock()
	d.files[name] = now
	d.mu.Unlock()
	return nil
}

// TouchFile sets the modification time of the named file.
func (d *MemDirectory) TouchFile(name string, mtime time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[name]; !ok {
		return fmt.Errorf("%s: %w", name, ErrNotExist)
	}
	d.files[name] = mtime
	return nil
}

// DeleteFile removes the named file.
// Deleting a lock name also breaks the lock.
func (d *MemDirectory) DeleteFile(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, name)
	if sema, ok := d.locks[name]; ok {
		select {
		case <-sema:
		default:
		}
	}
	return nil
}

// MakeLock returns a new handle on the named lock.
func (d *MemDirectory) MakeLock(name string) Lock {
	d.mu.Lock()
	defer d.mu.Unlock()
	sema, ok := d.locks[name]
	if !ok {
		sema = make(chan struct{}, 1)
		d.locks[name] = sema
	}
	return &memLock{dir: d, name: name, sema: sema}
}

// Close is a no-op.
func (d *MemDirectory) Close() error {
	return nil
}

type memLock struct {
	dir  *MemDirectory
	name string
	sema chan struct{}

	mu     sync.Mutex
	locked bool
}

func (l *memLock) Obtain(timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locked {
		return nil
	}

	if timeout <= 0 {
		select {
		case l.sema <- struct{}{}:
		default:
			return fmt.Errorf("%s/%s: %w", l.dir.Path(), l.name, ErrLockHeld)
		}
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case l.sema <- struct{}{}:
		case <-timer.C:
			return fmt.Errorf("%s/%s: %w", l.dir.Path(), l.name, ErrLockHeld)
		}
	}

	l.locked = true
	now := l.dir.now()
	l.dir.mu.Lock()
	l.dir.files[l.name] = now
	l.dir.mu.Unlock()
	return nil
}

func (l *memLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked {
		return nil
	}
	l.locked = false
	select {
	case <-l.sema:
	default:
		// broken by DeleteFile
	}
	return nil
}

func (l *memLock) IsLocked() (bool, error) {
	return len(l.sema) > 0, nil
}
