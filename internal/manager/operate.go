package manager

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Aman-CERP/subindex/internal/directory"
	ierrors "github.com/Aman-CERP/subindex/internal/errors"
	"github.com/Aman-CERP/subindex/internal/store"
)

// OperationCallback is the caller side of Operate.
type OperationCallback interface {
	// FirstStep runs with every write lock held. Returning false ends the
	// operation without touching any cache.
	FirstStep() (bool, error)

	// SecondStep runs after every cache was invalidated, still under the
	// write locks.
	SecondStep() error
}

// OperationFuncs adapts a pair of functions to OperationCallback.
// A nil First always continues and a nil Second does nothing.
type OperationFuncs struct {
	First  func() (bool, error)
	Second func() error
}

// FirstStep implements OperationCallback.
func (f OperationFuncs) FirstStep() (bool, error) {
	if f.First == nil {
		return true, nil
	}
	return f.First()
}

// SecondStep implements OperationCallback.
func (f OperationFuncs) SecondStep() error {
	if f.Second == nil {
		return nil
	}
	return f.Second()
}

// ReplaceCallback is the caller side of Replace.
type ReplaceCallback interface {
	// BuildIndexIfNeeded prepares the source index. It runs with the
	// write locks of the target held.
	BuildIndexIfNeeded() error
}

// ReplaceFunc adapts a function to ReplaceCallback.
type ReplaceFunc func() error

// BuildIndexIfNeeded implements ReplaceCallback.
func (f ReplaceFunc) BuildIndexIfNeeded() error {
	if f == nil {
		return nil
	}
	return f()
}

// SetWaitForCacheInvalidationBeforeSecondStep toggles the propagation wait
// of Operate at runtime.
func (m *Manager) SetWaitForCacheInvalidationBeforeSecondStep(wait bool) {
	m.waitBeforeSecondStep.Store(wait)
}

// Operate runs the two-phase protocol:
//
//  1. obtain the write lock of every partition, in SubIndexes order
//  2. run FirstStep; stop if it returns false
//  3. clear the local cache and notify every other process
//  4. optionally wait CacheInvalidationWait for them to poll
//  5. run SecondStep
//
// The locks obtained are always released, whatever the outcome.
//
// The wait in step 4 is a window, not a barrier: a process that has not
// polled its marker by then keeps serving its old handles while
// SecondStep runs.
func (m *Manager) Operate(cb OperationCallback) (err error) {
	if m.closed.Load() {
		return ierrors.ClosedError("operate")
	}
	if cb == nil {
		return ierrors.ValidationError("operation callback is nil", nil)
	}

	start := time.Now()
	res := "ok"
	defer func() {
		if err != nil {
			res = "error"
		}
		m.metrics.Operated(res, time.Since(start))
	}()

	locks := make([]heldLock, 0, len(m.partitions))
	defer func() {
		if releaseErr := m.releaseHeld(locks); releaseErr != nil {
			if err == nil {
				err = releaseErr
			} else {
				m.logger.Warn("lock_release_failed_after_error",
					slog.String("error", releaseErr.Error()),
					slog.String("primary_error", err.Error()))
			}
		}
	}()

	for _, p := range m.partitions {
		lock, err := m.obtainWriteLock(p)
		if err != nil {
			m.logger.Warn("operate_lock_failed",
				slog.String("partition", p),
				slog.Int("held", len(locks)),
				slog.String("error", err.Error()))
			return err
		}
		locks = append(locks, heldLock{partition: p, lock: lock})
	}
	m.logger.Debug("operate_locks_obtained", slog.Int("partitions", len(locks)))

	proceed, err := cb.FirstStep()
	if err != nil {
		return stepError("first_step", err)
	}
	if !proceed {
		res = "skipped"
		m.logger.Debug("operate_skipped")
		return nil
	}

	m.clearAll("operate")
	if err := m.notifyAll(); err != nil {
		return err
	}

	if wait := m.settings.CacheInvalidationWait; wait > 0 && m.waitBeforeSecondStep.Load() {
		m.logger.Debug("operate_waiting_for_invalidation", slog.Duration("wait", wait))
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-m.shutdown:
			timer.Stop()
			return ierrors.InterruptedWaitError("operate")
		}
	}

	if err := cb.SecondStep(); err != nil {
		return stepError("second_step", err)
	}
	m.logger.Info("operate_completed",
		slog.Int("partitions", len(locks)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Replace swaps the contents of every partition with those of source,
// under the Operate protocol. cb runs first and may build source.
func (m *Manager) Replace(ctx context.Context, source *Manager, cb ReplaceCallback) error {
	if source == nil {
		return ierrors.ValidationError("source manager is nil", nil)
	}
	if source.closed.Load() {
		return ierrors.ClosedError("replace")
	}

	return m.Operate(OperationFuncs{
		First: func() (bool, error) {
			if cb != nil {
				if err := cb.BuildIndexIfNeeded(); err != nil {
					return false, err
				}
			}
			return true, nil
		},
		Second: func() error {
			return m.store.CopyFrom(ctx, source.store)
		},
	})
}

type heldLock struct {
	partition string
	lock      directory.Lock
}

func (m *Manager) obtainWriteLock(partition string) (directory.Lock, error) {
	dir, err := m.store.Directory(partition)
	if err != nil {
		return nil, err
	}
	lock := dir.MakeLock(store.LockName)
	if err := lock.Obtain(m.settings.LockTimeout); err != nil {
		if errors.Is(err, directory.ErrLockHeld) {
			return nil, ierrors.LockTimeoutError(partition, err).WithOperation("operate")
		}
		return nil, ierrors.StoreIOError(partition, "failed to obtain write lock", err).
			WithOperation("operate")
	}
	return lock, nil
}

// releaseHeld releases every lock once. Every lock is attempted; the
// first failure is returned and the rest are logged.
func (m *Manager) releaseHeld(locks []heldLock) error {
	var firstErr error
	for _, l := range locks {
		if err := l.lock.Release(); err != nil {
			m.logger.Warn("lock_release_failed",
				slog.String("partition", l.partition),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = ierrors.StoreIOError(l.partition, "failed to release write lock", err).
					WithOperation("operate")
			}
		}
	}
	return firstErr
}

// stepError keeps an IndexError from a callback and wraps anything else.
func stepError(step string, err error) error {
	var ie *ierrors.IndexError
	if errors.As(err, &ie) {
		return err
	}
	return ierrors.New(ierrors.ErrCodeIndexFailed, step+" failed", err).WithOperation("operate")
}
