package manager

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	ierrors "github.com/Aman-CERP/subindex/internal/errors"
)

// CommitAction commits one unit of work, typically one partition.
type CommitAction func() error

// commitStrategy runs a batch of commit actions. It is chosen once when
// the manager is built.
type commitStrategy interface {
	mode(batch int) string
	execute(actions []CommitAction) error
	stop()
}

// runAction turns a panicking action into an error.
func runAction(a CommitAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("commit action panicked: %v", r)
		}
	}()
	return a()
}

// serialCommitter runs actions in order and stops at the first failure.
type serialCommitter struct{}

func (serialCommitter) mode(int) string { return "serial" }

func (serialCommitter) execute(actions []CommitAction) error {
	for _, a := range actions {
		if err := runAction(a); err != nil {
			return ierrors.CommitExecutionError(err)
		}
	}
	return nil
}

func (serialCommitter) stop() {}

// concurrentCommitter runs batches larger than threshold on a bounded pool
// shared by all callers. Every action runs even when an earlier one fails;
// the failure of the lowest-indexed failing action is reported. Smaller
// batches fall back to serial execution.
type concurrentCommitter struct {
	threshold int
	workers   int64
	sema      *semaphore.Weighted
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func newConcurrentCommitter(threshold, workers int, logger *slog.Logger) *concurrentCommitter {
	ctx, cancel := context.WithCancel(context.Background())
	return &concurrentCommitter{
		threshold: threshold,
		workers:   int64(workers),
		sema:      semaphore.NewWeighted(int64(workers)),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (c *concurrentCommitter) mode(batch int) string {
	if batch > c.threshold {
		return "concurrent"
	}
	return "serial"
}

func (c *concurrentCommitter) execute(actions []CommitAction) error {
	if len(actions) <= c.threshold {
		return serialCommitter{}.execute(actions)
	}

	errs := make([]error, len(actions))
	var g errgroup.Group
	for i, a := range actions {
		g.Go(func() error {
			if err := c.sema.Acquire(c.ctx, 1); err != nil {
				errs[i] = ierrors.InterruptedWaitError("execute_commit")
				return nil
			}
			defer c.sema.Release(1)
			errs[i] = runAction(a)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-c.ctx.Done():
		c.logger.Warn("commit_wait_interrupted", slog.Int("actions", len(actions)))
		return ierrors.InterruptedWaitError("execute_commit")
	}

	for i, err := range errs {
		if err != nil {
			c.logger.Debug("commit_action_failed",
				slog.Int("index", i),
				slog.String("error", err.Error()))
			return ierrors.CommitExecutionError(err)
		}
	}
	return nil
}

func (c *concurrentCommitter) stop() {
	c.cancel()
}

// newCommitStrategy picks the strategy for a store with the given number
// of partitions.
func newCommitStrategy(s Settings, allowConcurrent bool, partitions int, logger *slog.Logger) commitStrategy {
	if !allowConcurrent || !s.EnableConcurrentCommit {
		logger.Debug("concurrent_commit_disabled",
			slog.Bool("store_allows", allowConcurrent),
			slog.Bool("enabled", s.EnableConcurrentCommit))
		return serialCommitter{}
	}

	workers := s.MaxConcurrentCommitThreads
	if partitions < workers {
		workers = partitions
	}
	if workers <= 0 {
		logger.Debug("concurrent_commit_disabled", slog.Int("max_threads", workers))
		return serialCommitter{}
	}

	logger.Debug("concurrent_commit_enabled",
		slog.Int("max_threads", workers),
		slog.Int("threshold", s.ConcurrentCommitThreshold))
	return newConcurrentCommitter(s.ConcurrentCommitThreshold, workers, logger)
}
