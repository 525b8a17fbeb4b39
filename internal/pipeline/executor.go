package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
)

// Task is one unit of work handed to an executor
type Task struct {
	Source models.SourceFile
	Run    func(ctx context.Context) models.WorkerResult
}

// Future resolves to the result of a submitted task
type Future struct {
	done   chan struct{}
	result models.WorkerResult
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(result models.WorkerResult) {
	f.result = result
	close(f.done)
}

// Wait blocks until the task has finished or was cancelled
func (f *Future) Wait() models.WorkerResult {
	<-f.done
	return f.result
}

// Done is closed once the result is available
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Executor runs tasks with bounded parallelism
type Executor interface {
	Submit(ctx context.Context, task Task) *Future
	// Wait blocks until every submitted task has resolved
	Wait() error
}

// PoolExecutor bounds concurrency by memory: each task reserves its
// allowance from a weighted semaphore sized for the available slots
type PoolExecutor struct {
	sem       *semaphore.Weighted
	allowance int64
	group     errgroup.Group
	logger    *lib.Logger
}

// NewPoolExecutor creates an executor running at most slots tasks at once,
// each reserving allowanceBytes
func NewPoolExecutor(slots int, allowanceBytes int64, logger *lib.Logger) *PoolExecutor {
	if slots < 1 {
		slots = 1
	}
	if allowanceBytes < 1 {
		allowanceBytes = 1
	}
	logger.Debug("Executor ready", "slots", slots, "allowance_bytes", allowanceBytes)
	return &PoolExecutor{
		sem:       semaphore.NewWeighted(int64(slots) * allowanceBytes),
		allowance: allowanceBytes,
		logger:    logger,
	}
}

// Submit schedules task and returns immediately. If ctx is cancelled before
// the task gets a slot it resolves as cancelled without running.
func (e *PoolExecutor) Submit(ctx context.Context, task Task) *Future {
	future := newFuture()

	if err := ctx.Err(); err != nil {
		future.resolve(cancelledResult(task.Source, err))
		return future
	}

	e.group.Go(func() error {
		if err := e.sem.Acquire(ctx, e.allowance); err != nil {
			future.resolve(cancelledResult(task.Source, err))
			return nil
		}
		defer e.sem.Release(e.allowance)

		// Acquire can win the race against a cancellation that already happened.
		if err := ctx.Err(); err != nil {
			future.resolve(cancelledResult(task.Source, err))
			return nil
		}

		future.resolve(task.Run(ctx))
		return nil
	})
	return future
}

// Wait blocks until all submitted tasks have resolved
func (e *PoolExecutor) Wait() error {
	return e.group.Wait()
}

// cancelledResult is the result of a task that never ran
func cancelledResult(src models.SourceFile, cause error) models.WorkerResult {
	failure := lib.NewFileFailure(src, models.WorkerPending, lib.ErrCancelled(cause))
	failure.Timestamp = time.Now()
	return models.WorkerResult{
		Source:  src,
		State:   models.WorkerFailed,
		Failure: failure,
	}
}
