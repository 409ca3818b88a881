package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ssh-fleet/internal/logging"
	"ssh-fleet/internal/retry"
	"ssh-fleet/internal/target"
)

// ExecutorConfig holds configuration parameters for the executor
type ExecutorConfig struct {
	Threads   int           // Maximum number of workers
	MaxRetry  uint          // Retries per task after the first attempt
	OpTimeout time.Duration // Deadline for each attempt, 0 for none
	NewTimer  func() backoff.Timer
}

// Operation is the per-task work supplied by the caller. index is the
// task's position in the original list.
type Operation func(ctx context.Context, index int, task target.Task) error

// Observer is notified about task lifecycle events. Calls may come from
// several workers at once.
type Observer interface {
	TaskStarted(index int, task target.Task)
	TaskFinished(index int, task target.Task, err error, attempts int)
}

// Failure records one task that failed after all retries
type Failure struct {
	Index    int
	Task     target.Task
	Err      error
	Attempts int
}

// Summary is the outcome of one Execute call
type Summary struct {
	Total     int
	Workers   int
	Succeeded int
	Failed    []Failure
	Duration  time.Duration
}

// HasFailures reports whether any task failed
func (s *Summary) HasFailures() bool {
	return len(s.Failed) > 0
}

type job struct {
	index int
	task  target.Task
}

// WorkerPool runs one operation over a fixed task list with bounded concurrency
type WorkerPool struct {
	config    ExecutorConfig
	logger    *logging.Logger
	observers []Observer
}

// NewWorkerPool creates a pool. logger may be nil.
func NewWorkerPool(config ExecutorConfig, logger *logging.Logger, observers ...Observer) *WorkerPool {
	if logger == nil {
		logger = logging.Discard()
	}
	return &WorkerPool{
		config:    config,
		logger:    logger,
		observers: observers,
	}
}

// Workers returns the effective number of workers for a task count
func Workers(threads int, tasks int) int {
	if threads < tasks {
		return threads
	}
	return tasks
}

// Execute runs op for every task. A failing task is retried, logged and
// recorded in the summary; it never stops the remaining tasks. The returned
// error is only non-nil when the pool itself cannot run.
func (wp *WorkerPool) Execute(ctx context.Context, tasks []target.Task, op Operation) (*Summary, error) {
	if len(tasks) == 0 {
		return &Summary{}, nil
	}
	if wp.config.Threads < 1 {
		return nil, fmt.Errorf("threads must be at least 1, got %d", wp.config.Threads)
	}
	if op == nil {
		return nil, fmt.Errorf("operation is required")
	}

	workers := Workers(wp.config.Threads, len(tasks))
	wp.logger.LogExecutorStart(len(tasks), workers, wp.config.MaxRetry)
	start := time.Now()

	// every task is queued before any worker can see the channel closed
	queue := make(chan job, len(tasks))
	for i, task := range tasks {
		queue <- job{index: i, task: task}
	}
	close(queue)

	summary := &Summary{Total: len(tasks), Workers: workers}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := range queue {
				err, attempts := wp.run(ctx, worker, j, op)

				mu.Lock()
				if err != nil {
					summary.Failed = append(summary.Failed, Failure{Index: j.index, Task: j.task, Err: err, Attempts: attempts})
				} else {
					summary.Succeeded++
				}
				mu.Unlock()

				for _, o := range wp.observers {
					o.TaskFinished(j.index, j.task, err, attempts)
				}
			}
		}(w)
	}
	wg.Wait()

	sort.Slice(summary.Failed, func(a, b int) bool {
		return summary.Failed[a].Index < summary.Failed[b].Index
	})
	summary.Duration = time.Since(start)
	wp.logger.LogExecutorComplete(summary.Total, summary.Succeeded, len(summary.Failed), summary.Duration)

	return summary, nil
}

// run executes one task with retries and returns its final error
func (wp *WorkerPool) run(ctx context.Context, worker int, j job, op Operation) (error, int) {
	wp.logger.LogTaskStart(worker, j.index, j.task.Target)
	for _, o := range wp.observers {
		o.TaskStarted(j.index, j.task)
	}

	started := time.Now()
	attempts := 0
	err := retry.DoErr(ctx, retry.Config{
		MaxRetry: wp.config.MaxRetry,
		Label:    j.task.Label(),
		Logger:   wp.logger,
		NewTimer: wp.config.NewTimer,
	}, func(ctx context.Context) error {
		attempts++
		if wp.config.OpTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, wp.config.OpTimeout)
			defer cancel()
		}
		return wp.invoke(ctx, j, op)
	})

	if err != nil {
		wp.logger.LogTaskFailure(j.index, j.task.Target, attempts, err)
		return err, attempts
	}
	wp.logger.LogTaskSuccess(j.index, j.task.Target, attempts, time.Since(started))
	return nil, attempts
}

// invoke shields the pool from a panicking operation
func (wp *WorkerPool) invoke(ctx context.Context, j job, op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return op(ctx, j.index, j.task)
}

// Execute is a convenience wrapper around a one-shot WorkerPool
func Execute(ctx context.Context, config ExecutorConfig, logger *logging.Logger, tasks []target.Task, op Operation, observers ...Observer) (*Summary, error) {
	return NewWorkerPool(config, logger, observers...).Execute(ctx, tasks, op)
}
