package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssh-fleet/internal/target"
)

type instantTimer struct{ c chan time.Time }

func (t *instantTimer) Start(time.Duration) { t.c <- time.Now() }
func (t *instantTimer) Stop()               {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

func newInstantTimer() backoff.Timer {
	return &instantTimer{c: make(chan time.Time, 1)}
}

type recorder struct {
	mu       sync.Mutex
	started  []int
	finished map[int]error
	attempts map[int]int
}

func newRecorder() *recorder {
	return &recorder{finished: map[int]error{}, attempts: map[int]int{}}
}

func (r *recorder) TaskStarted(index int, _ target.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, index)
}

func (r *recorder) TaskFinished(index int, _ target.Task, err error, attempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[index] = err
	r.attempts[index] = attempts
}

func makeTasks(n int) []target.Task {
	tasks := make([]target.Task, n)
	for i := range tasks {
		name := fmt.Sprintf("srv-%d", i)
		tasks[i] = target.Task{
			Name:   name,
			Target: target.Target{Name: name, User: "root", Host: name, Port: 22, Auth: target.AuthAgent},
		}
	}
	return tasks
}

func TestWorkers(t *testing.T) {
	assert.Equal(t, 2, Workers(2, 10))
	assert.Equal(t, 3, Workers(8, 3))
	assert.Equal(t, 1, Workers(1, 1))
}

func TestExecuteRunsEveryTaskOnce(t *testing.T) {
	tasks := makeTasks(25)
	var mu sync.Mutex
	seen := map[int]int{}

	summary, err := Execute(context.Background(), ExecutorConfig{Threads: 4}, nil, tasks,
		func(ctx context.Context, index int, task target.Task) error {
			mu.Lock()
			defer mu.Unlock()
			seen[index]++
			assert.Equal(t, tasks[index].Name, task.Name)
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 25, summary.Total)
	assert.Equal(t, 4, summary.Workers)
	assert.Equal(t, 25, summary.Succeeded)
	assert.False(t, summary.HasFailures())
	require.Len(t, seen, 25)
	for i := 0; i < 25; i++ {
		assert.Equal(t, 1, seen[i], "task %d", i)
	}
}

func TestExecuteBuiltTasks(t *testing.T) {
	servers := map[string]target.Target{
		"web1": {User: "deploy", Host: "10.0.0.1", Port: 22, Auth: target.AuthAgent},
		"web2": {User: "deploy", Host: "10.0.0.2", Port: 22, Auth: target.AuthAgent},
		"db1":  {User: "deploy", Host: "10.0.0.3", Port: 2222, Auth: target.AuthKey, IdentityFile: "/keys/id_ed25519"},
	}
	tasks, err := target.BuildTasks(servers, nil)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	var mu sync.Mutex
	var indices []int
	names := map[string]bool{}

	summary, err := Execute(context.Background(), ExecutorConfig{Threads: 2, MaxRetry: 0}, nil, tasks,
		func(ctx context.Context, index int, task target.Task) error {
			mu.Lock()
			defer mu.Unlock()
			indices = append(indices, index)
			names[task.Name] = true
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Workers)
	assert.Equal(t, 3, summary.Succeeded)
	assert.ElementsMatch(t, []int{0, 1, 2}, indices)
	assert.Equal(t, map[string]bool{"web1": true, "web2": true, "db1": true}, names)
}

func TestExecuteBoundsConcurrency(t *testing.T) {
	var running, peak int32

	_, err := Execute(context.Background(), ExecutorConfig{Threads: 3}, nil, makeTasks(12),
		func(ctx context.Context, index int, task target.Task) error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})

	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestExecuteIsolatesFailures(t *testing.T) {
	rec := newRecorder()
	tasks := makeTasks(3)

	summary, err := Execute(context.Background(), ExecutorConfig{Threads: 2, MaxRetry: 2, NewTimer: newInstantTimer}, nil, tasks,
		func(ctx context.Context, index int, task target.Task) error {
			if task.Name == "srv-1" {
				return errors.New("unreachable")
			}
			return nil
		}, rec)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, 1, summary.Failed[0].Index)
	assert.Equal(t, 3, summary.Failed[0].Attempts)
	assert.ErrorContains(t, summary.Failed[0].Err, "unreachable")

	assert.Len(t, rec.started, 3)
	assert.Len(t, rec.finished, 3)
	assert.NoError(t, rec.finished[0])
	assert.Error(t, rec.finished[1])
	assert.Equal(t, 1, rec.attempts[2])
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	var calls int32

	summary, err := Execute(context.Background(), ExecutorConfig{Threads: 1, MaxRetry: 3, NewTimer: newInstantTimer}, nil, makeTasks(1),
		func(ctx context.Context, index int, task target.Task) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("flaky")
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, int32(3), calls)
}

func TestExecuteRecoversPanics(t *testing.T) {
	summary, err := Execute(context.Background(), ExecutorConfig{Threads: 2}, nil, makeTasks(2),
		func(ctx context.Context, index int, task target.Task) error {
			if index == 0 {
				panic("bad operation")
			}
			return nil
		})

	require.NoError(t, err)
	require.Len(t, summary.Failed, 1)
	assert.ErrorContains(t, summary.Failed[0].Err, "task panic: bad operation")
}

func TestExecuteAppliesOpTimeout(t *testing.T) {
	summary, err := Execute(context.Background(), ExecutorConfig{Threads: 1, OpTimeout: 10 * time.Millisecond}, nil, makeTasks(1),
		func(ctx context.Context, index int, task target.Task) error {
			<-ctx.Done()
			return ctx.Err()
		})

	require.NoError(t, err)
	require.Len(t, summary.Failed, 1)
	assert.ErrorIs(t, summary.Failed[0].Err, context.DeadlineExceeded)
}

func TestExecuteSetupErrors(t *testing.T) {
	noop := func(ctx context.Context, index int, task target.Task) error { return nil }

	summary, err := Execute(context.Background(), ExecutorConfig{Threads: 0}, nil, nil, noop)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)

	_, err = Execute(context.Background(), ExecutorConfig{Threads: 0}, nil, makeTasks(1), noop)
	assert.ErrorContains(t, err, "threads must be at least 1")

	_, err = Execute(context.Background(), ExecutorConfig{Threads: 1}, nil, makeTasks(1), nil)
	assert.Error(t, err)
}
