package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimer records every requested wait and fires immediately
type fakeTimer struct {
	delays []time.Duration
	c      chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{c: make(chan time.Time, 1)}
}

func (f *fakeTimer) Start(d time.Duration) {
	f.delays = append(f.delays, d)
	f.c <- time.Now()
}

func (f *fakeTimer) Stop() {}

func (f *fakeTimer) C() <-chan time.Time { return f.c }

func TestDelay(t *testing.T) {
	assert.Equal(t, time.Second, Delay(0))
	assert.Equal(t, 2*time.Second, Delay(1))
	assert.Equal(t, 8*time.Second, Delay(3))
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	for _, n := range []uint{1, 2, 3, 5} {
		timer := newFakeTimer()
		calls := 0

		got, err := Do(context.Background(), Config{
			MaxRetry: n,
			Label:    "flaky",
			NewTimer: func() backoff.Timer { return timer },
		}, func(ctx context.Context) (int, error) {
			calls++
			if calls <= int(n) {
				return 0, errors.New("boom")
			}
			return 42, nil
		})

		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, int(n)+1, calls)

		want := make([]time.Duration, 0, n)
		for i := 0; i < int(n); i++ {
			want = append(want, Delay(i))
		}
		assert.Equal(t, want, timer.delays)
	}
}

func TestDoZeroRetriesRunsOnce(t *testing.T) {
	timer := newFakeTimer()
	calls := 0

	err := DoErr(context.Background(), Config{
		NewTimer: func() backoff.Timer { return timer },
	}, func(ctx context.Context) error {
		calls++
		return errors.New("nope")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, timer.delays)
	assert.EqualError(t, err, "nope (after 1 attempt)")
}

func TestDoSurfacesLastError(t *testing.T) {
	timer := newFakeTimer()
	calls := 0
	last := errors.New("third failure")

	err := DoErr(context.Background(), Config{
		MaxRetry: 2,
		NewTimer: func() backoff.Timer { return timer },
	}, func(ctx context.Context) error {
		calls++
		if calls == 3 {
			return last
		}
		return errors.New("earlier failure")
	})

	assert.ErrorIs(t, err, last)
	assert.ErrorContains(t, err, "(after 3 attempts)")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, timer.delays)
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0

	err := DoErr(ctx, Config{MaxRetry: 5}, func(ctx context.Context) error {
		calls++
		return errors.New("down")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

// blockingTimer never fires; the wait only ends through the context
type blockingTimer struct {
	started chan time.Duration
	c       chan time.Time
}

func (b *blockingTimer) Start(d time.Duration) { b.started <- d }
func (b *blockingTimer) Stop()                 {}
func (b *blockingTimer) C() <-chan time.Time   { return b.c }

func TestDoCancelledDuringWaitKeepsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	timer := &blockingTimer{started: make(chan time.Duration, 1), c: make(chan time.Time)}
	go func() {
		<-timer.started
		cancel()
	}()

	err := DoErr(ctx, Config{
		MaxRetry: 3,
		NewTimer: func() backoff.Timer { return timer },
	}, func(ctx context.Context) error {
		return errors.New("connection refused")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorContains(t, err, "last error: connection refused")
	assert.ErrorContains(t, err, "(after 1 attempt)")
}
