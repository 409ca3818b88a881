// Package retry runs fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ssh-fleet/internal/logging"
)

// Config controls a single retried call
type Config struct {
	// MaxRetry is the number of retries after the first attempt. 0 means one attempt.
	MaxRetry uint
	// Label identifies the operation in log lines
	Label string
	// Logger receives one line per retry and one for the final failure. Optional.
	Logger *logging.Logger
	// NewTimer overrides the sleep between attempts. Tests use it to skip real waits.
	NewTimer func() backoff.Timer
}

// Delay returns the wait before retry number attempt (0-based): 1s, 2s, 4s, ...
func Delay(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// newBackOff doubles from one second with no jitter and no cap
func newBackOff(ctx context.Context, maxRetry uint) backoff.BackOff {
	if maxRetry == 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     time.Second,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Duration(math.MaxInt64),
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetry)), ctx)
}

// Do runs op up to cfg.MaxRetry+1 times and returns the first success.
// Every error is treated as retryable. The final error reports how many
// attempts were made. A context cancelled while waiting keeps the last
// operation error in the message.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := 0
	var lastErr error
	operation := func() (T, error) {
		attempts++
		result, err := op(ctx)
		lastErr = err
		return result, err
	}

	notify := func(err error, wait time.Duration) {
		if cfg.Logger != nil {
			cfg.Logger.LogRetry(cfg.Label, attempts, wait, err)
		}
	}

	var timer backoff.Timer
	if cfg.NewTimer != nil {
		timer = cfg.NewTimer()
	}

	result, err := backoff.RetryNotifyWithTimerAndData(operation, newBackOff(ctx, cfg.MaxRetry), notify, timer)
	if err != nil {
		if cfg.Logger != nil {
			cfg.Logger.LogRetryExhausted(cfg.Label, attempts, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) && lastErr != nil && !errors.Is(lastErr, ctxErr) {
			err = fmt.Errorf("%w: last error: %v", err, lastErr)
		}
		return result, fmt.Errorf("%w (%s)", err, attemptsLabel(attempts))
	}
	return result, nil
}

func attemptsLabel(n int) string {
	if n == 1 {
		return "after 1 attempt"
	}
	return fmt.Sprintf("after %d attempts", n)
}

// DoErr is Do for operations without a result value
func DoErr(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	_, err := Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
