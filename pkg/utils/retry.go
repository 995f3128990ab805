package utils

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// DefaultRetryBase is the first backoff interval used by Retry.
const DefaultRetryBase = 500 * time.Millisecond

// Retry runs task until it succeeds, returns a non-retryable error, or
// maxRetries additional attempts have been made. Backoff is exponential with
// jitter starting at base (DefaultRetryBase when base <= 0). Context
// cancellation and deadline errors are never retried.
func Retry(ctx context.Context, maxRetries uint64, base time.Duration, task func(ctx context.Context) error) error {
	if base <= 0 {
		base = DefaultRetryBase
	}
	b := retry.NewExponential(base)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithMaxRetries(maxRetries, b)
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := task(ctx)
		if ShouldRetry(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// ShouldRetry reports whether err is worth another attempt. Nil errors and
// context cancellations or timeouts are not.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var p permanent
	return !errors.As(err, &p)
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err so that Retry returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}
