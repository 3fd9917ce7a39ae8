package util

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff describes an exponential retry schedule.
type Backoff struct {
	// MaxAttempts includes the first call. Values <= 0 mean a single attempt.
	MaxAttempts int
	Initial     time.Duration
	Multiplier  float64
	Max         time.Duration
	// Jitter spreads each delay by up to this fraction in both directions.
	Jitter float64
}

// DefaultBackoff is used by registry lookups and graph writes.
var DefaultBackoff = Backoff{
	MaxAttempts: 3,
	Initial:     200 * time.Millisecond,
	Multiplier:  2,
	Max:         5 * time.Second,
	Jitter:      0.2,
}

// Delay returns the wait before attempt n+1, where n counts failed attempts starting at 1.
func (b Backoff) Delay(n int) time.Duration {
	if n <= 0 || b.Initial <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Initial)
	for i := 1; i < n; i++ {
		d *= mult
		if b.Max > 0 && d >= float64(b.Max) {
			d = float64(b.Max)
			break
		}
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (rand.Float64()*2 - 1)
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}

// RetryWithBackoff calls fn until it succeeds, the attempt budget is spent, or retryable
// reports false for the returned error. A nil retryable retries every error.
// Only the cancellation of ctx itself stops the loop early; deadline errors from
// per-attempt contexts derived inside fn are treated like any other error.
// The returned int is the number of attempts made.
func RetryWithBackoff[T any](
	ctx context.Context,
	b Backoff,
	retryable func(error) bool,
	fn func(context.Context) (T, error),
) (T, int, error) {
	attempts := b.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var zero T
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return zero, i - 1, err
		}
		result, err := fn(ctx)
		if err == nil {
			return result, i, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, i, ctx.Err()
		}
		if retryable != nil && !retryable(err) {
			return zero, i, err
		}
		if i == attempts {
			break
		}
		if err := Sleep(ctx, b.Delay(i)); err != nil {
			return zero, i, err
		}
	}
	return zero, attempts, lastErr
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
