package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{MaxAttempts: 5, Initial: 100 * time.Millisecond, Multiplier: 2, Max: 350 * time.Millisecond}
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 350 * time.Millisecond},
		{7, 350 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.n); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestBackoff_DelayJitterStaysInRange(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Multiplier: 2, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		d := b.Delay(1)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", d)
		}
	}
}

func TestRetryWithBackoff_SuccessAfterRetries(t *testing.T) {
	b := Backoff{MaxAttempts: 4, Initial: time.Millisecond, Multiplier: 2}
	calls := 0
	got, attempts, err := RetryWithBackoff(context.Background(), b, nil, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got != "ok" || attempts != 3 {
		t.Fatalf("expected ok after 3 attempts, got %q after %d", got, attempts)
	}
}

func TestRetryWithBackoff_ExhaustsBudget(t *testing.T) {
	b := Backoff{MaxAttempts: 3, Initial: time.Millisecond}
	calls := 0
	_, attempts, err := RetryWithBackoff(context.Background(), b, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("down")
	})
	if err == nil || err.Error() != "down" {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 || attempts != 3 {
		t.Fatalf("expected 3 calls, got %d (attempts %d)", calls, attempts)
	}
}

func TestRetryWithBackoff_NonRetryableStops(t *testing.T) {
	permanent := errors.New("permanent")
	b := Backoff{MaxAttempts: 5, Initial: time.Millisecond}
	calls := 0
	_, _, err := RetryWithBackoff(context.Background(), b, func(err error) bool {
		return !errors.Is(err, permanent)
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryWithBackoff_AttemptTimeoutIsRetried(t *testing.T) {
	b := Backoff{MaxAttempts: 3, Initial: time.Millisecond}
	calls := 0
	_, _, err := RetryWithBackoff(context.Background(), b, nil, func(ctx context.Context) (int, error) {
		calls++
		attemptCtx, cancel := context.WithTimeout(ctx, time.Millisecond)
		defer cancel()
		<-attemptCtx.Done()
		return 0, attemptCtx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryWithBackoff_ParentCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := Backoff{MaxAttempts: 5, Initial: time.Hour}
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, _, err := RetryWithBackoff(ctx, b, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}
