package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
}

func TestDoRetriesRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("not yet"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	perm := errors.New("permanent")
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return perm
	})
	if !errors.Is(err, perm) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoWithResultExhausts(t *testing.T) {
	calls := 0
	_, err := DoWithResult(context.Background(), fastConfig(4), func() (int, error) {
		calls++
		return 0, Retryable(errors.New("missing"))
	})
	if !IsRetryable(err) {
		t.Fatalf("expected last retryable error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Fixed(time.Hour, 3), func() error {
		return Retryable(errors.New("again"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFixedBackoff(t *testing.T) {
	cfg := Fixed(500*time.Millisecond, 8)
	for attempt := 1; attempt <= 8; attempt++ {
		if got := cfg.Backoff(attempt); got != 500*time.Millisecond {
			t.Errorf("Backoff(%d) = %v, want 500ms", attempt, got)
		}
	}
	if cfg.MaxAttempts != 8 {
		t.Errorf("MaxAttempts = %d", cfg.MaxAttempts)
	}
}

func TestExponentialBackoffCapped(t *testing.T) {
	cfg := Config{InitialWait: 100 * time.Millisecond, MaxWait: time.Second, Multiplier: 2}
	if got := cfg.Backoff(3); got != 400*time.Millisecond {
		t.Errorf("Backoff(3) = %v", got)
	}
	if got := cfg.Backoff(10); got != time.Second {
		t.Errorf("Backoff(10) = %v, want cap", got)
	}
}
