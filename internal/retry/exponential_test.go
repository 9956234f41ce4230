package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponentialBackoffStrategy_Success(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(3, 10*time.Millisecond, 100*time.Millisecond, nil)

	err := strategy.Execute(context.Background(), "test", func(ctx context.Context, attempt int) error {
		return nil // Success on first try
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}

func TestExponentialBackoffStrategy_SuccessAfterRetries(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(5, 10*time.Millisecond, 100*time.Millisecond, nil)

	attempts := 0
	err := strategy.Execute(context.Background(), "test", func(ctx context.Context, attempt int) error {
		if attempt != attempts {
			t.Errorf("Expected attempt index %d, got %d", attempts, attempt)
		}
		attempts++
		if attempts < 3 {
			return errors.New("connection reset by peer") // Recoverable error
		}
		return nil // Success on 3rd attempt
	})

	if err != nil {
		t.Errorf("Expected no error after retries, got: %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestExponentialBackoffStrategy_NonRecoverableError(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(5, 10*time.Millisecond, 100*time.Millisecond, nil)

	attempts := 0
	err := strategy.Execute(context.Background(), "test", func(ctx context.Context, attempt int) error {
		attempts++
		return errors.New("invalid data") // Non-recoverable error
	})

	if err == nil {
		t.Error("Expected error for non-recoverable failure")
	}

	if attempts != 1 {
		t.Errorf("Expected only 1 attempt for non-recoverable error, got: %d", attempts)
	}
}

func TestExponentialBackoffStrategy_MaxAttemptsExceeded(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(3, 10*time.Millisecond, 100*time.Millisecond, nil)

	sentinel := errors.New("connection refused")
	attempts := 0
	err := strategy.Execute(context.Background(), "test", func(ctx context.Context, attempt int) error {
		attempts++
		return sentinel // Always fail with recoverable error
	})

	if err == nil {
		t.Error("Expected error after max attempts exceeded")
	}

	if !errors.Is(err, sentinel) {
		t.Errorf("Expected final error to wrap the last failure, got: %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestExponentialBackoffStrategy_DelayDoubles(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(4, 20*time.Millisecond, time.Second, Always)

	var stamps []time.Time
	_ = strategy.Execute(context.Background(), "test", func(ctx context.Context, attempt int) error {
		stamps = append(stamps, time.Now())
		return errors.New("still failing")
	})

	if len(stamps) != 4 {
		t.Fatalf("Expected 4 attempts, got: %d", len(stamps))
	}

	// waits of 20ms, 40ms, 80ms
	minimums := []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond}
	for i, min := range minimums {
		gap := stamps[i+1].Sub(stamps[i])
		if gap < min {
			t.Errorf("Gap %d was %v, expected at least %v", i, gap, min)
		}
	}
}

func TestExponentialBackoffStrategy_ContextCancellation(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(10, 100*time.Millisecond, 1*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := strategy.Execute(ctx, "test", func(ctx context.Context, attempt int) error {
		attempts++
		return errors.New("timeout") // Recoverable error
	})

	if err == nil {
		t.Error("Expected error due to context cancellation")
	}

	// Should have attempted at least once
	if attempts < 1 {
		t.Errorf("Expected at least 1 attempt, got: %d", attempts)
	}
}

func TestDo_ReturnsValue(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(3, time.Millisecond, 10*time.Millisecond, Always)

	value, err := Do(context.Background(), strategy, "test", func(ctx context.Context, attempt int) (string, error) {
		if attempt == 0 {
			return "", errors.New("first attempt fails")
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if value != "ok" {
		t.Errorf("Expected value ok, got: %q", value)
	}
}

func TestNoRetryStrategy_RunsOnce(t *testing.T) {
	strategy := NewStrategy(Config{Enabled: false}, nil)

	attempts := 0
	err := strategy.Execute(context.Background(), "test", func(ctx context.Context, attempt int) error {
		attempts++
		return errors.New("timeout")
	})

	if err == nil {
		t.Error("Expected error")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
	if strategy.Name() != "NoRetry" {
		t.Errorf("Expected NoRetry strategy, got: %s", strategy.Name())
	}
}

func TestIsRecoverableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"timeout", errors.New("i/o timeout"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"connection refused", errors.New("connection refused"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"gateway", errors.New("replica answered 502 Bad Gateway"), true},
		{"invalid data", errors.New("invalid data format"), false},
		{"permission denied", errors.New("permission denied"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRecoverableError(tt.err)
			if result != tt.expected {
				t.Errorf("IsRecoverableError(%v) = %v, expected %v", tt.err, result, tt.expected)
			}
		})
	}
}
