package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

// ExponentialBackoffStrategy implements retry with exponential backoff:
// the wait before attempt n+1 is initialDelay * 2^n, capped at maxDelay
type ExponentialBackoffStrategy struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	classify     Classifier
}

// NewExponentialBackoffStrategy creates a new ExponentialBackoffStrategy.
// maxAttempts counts the first try; a nil classifier uses IsRecoverableError.
func NewExponentialBackoffStrategy(maxAttempts int, initialDelay, maxDelay time.Duration, classify Classifier) *ExponentialBackoffStrategy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if classify == nil {
		classify = IsRecoverableError
	}
	if maxDelay < initialDelay {
		maxDelay = initialDelay
	}
	return &ExponentialBackoffStrategy{
		maxAttempts:  maxAttempts,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		classify:     classify,
	}
}

// Execute runs the operation with exponential backoff retry logic
func (s *ExponentialBackoffStrategy) Execute(ctx context.Context, name string, operation Operation) error {
	var lastErr error
	delay := s.initialDelay

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%s: context cancelled during retry: %w", name, lastErr)
			}
			return err
		}

		err := operation(ctx, attempt)

		// Success case
		if err == nil {
			if attempt > 0 {
				slog.Info("Operation succeeded after retry",
					"operation", name,
					"attempt", attempt+1,
					"max_attempts", s.maxAttempts)
			}
			return nil
		}

		lastErr = err

		// Check if error is recoverable
		if !s.classify(err) {
			slog.Debug("Non-recoverable error, failing immediately",
				"operation", name,
				"error", err,
				"attempt", attempt+1)
			return err
		}

		// If this was the last attempt, return error
		if attempt+1 >= s.maxAttempts {
			break
		}

		slog.Warn("Operation failed, retrying with exponential backoff",
			"operation", name,
			"attempt", attempt+1,
			"max_attempts", s.maxAttempts,
			"retry_in_ms", delay.Milliseconds(),
			"error", err)

		// Wait with exponential backoff
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: context cancelled during retry: %w", name, lastErr)
		case <-timer.C:
			delay *= 2
			if delay > s.maxDelay {
				delay = s.maxDelay
			}
		}
	}

	if s.maxAttempts == 1 {
		return lastErr
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, s.maxAttempts, lastErr)
}

// Name returns the strategy name
func (s *ExponentialBackoffStrategy) Name() string {
	return "ExponentialBackoff"
}

// IsRecoverableError determines if an error is recoverable and worth retrying
func IsRecoverableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())

	// Network errors that are typically recoverable
	recoverablePatterns := []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"broken pipe",
		"i/o timeout",
		"eof",
		"tls handshake timeout",
		"no such host",
		"connection timed out",
		"dial tcp",
		"read: connection reset",
		"write: broken pipe",
		"503 service unavailable",
		"502 bad gateway",
		"429 too many requests",
	}

	for _, pattern := range recoverablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
