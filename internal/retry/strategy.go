package retry

import (
	"context"
	"log/slog"
)

// Strategy defines the interface for retry strategies
type Strategy interface {
	// Execute runs the operation with the configured retry logic
	Execute(ctx context.Context, name string, operation Operation) error

	// Name returns the name of the strategy for logging
	Name() string
}

// Operation is a function that can be retried. attempt starts at 0.
type Operation func(ctx context.Context, attempt int) error

// Classifier decides whether an error is worth another attempt
type Classifier func(err error) bool

// Always retries every error until attempts run out
func Always(err error) bool {
	return err != nil
}

// Do runs a value-returning operation through s and returns the value of the
// first successful attempt
func Do[T any](ctx context.Context, s Strategy, name string, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var result T
	err := s.Execute(ctx, name, func(ctx context.Context, attempt int) error {
		v, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// NewStrategy creates a retry strategy based on configuration
func NewStrategy(config Config, classify Classifier) Strategy {
	if !config.Enabled {
		slog.Info("Retry disabled, using NoRetryStrategy")
		return NewNoRetryStrategy()
	}

	slog.Debug("Retry enabled, using ExponentialBackoffStrategy",
		"max_attempts", config.MaxAttempts,
		"initial_delay", config.InitialDelay,
		"max_delay", config.MaxDelay,
	)

	return NewExponentialBackoffStrategy(
		config.MaxAttempts,
		config.InitialDelay,
		config.MaxDelay,
		classify,
	)
}
