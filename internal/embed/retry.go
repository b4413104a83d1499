package embed

import (
	"context"
	"strconv"
	"time"

	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
)

// RetryConfig configures retry behavior for provider calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// Multiplier grows the delay between attempts.
	Multiplier float64
}

// DefaultRetryConfig is the provider-call baseline: five attempts with
// exponential backoff between one and thirty seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// WithRetry executes fn with exponential backoff. Non-retryable errors abort
// immediately; context cancellation wins over any pending delay. When all
// attempts fail the last error is wrapped as REMOTE_EXHAUSTED.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !pperrors.IsRetryable(err) || attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	if pperrors.IsRetryable(lastErr) {
		return pperrors.Wrap(pperrors.ErrCodeRemoteExhausted, lastErr).
			WithDetail("attempts", strconv.Itoa(cfg.MaxAttempts))
	}
	return lastErr
}
