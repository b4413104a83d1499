package embed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(5), func() error {
		calls++
		if calls < 3 {
			return pperrors.Newf(pperrors.ErrCodeRemoteTimeout, "transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_ExhaustionWrapsLastError(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(3), func() error {
		calls++
		return pperrors.Newf(pperrors.ErrCodeRemoteFailed, "still down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, pperrors.ErrCodeRemoteExhausted, pperrors.CodeOf(err))
}

func TestWithRetry_NonRetryableAbortsImmediately(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(5), func() error {
		calls++
		return pperrors.Newf(pperrors.ErrCodeConfigInvalid, "bad config")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, pperrors.ErrCodeConfigInvalid, pperrors.CodeOf(err))
}

func TestWithRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, fastRetry(5), func() error {
		return pperrors.Newf(pperrors.ErrCodeRemoteTimeout, "transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
