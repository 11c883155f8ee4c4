package secretstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// TestWithRetryEventualSuccess retries transient failures until the
// operation succeeds.
func TestWithRetryEventualSuccess(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	attempts := 0
	err := WithRetry(context.Background(), log, "flaky", fastRetryPolicy(5), func() error {
		attempts++
		if attempts < 3 {
			return interfaces.NewTransientNetworkError("flaky", errors.New("connection reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

// TestWithRetryStopsOnFatal returns a non-retryable error immediately.
func TestWithRetryStopsOnFatal(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	attempts := 0
	err := WithRetry(context.Background(), log, "fatal", fastRetryPolicy(5), func() error {
		attempts++
		return interfaces.NewNotFoundError("secret/data/gone", nil)
	})
	require.Error(t, err)
	assert.True(t, interfaces.IsNotFoundError(err))
	assert.Equal(t, 1, attempts)
}

// TestWithRetryAttemptBound stops after MaxAttempts and returns the last
// error.
func TestWithRetryAttemptBound(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	attempts := 0
	err := WithRetry(context.Background(), log, "always-down", fastRetryPolicy(4), func() error {
		attempts++
		return interfaces.NewTransientNetworkError("always-down", errors.New("timeout"))
	})
	require.Error(t, err)
	assert.True(t, interfaces.IsTransientNetworkError(err))
	assert.Equal(t, 4, attempts)
}

// TestWithRetrySealedIsRetryable treats a sealed store as a condition
// worth waiting out.
func TestWithRetrySealedIsRetryable(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	attempts := 0
	err := WithRetry(context.Background(), log, "sealed", fastRetryPolicy(3), func() error {
		attempts++
		return interfaces.NewSealedStoreError(nil)
	})
	require.Error(t, err)
	assert.True(t, interfaces.IsSealedStoreError(err))
	assert.Equal(t, 3, attempts)
}

// TestWithRetryContextCancel aborts the backoff wait when the context
// goes away.
func TestWithRetryContextCancel(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{
		MaxAttempts:     10,
		InitialInterval: time.Hour,
		MaxInterval:     time.Hour,
	}

	attempts := 0
	err := WithRetry(ctx, log, "cancelled", policy, func() error {
		attempts++
		cancel()
		return interfaces.NewTransientNetworkError("cancelled", errors.New("down"))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

// TestWithRetryZeroAttemptsRunsOnce treats a zero policy as a single
// attempt rather than none.
func TestWithRetryZeroAttemptsRunsOnce(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	attempts := 0
	err := WithRetry(context.Background(), log, "once", RetryPolicy{}, func() error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

// TestDefaultRetryPolicy pins the fetcher's attempt budget.
func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()
	assert.Equal(t, uint64(5), policy.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, policy.InitialInterval)
}
