package secretstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// RetryPolicy bounds a retried store operation.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts uint64

	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy returns the policy used by the credential fetcher:
// up to 5 attempts with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  2 * time.Minute,
	}
}

// WithRetry runs fn, retrying only errors the taxonomy marks retryable
// (transient network failures and a sealed store). Fatal errors stop the
// loop immediately. The last error is returned once attempts, elapsed
// time, or the context run out.
func WithRetry(ctx context.Context, log *slog.Logger, operation string, policy RetryPolicy, fn func() error) error {
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		exp.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		exp.MaxInterval = policy.MaxInterval
	}
	exp.MaxElapsedTime = policy.MaxElapsedTime

	bo := backoff.WithContext(backoff.WithMaxRetries(exp, policy.MaxAttempts-1), ctx)

	return backoff.RetryNotify(
		func() error {
			err := fn()
			if err == nil {
				return nil
			}
			if !interfaces.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		bo,
		func(err error, next time.Duration) {
			log.Warn("Retrying store operation",
				slog.String("operation", operation),
				slog.Duration("backoff", next),
				"err", err)
		},
	)
}
