// Package unseal implements the coordinator that brings a freshly
// started, threshold-sealed store into an operable state using a
// persisted key share set.
//
// The coordinator polls the store until it is reachable, submits exactly
// the threshold number of key shares, and verifies the store reports
// sealed=false. It never initializes a store: an uninitialized store is
// reported as ErrStoreUninitialized so the invoking process can idle
// while the bootstrap orchestrator does its one-time work.
package unseal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devstack-core/secrets-provisioning/interfaces"
	"github.com/devstack-core/secrets-provisioning/metrics"
	"github.com/devstack-core/secrets-provisioning/secretstore"
)

// ErrStoreUninitialized is returned when the store has never been
// initialized. Initialization is the bootstrap orchestrator's
// responsibility; the coordinator only unseals.
var ErrStoreUninitialized = errors.New("store is not initialized")

// Config holds the coordinator settings.
type Config struct {
	// KeySharePath is the location of the persisted key share file.
	KeySharePath string

	// MaxAttempts caps how many times the store's status endpoint is
	// polled before the store is declared unreachable. Zero means 30.
	MaxAttempts uint64

	// InitialInterval and MaxInterval bound the poll backoff. Zero
	// values fall back to 1s and 10s.
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Coordinator drives the unseal sequence against one store.
type Coordinator struct {
	store *secretstore.Client
	cfg   Config
	log   *slog.Logger
}

// NewCoordinator creates an unseal coordinator.
func NewCoordinator(store *secretstore.Client, cfg Config, log *slog.Logger) *Coordinator {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 30
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	return &Coordinator{store: store, cfg: cfg, log: log}
}

// Run executes the unseal sequence once and returns the resulting seal
// state. It does not keep polling after success; callers that want to
// block afterwards do so themselves.
//
// Failure modes are all terminal: an unreachable store past the poll
// cap, a missing or unreadable share file, and shares the store rejects.
// The same shares are never resubmitted after a failed quorum.
func (c *Coordinator) Run(ctx context.Context) (interfaces.SealState, error) {
	state, err := c.waitReachable(ctx)
	if err != nil {
		metrics.UnsealAttempts.WithLabelValues("unreachable").Inc()
		return interfaces.SealState{}, fmt.Errorf("store did not become reachable within %d attempts: %w", c.cfg.MaxAttempts, err)
	}

	if !state.Initialized {
		c.log.Warn("Store is not initialized, refusing to unseal",
			slog.String("hint", "run the bootstrap orchestrator to initialize the store"))
		return state, ErrStoreUninitialized
	}

	if !state.Sealed {
		c.log.Info("Store is already unsealed")
		metrics.UnsealAttempts.WithLabelValues("already_unsealed").Inc()
		return state, nil
	}

	shares, err := interfaces.LoadKeyShareSet(c.cfg.KeySharePath)
	if err != nil {
		metrics.UnsealAttempts.WithLabelValues("no_shares").Inc()
		return state, fmt.Errorf("cannot unseal without key shares: %w", err)
	}

	state, err = c.submitShares(ctx, shares, state.ShareThreshold)
	if err != nil {
		metrics.UnsealAttempts.WithLabelValues("failed").Inc()
		return state, err
	}

	metrics.UnsealAttempts.WithLabelValues("unsealed").Inc()
	c.log.Info("Store unsealed",
		slog.Int("threshold", state.ShareThreshold),
		slog.Int("total_shares", state.TotalShares))
	return state, nil
}

// waitReachable polls the status endpoint with bounded backoff until the
// store answers. The endpoint responds in every store state, so this
// only rides out the window where the store process is still starting.
func (c *Coordinator) waitReachable(ctx context.Context) (interfaces.SealState, error) {
	var state interfaces.SealState

	policy := secretstore.RetryPolicy{
		MaxAttempts:     c.cfg.MaxAttempts,
		InitialInterval: c.cfg.InitialInterval,
		MaxInterval:     c.cfg.MaxInterval,
	}

	err := secretstore.WithRetry(ctx, c.log, "seal-status", policy, func() error {
		var err error
		state, err = c.store.SealStatus(ctx)
		return err
	})
	return state, err
}

// submitShares submits exactly threshold distinct shares, one request
// per share, and verifies the store reports unsealed afterwards.
func (c *Coordinator) submitShares(ctx context.Context, shares *interfaces.KeyShareSet, threshold int) (interfaces.SealState, error) {
	if threshold < 1 {
		threshold = shares.Threshold
	}
	if len(shares.UnsealKeysB64) < threshold {
		return interfaces.SealState{}, fmt.Errorf("store requires %d shares but %s holds only %d",
			threshold, c.cfg.KeySharePath, len(shares.UnsealKeysB64))
	}

	c.log.Info("Submitting unseal shares", slog.Int("threshold", threshold))

	var state interfaces.SealState
	var err error
	for i := 0; i < threshold; i++ {
		state, err = c.store.SubmitUnsealShare(ctx, shares.UnsealKeysB64[i])
		if err != nil {
			return state, fmt.Errorf("share %d of %d rejected: %w", i+1, threshold, err)
		}
		c.log.Debug("Unseal share accepted",
			slog.Int("submitted", i+1),
			slog.Int("progress", state.Progress),
			slog.Bool("sealed", state.Sealed))
	}

	if state.Sealed {
		return state, fmt.Errorf("store remained sealed after submitting %d shares; the persisted shares do not match this store", threshold)
	}
	return state, nil
}
