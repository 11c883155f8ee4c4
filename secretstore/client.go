package secretstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// Mount paths fixed by the deployment convention. The bootstrap
// orchestrator creates them; every other component assumes them.
const (
	// KVMount is the KV v2 secrets engine mount.
	KVMount = "secret"
	// RootPKIMount is the root CA PKI engine mount.
	RootPKIMount = "pki"
	// IntermediatePKIMount is the intermediate CA PKI engine mount.
	IntermediatePKIMount = "pki_int"
	// AppRoleMount is the AppRole auth method mount.
	AppRoleMount = "approle"
)

// Config holds the connection settings for a store client.
type Config struct {
	// Address is the store URL, e.g. http://127.0.0.1:8200. Falls back to
	// the VAULT_ADDR environment variable when empty.
	Address string

	// Token is the client token for authenticated operations. Empty for
	// pre-auth operations (health, init, unseal, AppRole login).
	Token string

	// Timeout bounds each HTTP request. Zero means 30 seconds.
	Timeout time.Duration
}

// Client is a typed client for the secrets store HTTP API.
type Client struct {
	api *api.Client
	log *slog.Logger
}

// NewClient creates a store client.
func NewClient(cfg *Config, log *slog.Logger) (*Client, error) {
	apiCfg := api.DefaultConfig()
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	apiCfg.Timeout = cfg.Timeout
	if apiCfg.Timeout == 0 {
		apiCfg.Timeout = 30 * time.Second
	}
	// Retry policy lives in WithRetry, not in the transport.
	apiCfg.MaxRetries = 0

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create store client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	return &Client{api: client, log: log}, nil
}

// Address returns the store URL the client talks to.
func (c *Client) Address() string {
	return c.api.Address()
}

// SetToken replaces the client token, e.g. after an AppRole login.
func (c *Client) SetToken(token string) {
	c.api.SetToken(token)
}

// Available checks if the store is reachable, initialized and unsealed.
func (c *Client) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := c.api.Sys().HealthWithContext(healthCtx)
	if err != nil {
		c.log.Debug("Store health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		c.log.Debug("Store is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// SealStatus returns the store's initialization and seal state.
func (c *Client) SealStatus(ctx context.Context) (interfaces.SealState, error) {
	status, err := c.api.Sys().SealStatusWithContext(ctx)
	if err != nil {
		return interfaces.SealState{}, Classify("seal-status", "sys/seal-status", err)
	}

	return interfaces.SealState{
		Initialized:    status.Initialized,
		Sealed:         status.Sealed,
		ShareThreshold: status.T,
		TotalShares:    status.N,
		Progress:       status.Progress,
	}, nil
}

// Initialize initializes the store with the given share count and
// threshold, returning the generated key shares and root token. The
// caller is responsible for persisting them immediately.
func (c *Client) Initialize(ctx context.Context, shares, threshold int) (*interfaces.KeyShareSet, error) {
	resp, err := c.api.Sys().InitWithContext(ctx, &api.InitRequest{
		SecretShares:    shares,
		SecretThreshold: threshold,
	})
	if err != nil {
		return nil, Classify("initialize", "sys/init", err)
	}

	set := &interfaces.KeyShareSet{
		UnsealKeysB64: resp.KeysB64,
		Threshold:     threshold,
		RootToken:     resp.RootToken,
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("store returned an invalid share set: %w", err)
	}

	c.log.Info("Store initialized",
		slog.Int("shares", shares),
		slog.Int("threshold", threshold))
	return set, nil
}

// SubmitUnsealShare submits one key share and returns the resulting seal
// state.
func (c *Client) SubmitUnsealShare(ctx context.Context, shareB64 string) (interfaces.SealState, error) {
	status, err := c.api.Sys().UnsealWithContext(ctx, shareB64)
	if err != nil {
		return interfaces.SealState{}, Classify("unseal", "sys/unseal", err)
	}

	return interfaces.SealState{
		Initialized:    status.Initialized,
		Sealed:         status.Sealed,
		ShareThreshold: status.T,
		TotalShares:    status.N,
		Progress:       status.Progress,
	}, nil
}
