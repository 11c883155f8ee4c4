// Package approle exchanges persisted AppRole credentials for
// short-lived secrets store tokens.
//
// Bootstrap provisions one role-id/secret-id pair per service under
// <configDir>/approles/<service>/. At startup a service hands this
// package its name; the exchanger reads the pair back and performs a
// single AppRole login, yielding a token whose policies only allow
// reading that service's own secret path.
package approle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/devstack-core/secrets-provisioning/interfaces"
	"github.com/devstack-core/secrets-provisioning/secretstore"
)

// ExchangerConfig configures credential lookup and the root fallback
// escape hatch.
type ExchangerConfig struct {
	// ConfigDir is the provisioning state directory holding the
	// approles/ subtree.
	ConfigDir string

	// AllowRootFallback permits authenticating with the root token from
	// the persisted key share set when a service has no credential
	// files on disk. Strictly a development convenience: the resulting
	// token bypasses per-service policy isolation, so every fallback is
	// logged at WARN.
	AllowRootFallback bool

	// KeySharePath overrides the default <ConfigDir>/keys.json location
	// consulted for root fallback.
	KeySharePath string
}

func (cfg ExchangerConfig) keySharePath() string {
	if cfg.KeySharePath != "" {
		return cfg.KeySharePath
	}
	return filepath.Join(cfg.ConfigDir, "keys.json")
}

// Exchanger swaps filesystem AppRole credentials for service tokens.
type Exchanger struct {
	store *secretstore.Client
	cfg   ExchangerConfig
	log   *slog.Logger
}

func NewExchanger(store *secretstore.Client, cfg ExchangerConfig, log *slog.Logger) *Exchanger {
	return &Exchanger{store: store, cfg: cfg, log: log}
}

// Login authenticates a service against the store. Credential files are
// read fresh on every call so a rotated secret-id takes effect without
// restarting anything.
//
// Invalid credentials fail after exactly one login attempt: an
// authentication rejection is never retried.
func (e *Exchanger) Login(ctx context.Context, service interfaces.ServiceName) (*interfaces.ServiceToken, error) {
	roleID, secretID, err := ReadCredentialFiles(e.cfg.ConfigDir, service)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return e.rootFallback(ctx, service, err)
		}
		return nil, interfaces.NewAuthenticationError(service, err)
	}

	token, err := e.store.LoginAppRole(ctx, service, roleID, secretID)
	if err != nil {
		return nil, err
	}

	e.log.Info("Exchanged approle credentials for service token",
		"service", service,
		"ttl", token.TTL,
		"policies", token.Policies)
	return token, nil
}

func (e *Exchanger) rootFallback(ctx context.Context, service interfaces.ServiceName, cause error) (*interfaces.ServiceToken, error) {
	if !e.cfg.AllowRootFallback {
		return nil, interfaces.NewAuthenticationError(service,
			fmt.Errorf("no approle credentials on disk: %w", cause))
	}

	set, err := interfaces.LoadKeyShareSet(e.cfg.keySharePath())
	if err != nil {
		return nil, interfaces.NewAuthenticationError(service,
			fmt.Errorf("root fallback requested but key shares unavailable: %w", err))
	}

	e.log.Warn("No approle credentials for service, falling back to root token",
		"service", service,
		"reduced_security", true)

	return &interfaces.ServiceToken{
		Token:    set.RootToken,
		Policies: []string{"root"},
	}, nil
}
