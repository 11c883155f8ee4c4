// Package certmanager handles the installed-certificate lifecycle:
// expiry scanning, backed-up renewal with verify-before-replace
// semantics, and revoke-and-reissue for compromised keys.
package certmanager

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/devstack-core/secrets-provisioning/fslock"
	"github.com/devstack-core/secrets-provisioning/interfaces"
	"github.com/devstack-core/secrets-provisioning/secretstore"
	"github.com/devstack-core/secrets-provisioning/storage"
)

// Config holds certificate lifecycle settings.
type Config struct {
	// CertsDir is where service certificates live.
	CertsDir string

	// BackupDir receives timestamped pre-renewal backups.
	BackupDir string

	// BaseDomain is the DNS suffix for certificate common names.
	BaseDomain string

	// Fleet declares the managed services. Empty means the default fleet.
	Fleet []interfaces.ServiceSpec

	// LeafTTL is the validity requested for renewed certificates.
	// Empty means one year.
	LeafTTL string

	// LockDir holds the per-service renewal locks. Empty means a
	// .renew.lock file inside each service's certificate directory.
	LockDir string

	// BackupPassphrase, when set, encrypts backed-up certificate
	// material at rest.
	BackupPassphrase string

	// ArchiveLocations replicate each backup to the given archive
	// backends in addition to BackupDir.
	ArchiveLocations []interfaces.ArchiveLocation

	// Restarter is invoked after a successful renewal so the service
	// picks up its new material. Nil skips restarts.
	Restarter Restarter
}

func (cfg Config) withDefaults() Config {
	if len(cfg.Fleet) == 0 {
		cfg.Fleet = interfaces.DefaultFleet()
	}
	if cfg.LeafTTL == "" {
		cfg.LeafTTL = "8760h"
	}
	return cfg
}

// Manager drives certificate lifecycle operations against one store.
type Manager struct {
	store   *secretstore.Client
	cfg     Config
	log     *slog.Logger
	archive interfaces.ArchiveBackend
}

// NewManager creates a certificate lifecycle manager. Archive locations
// are resolved eagerly so a misconfigured replication target fails at
// startup, not mid-renewal.
func NewManager(store *secretstore.Client, cfg Config, log *slog.Logger) (*Manager, error) {
	cfg = cfg.withDefaults()
	m := &Manager{store: store, cfg: cfg, log: log}

	if len(cfg.ArchiveLocations) > 0 {
		factory := storage.NewArchiveBackendFactory(log)
		backend, err := factory.CreateMultiBackend(cfg.ArchiveLocations)
		if err != nil {
			return nil, fmt.Errorf("could not set up backup replication: %w", err)
		}
		m.archive = backend
	}
	return m, nil
}

// fleetSpec resolves a service against the configured fleet.
func (m *Manager) fleetSpec(service interfaces.ServiceName) (interfaces.ServiceSpec, error) {
	spec, ok := interfaces.FleetSpec(m.cfg.Fleet, service)
	if !ok {
		return interfaces.ServiceSpec{}, fmt.Errorf("service %s is not part of the fleet", service)
	}
	if !spec.TLSEnabled {
		return interfaces.ServiceSpec{}, fmt.Errorf("service %s does not use TLS", service)
	}
	return spec, nil
}

// renewLock returns the advisory lock that serializes renewals and
// revocations for one service.
func (m *Manager) renewLock(service interfaces.ServiceName) (*fslock.Lock, error) {
	if m.cfg.LockDir != "" {
		return fslock.ForService(m.cfg.LockDir, service.String())
	}
	dir := filepath.Join(m.cfg.CertsDir, service.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create certificate directory %s: %w", dir, err)
	}
	return fslock.New(filepath.Join(dir, ".renew.lock")), nil
}
