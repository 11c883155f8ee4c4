package certmanager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/devstack-core/secrets-provisioning/cryptoutils"
	"github.com/devstack-core/secrets-provisioning/interfaces"
	"github.com/devstack-core/secrets-provisioning/metrics"
)

// Renew replaces a service's installed certificate with a freshly issued
// one. The existing material is backed up first, the new material is
// verified before and after installation, and verification failure rolls
// the installation back to the backup. Only after the new certificate is
// installed and re-verified from disk is the service restarted.
//
// A per-service advisory lock serializes renewals, so a cron-driven
// renewal and an operator-invoked one cannot interleave half-installed
// material.
func (m *Manager) Renew(ctx context.Context, service interfaces.ServiceName) (*interfaces.ServiceCertificate, error) {
	spec, err := m.fleetSpec(service)
	if err != nil {
		return nil, err
	}

	lock, err := m.renewLock(service)
	if err != nil {
		return nil, err
	}
	held, err := lock.TryAcquire()
	if err != nil {
		return nil, fmt.Errorf("could not acquire renewal lock for %s: %w", service, err)
	}
	if !held {
		return nil, fmt.Errorf("another renewal for %s is in progress (lock %s held)", service, lock.Path())
	}
	defer lock.Release()

	cert, err := m.renewLocked(ctx, spec)
	if err != nil {
		metrics.CertRenewals.WithLabelValues(service.String(), "failure").Inc()
		return nil, err
	}
	metrics.CertRenewals.WithLabelValues(service.String(), "success").Inc()
	return cert, nil
}

func (m *Manager) renewLocked(ctx context.Context, spec interfaces.ServiceSpec) (*interfaces.ServiceCertificate, error) {
	service := spec.Name
	commonName := spec.Name.CommonName(m.cfg.BaseDomain)

	var backupDir string
	if HasInstalledCertificate(m.cfg.CertsDir, service) {
		_, dir, err := m.BackupCertificate(ctx, service)
		if err != nil {
			return nil, fmt.Errorf("pre-renewal backup failed: %w", err)
		}
		backupDir = dir
	}

	cert, err := m.store.IssueCertificate(ctx, service, commonName, m.cfg.LeafTTL)
	if err != nil {
		return nil, fmt.Errorf("could not issue certificate for %s: %w", service, err)
	}

	// Verify before touching disk. A store handing back mismatched or
	// unchained material must never replace working files.
	if err := cryptoutils.VerifyCertificate(cert.KeyPEM, cert.CertPEM, commonName); err != nil {
		return nil, interfaces.NewCertificateValidationError(service, "issued certificate does not match key or name", err)
	}
	if err := cryptoutils.VerifyCertificateChain(cert.CertPEM, cert.CAChain); err != nil {
		return nil, interfaces.NewCertificateValidationError(service, "issued certificate does not verify against its chain", err)
	}

	paths, err := InstallCertificate(m.cfg.CertsDir, cert)
	if err != nil {
		return nil, err
	}

	if err := m.verifyInstalled(paths, commonName); err != nil {
		if backupDir != "" {
			if restoreErr := m.RestoreBackup(service, backupDir); restoreErr != nil {
				m.log.Error("Rollback after failed verification also failed",
					slog.String("service", service.String()),
					slog.String("backup", backupDir),
					"err", restoreErr)
			} else {
				m.log.Warn("Rolled back to pre-renewal certificate",
					slog.String("service", service.String()),
					slog.String("backup", backupDir))
			}
		}
		return nil, interfaces.NewCertificateValidationError(service, "installed certificate failed verification", err)
	}

	m.log.Info("Renewed certificate",
		slog.String("service", service.String()),
		slog.String("common_name", commonName),
		slog.String("serial", cert.Serial),
		slog.Time("not_after", cert.NotAfter))

	if m.cfg.Restarter != nil {
		if err := m.cfg.Restarter.Restart(ctx, service); err != nil {
			// The new material is installed and valid; a failed restart
			// leaves the service on the old cert until its next start.
			return cert, fmt.Errorf("certificate renewed but restart of %s failed: %w", service, err)
		}
		m.log.Info("Restarted service after renewal", slog.String("service", service.String()))
	}
	return cert, nil
}

// verifyInstalled re-reads the installed files and checks them as a set.
// Catching a torn install here is what makes the rollback path safe to
// trust.
func (m *Manager) verifyInstalled(paths interfaces.CertificatePaths, commonName string) error {
	certPEM, err := os.ReadFile(paths.CertFile)
	if err != nil {
		return err
	}
	keyPEM, err := os.ReadFile(paths.KeyFile)
	if err != nil {
		return err
	}
	caPEM, err := os.ReadFile(paths.CAFile)
	if err != nil {
		return err
	}
	if err := cryptoutils.VerifyCertificate(keyPEM, certPEM, commonName); err != nil {
		return err
	}
	return cryptoutils.VerifyCertificateChain(certPEM, caPEM)
}

// RenewIfNeeded renews a service's certificate when its remaining
// lifetime has entered the warning window, or when no certificate is
// installed at all. It returns the new certificate, or nil when the
// installed one still has enough lifetime.
func (m *Manager) RenewIfNeeded(ctx context.Context, service interfaces.ServiceName, now time.Time) (*interfaces.ServiceCertificate, error) {
	status, err := m.ScanService(service, now)
	if err != nil {
		return nil, err
	}
	if status.Problem == "" && status.Status == cryptoutils.ExpiryOK {
		m.log.Debug("Certificate does not need renewal",
			slog.String("service", service.String()),
			slog.Time("not_after", status.NotAfter))
		return nil, nil
	}
	return m.Renew(ctx, service)
}

// RenewDue walks the TLS fleet and renews every certificate inside the
// warning window. It keeps going past per-service failures and returns
// them joined, so one broken service cannot block the rest of the fleet
// from renewing.
func (m *Manager) RenewDue(ctx context.Context, now time.Time) ([]*interfaces.ServiceCertificate, error) {
	var renewed []*interfaces.ServiceCertificate
	var errs []error
	for _, spec := range interfaces.TLSServices(m.cfg.Fleet) {
		cert, err := m.RenewIfNeeded(ctx, spec.Name, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", spec.Name, err))
			continue
		}
		if cert != nil {
			renewed = append(renewed, cert)
		}
	}
	if len(errs) > 0 {
		return renewed, fmt.Errorf("renewal failed for %d service(s): %v", len(errs), errs)
	}
	return renewed, nil
}

// RenewDueParallel is RenewDue with one goroutine per TLS fleet member.
// Renewals touch disjoint certificate directories and hold disjoint
// per-service locks, so the fan-out needs no coordination beyond
// collecting the results.
func (m *Manager) RenewDueParallel(ctx context.Context, now time.Time) ([]*interfaces.ServiceCertificate, error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		renewed []*interfaces.ServiceCertificate
		errs    []error
	)
	for _, spec := range interfaces.TLSServices(m.cfg.Fleet) {
		spec := spec
		wg.Add(1)
		go func() {
			defer wg.Done()
			cert, err := m.RenewIfNeeded(ctx, spec.Name, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", spec.Name, err))
				return
			}
			if cert != nil {
				renewed = append(renewed, cert)
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		return renewed, fmt.Errorf("renewal failed for %d service(s): %v", len(errs), errs)
	}
	return renewed, nil
}
