package certmanager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/devstack-core/secrets-provisioning/cryptoutils"
	"github.com/devstack-core/secrets-provisioning/interfaces"
	"github.com/devstack-core/secrets-provisioning/metrics"
)

// RevocationResult describes a completed revoke-and-reissue: which
// serial was revoked, when the store recorded the revocation, and the
// replacement certificate now installed.
type RevocationResult struct {
	RevokedSerial  string
	RevokedAt      time.Time
	NewCertificate *interfaces.ServiceCertificate
}

// RevokeAndReissue revokes a service's installed certificate at the
// store and immediately issues, verifies and installs a replacement.
// The service is left with working material; a revoked-but-unreplaced
// certificate would take it off the air.
//
// Both halves run under the service's renewal lock so a concurrent
// renewal cannot reinstall the certificate being revoked.
func (m *Manager) RevokeAndReissue(ctx context.Context, service interfaces.ServiceName) (*RevocationResult, error) {
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

	paths := interfaces.CertificatePathsFor(m.cfg.CertsDir, service)
	certPEM, err := os.ReadFile(paths.CertFile)
	if err != nil {
		return nil, fmt.Errorf("no certificate installed for %s: %w", service, err)
	}
	tlsCert, err := cryptoutils.NewTLSCert(certPEM)
	if err != nil {
		return nil, fmt.Errorf("installed certificate for %s is unparseable: %w", service, err)
	}
	parsed, err := tlsCert.GetX509Cert()
	if err != nil {
		return nil, fmt.Errorf("installed certificate for %s is unparseable: %w", service, err)
	}
	serial := cryptoutils.FormatSerial(parsed)

	revokedAt, err := m.store.RevokeCertificate(ctx, serial)
	if err != nil {
		return nil, fmt.Errorf("could not revoke %s certificate %s: %w", service, serial, err)
	}
	metrics.CertRevocations.WithLabelValues(service.String()).Inc()
	m.log.Warn("Revoked certificate",
		slog.String("service", service.String()),
		slog.String("serial", serial),
		slog.Time("revoked_at", revokedAt))

	cert, err := m.renewLocked(ctx, spec)
	if err != nil {
		metrics.CertRenewals.WithLabelValues(service.String(), "failure").Inc()
		return nil, fmt.Errorf("revoked %s certificate %s but reissue failed: %w", service, serial, err)
	}
	metrics.CertRenewals.WithLabelValues(service.String(), "success").Inc()

	return &RevocationResult{
		RevokedSerial:  serial,
		RevokedAt:      revokedAt,
		NewCertificate: cert,
	}, nil
}
