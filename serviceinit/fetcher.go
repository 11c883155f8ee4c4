// Package serviceinit materializes a service's credentials at startup:
// it exchanges the service's AppRole pair for a token, reads the
// service's secret entry, verifies any required TLS material on disk
// and hands the result to the wrapped process as environment variables.
package serviceinit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/devstack-core/secrets-provisioning/approle"
	"github.com/devstack-core/secrets-provisioning/cryptoutils"
	"github.com/devstack-core/secrets-provisioning/interfaces"
	"github.com/devstack-core/secrets-provisioning/secretstore"
)

// Config holds fetcher settings.
type Config struct {
	// ConfigDir is the provisioning state directory holding AppRole
	// credential files (and the key share file for root fallback).
	ConfigDir string

	// CertsDir is where bootstrap installed service certificates.
	CertsDir string

	// BaseDomain is the DNS suffix certificates were issued under.
	BaseDomain string

	// AllowRootFallback passes through to the credential exchanger.
	AllowRootFallback bool

	// Fleet declares the known services and their required credential
	// fields. Empty means the default fleet.
	Fleet []interfaces.ServiceSpec

	// Retry bounds the secret read. Zero value means the default policy
	// of 5 attempts with exponential backoff.
	Retry secretstore.RetryPolicy
}

// Fetcher fetches one service's credential bundle from the store.
type Fetcher struct {
	store     *secretstore.Client
	exchanger *approle.Exchanger
	cfg       Config
	log       *slog.Logger
}

// NewFetcher creates a fetcher around a tokenless store client. Fetch
// installs the service token on the client itself.
func NewFetcher(store *secretstore.Client, cfg Config, log *slog.Logger) *Fetcher {
	if len(cfg.Fleet) == 0 {
		cfg.Fleet = interfaces.DefaultFleet()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = secretstore.DefaultRetryPolicy()
	}
	exchanger := approle.NewExchanger(store, approle.ExchangerConfig{
		ConfigDir:         cfg.ConfigDir,
		AllowRootFallback: cfg.AllowRootFallback,
	}, log)
	return &Fetcher{store: store, exchanger: exchanger, cfg: cfg, log: log}
}

// Fetch authenticates as the service and resolves its credential
// bundle. Transient store failures are retried within the configured
// policy; authentication and authorization failures are surfaced
// immediately. A service whose entry is marked TLS-enabled fails hard
// when its certificate material is missing or inconsistent, it is
// never started without TLS.
func (f *Fetcher) Fetch(ctx context.Context, service interfaces.ServiceName) (*interfaces.CredentialBundle, error) {
	if err := service.Validate(); err != nil {
		return nil, err
	}

	token, err := f.exchanger.Login(ctx, service)
	if err != nil {
		return nil, err
	}
	f.store.SetToken(token.Token)

	var entry *interfaces.SecretEntry
	err = secretstore.WithRetry(ctx, f.log, "read-secret", f.cfg.Retry, func() error {
		var readErr error
		entry, readErr = f.store.GetSecret(ctx, service)
		return readErr
	})
	if err != nil {
		return nil, err
	}

	if err := f.validateFields(service, entry); err != nil {
		return nil, err
	}

	bundle := &interfaces.CredentialBundle{
		Fields:     entry.Fields,
		TLSEnabled: entry.TLSEnabled,
	}
	if entry.TLSEnabled {
		paths, err := f.verifyTLSMaterial(service)
		if err != nil {
			return nil, err
		}
		bundle.CertPaths = paths
	}

	f.log.Info("Credential bundle resolved",
		slog.String("service", service.String()),
		slog.Int("fields", len(bundle.Fields)),
		slog.Bool("tls", bundle.TLSEnabled))
	return bundle, nil
}

// validateFields checks the entry against the service's declared field
// set. Services outside the fleet carry whatever fields bootstrap-time
// tooling wrote; there is nothing to check them against.
func (f *Fetcher) validateFields(service interfaces.ServiceName, entry *interfaces.SecretEntry) error {
	spec, known := interfaces.FleetSpec(f.cfg.Fleet, service)
	if !known {
		return nil
	}
	for _, field := range spec.SecretFields {
		if value, ok := entry.Field(field); !ok || value == "" {
			return fmt.Errorf("secret entry for %s is missing required field %q", service, field)
		}
	}
	return nil
}

// verifyTLSMaterial checks the on-disk certificate trio: present, key
// matches certificate, common name matches the service, chain verifies,
// not expired.
func (f *Fetcher) verifyTLSMaterial(service interfaces.ServiceName) (*interfaces.CertificatePaths, error) {
	paths := interfaces.CertificatePathsFor(f.cfg.CertsDir, service)

	certPEM, err := os.ReadFile(paths.CertFile)
	if err != nil {
		return nil, interfaces.NewCertificateValidationError(service, "certificate file missing", err)
	}
	keyPEM, err := os.ReadFile(paths.KeyFile)
	if err != nil {
		return nil, interfaces.NewCertificateValidationError(service, "private key file missing", err)
	}
	caPEM, err := os.ReadFile(paths.CAFile)
	if err != nil {
		return nil, interfaces.NewCertificateValidationError(service, "CA file missing", err)
	}

	cert, err := cryptoutils.NewTLSCert(certPEM)
	if err != nil {
		return nil, interfaces.NewCertificateValidationError(service, "certificate unparseable", err)
	}
	if expired, err := cert.IsExpired(); err != nil {
		return nil, interfaces.NewCertificateValidationError(service, "certificate unparseable", err)
	} else if expired {
		return nil, interfaces.NewCertificateValidationError(service, "certificate expired", nil)
	}

	cn := service.CommonName(f.cfg.BaseDomain)
	if err := cryptoutils.VerifyCertificate(keyPEM, certPEM, cn); err != nil {
		return nil, interfaces.NewCertificateValidationError(service, "certificate does not match key or name", err)
	}
	if err := cryptoutils.VerifyCertificateChain(certPEM, caPEM); err != nil {
		return nil, interfaces.NewCertificateValidationError(service, "certificate does not verify against its chain", err)
	}

	return &paths, nil
}

// Environ renders a credential bundle as environment assignments
// appended to base. Field names and the service name are uppercased
// with hyphens mapped to underscores: the postgres password becomes
// POSTGRES_PASSWORD, redis-1's becomes REDIS_1_PASSWORD. TLS-enabled
// bundles additionally carry <SERVICE>_TLS_ENABLED and the certificate
// file paths.
func Environ(service interfaces.ServiceName, bundle *interfaces.CredentialBundle, base []string) []string {
	prefix := envName(service.String())

	env := make([]string, 0, len(base)+len(bundle.Fields)+4)
	env = append(env, base...)

	// Deterministic ordering keeps process environments reproducible.
	fields := make([]string, 0, len(bundle.Fields))
	for field := range bundle.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		env = append(env, fmt.Sprintf("%s_%s=%s", prefix, envName(field), bundle.Fields[field]))
	}

	env = append(env, fmt.Sprintf("%s_TLS_ENABLED=%t", prefix, bundle.TLSEnabled))
	if bundle.CertPaths != nil {
		env = append(env,
			fmt.Sprintf("%s_TLS_CERT_FILE=%s", prefix, bundle.CertPaths.CertFile),
			fmt.Sprintf("%s_TLS_KEY_FILE=%s", prefix, bundle.CertPaths.KeyFile),
			fmt.Sprintf("%s_TLS_CA_FILE=%s", prefix, bundle.CertPaths.CAFile))
	}
	return env
}

func envName(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
}
