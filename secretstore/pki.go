package secretstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/devstack-core/secrets-provisioning/cryptoutils"
	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// EnablePKIEngine mounts a PKI secrets engine. An existing mount yields
// an IdempotencyConflict.
func (c *Client) EnablePKIEngine(ctx context.Context, mount, description, maxLeaseTTL string) error {
	mounts, err := c.api.Sys().ListMountsWithContext(ctx)
	if err != nil {
		return Classify("enable-pki", "sys/mounts", err)
	}
	if _, ok := mounts[mount+"/"]; ok {
		return interfaces.NewIdempotencyConflict("enable-pki", mount+"/ already mounted")
	}

	err = c.api.Sys().MountWithContext(ctx, mount, &api.MountInput{
		Type:        "pki",
		Description: description,
		Config: api.MountConfigInput{
			MaxLeaseTTL: maxLeaseTTL,
		},
	})
	if err != nil {
		return Classify("enable-pki", "sys/mounts/"+mount, err)
	}

	c.log.Info("PKI engine mounted",
		slog.String("mount", mount),
		slog.String("max_lease_ttl", maxLeaseTTL))
	return nil
}

// HasRootCA reports whether the root PKI engine holds a CA certificate.
func (c *Client) HasRootCA(ctx context.Context) (bool, error) {
	cert, err := c.caCertificate(ctx, RootPKIMount)
	if err != nil {
		if interfaces.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return len(cert) > 0, nil
}

// GenerateRootCA generates the self-signed root CA inside the store. The
// private key never leaves the store.
func (c *Client) GenerateRootCA(ctx context.Context, commonName, ttl string) (*interfaces.CAInfo, error) {
	path := RootPKIMount + "/root/generate/internal"
	secret, err := c.api.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"common_name": commonName,
		"ttl":         ttl,
	})
	if err != nil {
		return nil, Classify("generate-root-ca", path, err)
	}

	certPEM, err := stringField(secret, "certificate")
	if err != nil {
		return nil, fmt.Errorf("root CA generation returned no certificate: %w", err)
	}

	info, err := caInfoFromPEM([]byte(certPEM))
	if err != nil {
		return nil, err
	}

	c.log.Info("Root CA generated",
		slog.String("common_name", info.CommonName),
		slog.String("serial", info.Serial),
		slog.Time("not_after", info.NotAfter))
	return info, nil
}

// RootCACertificate returns the root CA certificate in PEM format.
func (c *Client) RootCACertificate(ctx context.Context) ([]byte, error) {
	return c.caCertificate(ctx, RootPKIMount)
}

// RootCAInfo returns the parsed root CA details.
func (c *Client) RootCAInfo(ctx context.Context) (*interfaces.CAInfo, error) {
	cert, err := c.RootCACertificate(ctx)
	if err != nil {
		return nil, err
	}
	return caInfoFromPEM(cert)
}

// HasIntermediateCA reports whether the intermediate PKI engine holds a
// signed CA certificate.
func (c *Client) HasIntermediateCA(ctx context.Context) (bool, error) {
	cert, err := c.caCertificate(ctx, IntermediatePKIMount)
	if err != nil {
		if interfaces.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return len(cert) > 0, nil
}

// GenerateIntermediateCSR creates the intermediate CA key pair inside the
// store and returns a CSR for the root to sign.
func (c *Client) GenerateIntermediateCSR(ctx context.Context, commonName, ttl string) ([]byte, error) {
	path := IntermediatePKIMount + "/intermediate/generate/internal"
	secret, err := c.api.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"common_name": commonName,
		"ttl":         ttl,
	})
	if err != nil {
		return nil, Classify("generate-intermediate-csr", path, err)
	}

	csr, err := stringField(secret, "csr")
	if err != nil {
		return nil, fmt.Errorf("intermediate generation returned no CSR: %w", err)
	}
	return []byte(csr), nil
}

// SignIntermediate signs an intermediate CSR with the root CA.
func (c *Client) SignIntermediate(ctx context.Context, csrPEM []byte, ttl string) ([]byte, error) {
	path := RootPKIMount + "/root/sign-intermediate"
	secret, err := c.api.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"csr":    string(csrPEM),
		"format": "pem_bundle",
		"ttl":    ttl,
	})
	if err != nil {
		return nil, Classify("sign-intermediate", path, err)
	}

	cert, err := stringField(secret, "certificate")
	if err != nil {
		return nil, fmt.Errorf("intermediate signing returned no certificate: %w", err)
	}
	return []byte(cert), nil
}

// SetSignedIntermediate installs the root-signed intermediate certificate
// into the intermediate PKI engine.
func (c *Client) SetSignedIntermediate(ctx context.Context, certPEM []byte) error {
	path := IntermediatePKIMount + "/intermediate/set-signed"
	_, err := c.api.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"certificate": string(certPEM),
	})
	if err != nil {
		return Classify("set-signed-intermediate", path, err)
	}

	c.log.Info("Intermediate CA installed", slog.String("mount", IntermediatePKIMount))
	return nil
}

// IntermediateCACertificate returns the intermediate CA certificate in
// PEM format.
func (c *Client) IntermediateCACertificate(ctx context.Context) ([]byte, error) {
	return c.caCertificate(ctx, IntermediatePKIMount)
}

// IntermediateCAInfo returns the parsed intermediate CA details.
func (c *Client) IntermediateCAInfo(ctx context.Context) (*interfaces.CAInfo, error) {
	cert, err := c.IntermediateCACertificate(ctx)
	if err != nil {
		return nil, err
	}
	return caInfoFromPEM(cert)
}

// CAChain returns the full issuing chain (intermediate then root) in PEM
// format.
func (c *Client) CAChain(ctx context.Context) ([]byte, error) {
	path := IntermediatePKIMount + "/cert/ca_chain"
	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, Classify("read-ca-chain", path, err)
	}
	if secret == nil {
		return nil, interfaces.NewNotFoundError(path, nil)
	}

	chain, err := stringField(secret, "certificate")
	if err != nil {
		return nil, fmt.Errorf("CA chain read returned no certificate: %w", err)
	}
	return []byte(chain), nil
}

// EnsureIssuingRole writes the per-service issuing role. The store
// enforces the common-name constraint at issuance time; only names under
// <service>.<baseDomain>, localhost and IP SANs are allowed. Writing the
// same role twice is harmless.
func (c *Client) EnsureIssuingRole(ctx context.Context, service interfaces.ServiceName, baseDomain, maxTTL string) error {
	path := IntermediatePKIMount + "/roles/" + service.String()
	_, err := c.api.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"allowed_domains":    service.CommonName(baseDomain),
		"allow_bare_domains": true,
		"allow_subdomains":   false,
		"allow_localhost":    true,
		"allow_ip_sans":      true,
		"max_ttl":            maxTTL,
	})
	if err != nil {
		return Classify("ensure-issuing-role", path, err)
	}

	c.log.Debug("Issuing role configured",
		slog.String("service", service.String()),
		slog.String("allowed_domain", service.CommonName(baseDomain)))
	return nil
}

// IssueCertificate requests a fresh leaf certificate for a service. The
// store generates the key pair and returns it with the issuing chain.
func (c *Client) IssueCertificate(ctx context.Context, service interfaces.ServiceName, commonName, ttl string) (*interfaces.ServiceCertificate, error) {
	path := IntermediatePKIMount + "/issue/" + service.String()
	secret, err := c.api.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"common_name": commonName,
		"ttl":         ttl,
	})
	if err != nil {
		return nil, Classify("issue-certificate", path, err)
	}

	certPEM, err := stringField(secret, "certificate")
	if err != nil {
		return nil, fmt.Errorf("issuance returned no certificate: %w", err)
	}
	keyPEM, err := stringField(secret, "private_key")
	if err != nil {
		return nil, fmt.Errorf("issuance returned no private key: %w", err)
	}
	serial, err := stringField(secret, "serial_number")
	if err != nil {
		return nil, fmt.Errorf("issuance returned no serial: %w", err)
	}

	chain := chainField(secret, "ca_chain")

	cert, err := cryptoutils.NewTLSCert([]byte(certPEM))
	if err != nil {
		return nil, fmt.Errorf("issuance returned an unparseable certificate: %w", err)
	}
	notAfter, err := cert.NotAfter()
	if err != nil {
		return nil, err
	}

	c.log.Info("Leaf certificate issued",
		slog.String("service", service.String()),
		slog.String("common_name", commonName),
		slog.String("serial", serial),
		slog.Time("not_after", notAfter))

	return &interfaces.ServiceCertificate{
		Service:    service,
		CommonName: commonName,
		Serial:     serial,
		NotAfter:   notAfter,
		CertPEM:    []byte(certPEM),
		KeyPEM:     []byte(keyPEM),
		CAChain:    chain,
	}, nil
}

// RevokeCertificate revokes a leaf by serial and returns the revocation
// timestamp recorded by the store.
func (c *Client) RevokeCertificate(ctx context.Context, serial string) (time.Time, error) {
	path := IntermediatePKIMount + "/revoke"
	secret, err := c.api.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"serial_number": serial,
	})
	if err != nil {
		return time.Time{}, Classify("revoke-certificate", path, err)
	}

	revokedAt, ok := unixField(secret, "revocation_time")
	if !ok {
		return time.Time{}, errors.New("revocation returned no revocation_time")
	}

	c.log.Info("Certificate revoked",
		slog.String("serial", serial),
		slog.Time("revoked_at", revokedAt))
	return revokedAt, nil
}

// CertificateBySerial fetches a stored certificate and its revocation
// time (zero when not revoked).
func (c *Client) CertificateBySerial(ctx context.Context, serial string) ([]byte, time.Time, error) {
	path := IntermediatePKIMount + "/cert/" + serial
	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, time.Time{}, Classify("read-certificate", path, err)
	}
	if secret == nil {
		return nil, time.Time{}, interfaces.NewNotFoundError(path, nil)
	}

	certPEM, err := stringField(secret, "certificate")
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("certificate read returned no certificate: %w", err)
	}

	revokedAt, _ := unixField(secret, "revocation_time")
	return []byte(certPEM), revokedAt, nil
}

// caCertificate reads cert/ca from a PKI mount. A missing or empty CA is
// reported as NotFoundError.
func (c *Client) caCertificate(ctx context.Context, mount string) ([]byte, error) {
	path := mount + "/cert/ca"
	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, Classify("read-ca", path, err)
	}
	if secret == nil {
		return nil, interfaces.NewNotFoundError(path, nil)
	}

	cert, err := stringField(secret, "certificate")
	if err != nil || cert == "" {
		return nil, interfaces.NewNotFoundError(path, err)
	}
	return []byte(cert), nil
}

func caInfoFromPEM(certPEM []byte) (*interfaces.CAInfo, error) {
	ca, err := cryptoutils.NewCACert(certPEM)
	if err != nil {
		return nil, fmt.Errorf("store returned an invalid CA certificate: %w", err)
	}
	cert, err := ca.GetX509Cert()
	if err != nil {
		return nil, err
	}
	return &interfaces.CAInfo{
		CommonName: cert.Subject.CommonName,
		NotBefore:  cert.NotBefore,
		NotAfter:   cert.NotAfter,
		Serial:     cryptoutils.FormatSerial(cert),
	}, nil
}

// stringField extracts a string from a response's data map.
func stringField(secret *api.Secret, key string) (string, error) {
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("response has no data")
	}
	v, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("response has no %q field", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("response field %q is %T, not string", key, v)
	}
	return s, nil
}

// chainField joins a ca_chain list field into one PEM bundle. Returns nil
// when the field is absent.
func chainField(secret *api.Secret, key string) []byte {
	if secret == nil || secret.Data == nil {
		return nil
	}
	raw, ok := secret.Data[key].([]interface{})
	if !ok {
		return nil
	}
	var parts []string
	for _, e := range raw {
		if s, ok := e.(string); ok {
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return []byte(strings.Join(parts, "\n") + "\n")
}

// unixField extracts a unix-seconds timestamp from a response's data map.
func unixField(secret *api.Secret, key string) (time.Time, bool) {
	if secret == nil || secret.Data == nil {
		return time.Time{}, false
	}
	switch v := secret.Data[key].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil || n == 0 {
			return time.Time{}, false
		}
		return time.Unix(n, 0), true
	case float64:
		if v == 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(v), 0), true
	case int64:
		if v == 0 {
			return time.Time{}, false
		}
		return time.Unix(v, 0), true
	default:
		return time.Time{}, false
	}
}
