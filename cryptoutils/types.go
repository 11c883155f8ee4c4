package cryptoutils

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TLSCert represents a TLS Certificate in PEM format.
type TLSCert []byte

// NewTLSCert creates a new certificate object from PEM-encoded data with validation.
func NewTLSCert(data []byte) (TLSCert, error) {
	// Validate PEM format
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return TLSCert{}, errors.New("invalid certificate: not in PEM format or not a certificate")
	}

	// Validate certificate structure
	_, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return TLSCert{}, fmt.Errorf("invalid certificate structure: %w", err)
	}

	return TLSCert(data), nil
}

// Validate checks if the certificate is properly formed.
func (cert TLSCert) Validate() error {
	_, err := NewTLSCert(cert)
	return err
}

// GetX509Cert returns the parsed X.509 certificate.
func (cert TLSCert) GetX509Cert() (*x509.Certificate, error) {
	block, _ := pem.Decode(cert)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	return x509.ParseCertificate(block.Bytes)
}

// IsExpired checks if the certificate has expired.
func (cert TLSCert) IsExpired() (bool, error) {
	x509Cert, err := cert.GetX509Cert()
	if err != nil {
		return false, err
	}
	return x509Cert.NotAfter.Before(time.Now()), nil
}

// CommonName returns the certificate's subject common name.
func (cert TLSCert) CommonName() (string, error) {
	x509Cert, err := cert.GetX509Cert()
	if err != nil {
		return "", err
	}
	return x509Cert.Subject.CommonName, nil
}

// NotAfter returns the certificate's expiry timestamp.
func (cert TLSCert) NotAfter() (time.Time, error) {
	x509Cert, err := cert.GetX509Cert()
	if err != nil {
		return time.Time{}, err
	}
	return x509Cert.NotAfter, nil
}

// SerialString returns the certificate serial in colon-separated hex,
// the format the store uses to address certificates for revocation.
func (cert TLSCert) SerialString() (string, error) {
	x509Cert, err := cert.GetX509Cert()
	if err != nil {
		return "", err
	}
	return FormatSerial(x509Cert), nil
}

// FormatSerial renders a certificate serial number as lowercase
// colon-separated hex octets, e.g. "1a:2b:3c:...".
func FormatSerial(cert *x509.Certificate) string {
	raw := cert.SerialNumber.Bytes()
	if len(raw) == 0 {
		raw = []byte{0}
	}
	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

// CACert represents a Certificate Authority Certificate in PEM format.
type CACert []byte

// NewCACert creates a new CA certificate object from PEM-encoded data with validation.
func NewCACert(data []byte) (CACert, error) {
	// Validate PEM format
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return CACert{}, errors.New("invalid CA certificate: not in PEM format or not a certificate")
	}

	// Validate certificate structure
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return CACert{}, fmt.Errorf("invalid CA certificate structure: %w", err)
	}

	// Check if it's a CA certificate
	if !cert.IsCA {
		return CACert{}, errors.New("certificate is not a CA certificate (IsCA flag not set)")
	}

	return CACert(data), nil
}

// Validate checks if the CA certificate is properly formed.
func (ca CACert) Validate() error {
	_, err := NewCACert(ca)
	return err
}

// GetX509Cert returns the parsed X.509 certificate.
func (ca CACert) GetX509Cert() (*x509.Certificate, error) {
	block, _ := pem.Decode(ca)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	return x509.ParseCertificate(block.Bytes)
}

// VerifyCertificate checks if a certificate was signed by this CA.
func (ca CACert) VerifyCertificate(cert TLSCert) error {
	caCert, err := ca.GetX509Cert()
	if err != nil {
		return err
	}

	leafCert, err := cert.GetX509Cert()
	if err != nil {
		return err
	}

	// Create a certificate pool containing the CA cert
	caPool := x509.NewCertPool()
	caPool.AddCert(caCert)

	// Verify the leaf certificate against the CA
	_, err = leafCert.Verify(x509.VerifyOptions{
		Roots: caPool,
	})
	return err
}
