package cryptoutils

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// VerifyCertificate validates that a certificate matches a given private key and has the expected common name.
// It performs the following checks:
//   - The certificate can be parsed correctly
//   - The common name matches the expected value
//   - The public key in the certificate corresponds to the provided private key
//
// This function is useful for ensuring that a certificate was issued for the correct entity
// and matches the private key that will be used with it.
func VerifyCertificate(keyPEM, certPEM []byte, expectedCN string) error {
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil || (keyBlock.Type != "PRIVATE KEY" && keyBlock.Type != "EC PRIVATE KEY") {
		return errors.New("failed to decode private key PEM block")
	}

	privateKey, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		// Try SEC1 format if PKCS#8 fails
		privateKey, err = x509.ParseECPrivateKey(keyBlock.Bytes)
		if err != nil {
			return fmt.Errorf("failed to parse private key: %w", err)
		}
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return errors.New("failed to decode certificate PEM block")
	}

	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	// Compare CommonName
	if cert.Subject.CommonName != expectedCN {
		return fmt.Errorf("CommonName is %s, expected %s", cert.Subject.CommonName, expectedCN)
	}

	// Compare public keys
	certPublicKey := cert.PublicKey
	privatePublicKey := privateKey.(interface{ Public() crypto.PublicKey }).Public()

	// For ECDSA keys
	if ecdsaCertKey, ok := certPublicKey.(*ecdsa.PublicKey); ok {
		ecdsaPrivKey, ok := privatePublicKey.(*ecdsa.PublicKey)
		if !ok {
			return errors.New("private key type doesn't match certificate")
		}

		if ecdsaCertKey.X.Cmp(ecdsaPrivKey.X) != 0 ||
			ecdsaCertKey.Y.Cmp(ecdsaPrivKey.Y) != 0 ||
			ecdsaCertKey.Curve != ecdsaPrivKey.Curve {
			return errors.New("private key doesn't match certificate")
		}
		return nil
	}

	return errors.New("unsupported key type")
}

// SplitPEMCertificates parses a PEM bundle and returns each CERTIFICATE
// block as its own PEM-encoded certificate. Non-certificate blocks are
// skipped.
func SplitPEMCertificates(bundle []byte) []TLSCert {
	var certs []TLSCert
	rest := bundle
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		certs = append(certs, TLSCert(pem.EncodeToMemory(block)))
	}
	return certs
}

// VerifyCertificateChain validates a leaf certificate against an issuing
// chain bundle. The last certificate in the bundle is treated as the
// trust anchor and any preceding ones as intermediates. This is the check
// the renewal path runs before replacing certificate material on disk.
func VerifyCertificateChain(certPEM, chainPEM []byte) error {
	leaf, err := NewTLSCert(certPEM)
	if err != nil {
		return err
	}

	leafCert, err := leaf.GetX509Cert()
	if err != nil {
		return err
	}

	chain := SplitPEMCertificates(chainPEM)
	if len(chain) == 0 {
		return errors.New("issuing chain contains no certificates")
	}

	roots := x509.NewCertPool()
	intermediates := x509.NewCertPool()
	for i, c := range chain {
		parsed, err := c.GetX509Cert()
		if err != nil {
			return fmt.Errorf("failed to parse chain certificate %d: %w", i, err)
		}
		if i == len(chain)-1 {
			roots.AddCert(parsed)
		} else {
			intermediates.AddCert(parsed)
		}
	}

	_, err = leafCert.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
	})
	return err
}
