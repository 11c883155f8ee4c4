package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	pem  []byte
}

// newTestCA creates a self-signed CA for issuing test certificates
func newTestCA(t *testing.T, cn string, parent *testCA) *testCA {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}

	signerCert := template
	signerKey := key
	if parent != nil {
		signerCert = parent.cert
		signerKey = parent.key
	}

	der, err := x509.CreateCertificate(rand.Reader, template, signerCert, &key.PublicKey, signerKey)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testCA{
		cert: cert,
		key:  key,
		pem:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

// issueLeaf issues a leaf certificate for the given common name
func issueLeaf(t *testing.T, ca *testCA, cn string, notAfter time.Time) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)

	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})
	return certPEM, keyPEM
}

// TestVerifyCertificate tests key and common name matching
func TestVerifyCertificate(t *testing.T) {
	ca := newTestCA(t, "Test Root CA", nil)
	certPEM, keyPEM := issueLeaf(t, ca, "postgres.devstack.local", time.Now().Add(time.Hour))

	// Matching key and CN
	require.NoError(t, VerifyCertificate(keyPEM, certPEM, "postgres.devstack.local"))

	// Wrong CN
	err := VerifyCertificate(keyPEM, certPEM, "mysql.devstack.local")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CommonName")

	// Wrong key
	_, otherKeyPEM := issueLeaf(t, ca, "postgres.devstack.local", time.Now().Add(time.Hour))
	err = VerifyCertificate(otherKeyPEM, certPEM, "postgres.devstack.local")
	require.Error(t, err)

	// Garbage inputs
	require.Error(t, VerifyCertificate([]byte("not a key"), certPEM, "postgres.devstack.local"))
	require.Error(t, VerifyCertificate(keyPEM, []byte("not a cert"), "postgres.devstack.local"))
}

// TestVerifyCertificateChain tests leaf validation against a two-tier chain
func TestVerifyCertificateChain(t *testing.T) {
	root := newTestCA(t, "Test Root CA", nil)
	intermediate := newTestCA(t, "Test Intermediate CA", root)
	certPEM, _ := issueLeaf(t, intermediate, "rabbitmq.devstack.local", time.Now().Add(time.Hour))

	// Chain bundle ordered intermediate then root
	chain := append(append([]byte{}, intermediate.pem...), root.pem...)
	require.NoError(t, VerifyCertificateChain(certPEM, chain))

	// A chain from an unrelated CA must not verify the leaf
	otherRoot := newTestCA(t, "Other Root CA", nil)
	otherIntermediate := newTestCA(t, "Other Intermediate CA", otherRoot)
	otherChain := append(append([]byte{}, otherIntermediate.pem...), otherRoot.pem...)
	require.Error(t, VerifyCertificateChain(certPEM, otherChain))

	// Empty chain
	require.Error(t, VerifyCertificateChain(certPEM, nil))
}

// TestSplitPEMCertificates tests bundle splitting
func TestSplitPEMCertificates(t *testing.T) {
	root := newTestCA(t, "Test Root CA", nil)
	intermediate := newTestCA(t, "Test Intermediate CA", root)

	bundle := append(append([]byte("leading junk\n"), intermediate.pem...), root.pem...)
	certs := SplitPEMCertificates(bundle)
	require.Len(t, certs, 2)

	first, err := certs[0].GetX509Cert()
	require.NoError(t, err)
	assert.Equal(t, "Test Intermediate CA", first.Subject.CommonName)

	second, err := certs[1].GetX509Cert()
	require.NoError(t, err)
	assert.Equal(t, "Test Root CA", second.Subject.CommonName)

	assert.Empty(t, SplitPEMCertificates([]byte("no pem here")))
}

// TestCACertValidation tests that non-CA certificates are rejected
func TestCACertValidation(t *testing.T) {
	ca := newTestCA(t, "Test Root CA", nil)
	certPEM, _ := issueLeaf(t, ca, "postgres.devstack.local", time.Now().Add(time.Hour))

	_, err := NewCACert(ca.pem)
	require.NoError(t, err)

	_, err = NewCACert(certPEM)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a CA certificate")
}

// TestCACertVerifyCertificate tests issuance checking
func TestCACertVerifyCertificate(t *testing.T) {
	ca := newTestCA(t, "Test Root CA", nil)
	caCert, err := NewCACert(ca.pem)
	require.NoError(t, err)

	certPEM, _ := issueLeaf(t, ca, "mysql.devstack.local", time.Now().Add(time.Hour))
	cert, err := NewTLSCert(certPEM)
	require.NoError(t, err)

	require.NoError(t, caCert.VerifyCertificate(cert))

	// Certificate from a different CA fails
	other := newTestCA(t, "Other Root CA", nil)
	otherCertPEM, _ := issueLeaf(t, other, "mysql.devstack.local", time.Now().Add(time.Hour))
	otherCert, err := NewTLSCert(otherCertPEM)
	require.NoError(t, err)
	require.Error(t, caCert.VerifyCertificate(otherCert))
}

// TestSerialString tests the colon-separated hex serial format
func TestSerialString(t *testing.T) {
	ca := newTestCA(t, "Test Root CA", nil)
	certPEM, _ := issueLeaf(t, ca, "redis-1.devstack.local", time.Now().Add(time.Hour))

	cert, err := NewTLSCert(certPEM)
	require.NoError(t, err)

	serial, err := cert.SerialString()
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{2}(:[0-9a-f]{2})*$`, serial)

	parsed, err := cert.GetX509Cert()
	require.NoError(t, err)
	assert.Equal(t, FormatSerial(parsed), serial)
}

// TestTLSCertAccessors tests expiry and subject accessors
func TestTLSCertAccessors(t *testing.T) {
	ca := newTestCA(t, "Test Root CA", nil)
	notAfter := time.Now().Add(90 * 24 * time.Hour)
	certPEM, _ := issueLeaf(t, ca, "mongodb.devstack.local", notAfter)

	cert, err := NewTLSCert(certPEM)
	require.NoError(t, err)

	cn, err := cert.CommonName()
	require.NoError(t, err)
	assert.Equal(t, "mongodb.devstack.local", cn)

	expired, err := cert.IsExpired()
	require.NoError(t, err)
	assert.False(t, expired)

	gotNotAfter, err := cert.NotAfter()
	require.NoError(t, err)
	assert.WithinDuration(t, notAfter, gotNotAfter, 2*time.Second)
}
