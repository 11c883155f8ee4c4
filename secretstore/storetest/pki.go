package storetest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devstack-core/secrets-provisioning/cryptoutils"
)

type pkiState struct {
	root       *caKeypair
	inter      *caKeypair
	pendingKey *ecdsa.PrivateKey
	roles      map[string]*pkiRole
	issued     map[string]*issuedCert
}

type caKeypair struct {
	key      *ecdsa.PrivateKey
	cert     *x509.Certificate
	pemBytes []byte
}

type pkiRole struct {
	allowedDomains   []string
	allowBareDomains bool
	allowSubdomains  bool
	allowLocalhost   bool
	allowIPSANs      bool
	maxTTL           time.Duration
}

type issuedCert struct {
	pemBytes       []byte
	revocationTime int64
}

func newPKIState() *pkiState {
	return &pkiState{
		roles:  map[string]*pkiRole{},
		issued: map[string]*issuedCert{},
	}
}

func (s *Store) handleRootGenerate(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mount, ok := s.mounts["pki/"]
	if !ok {
		respondError(w, http.StatusBadRequest, "no secrets engine mounted at pki/")
		return
	}
	if s.pki.root != nil {
		respondError(w, http.StatusBadRequest, "a root certificate already exists")
		return
	}

	cn := stringIn(body, "common_name")
	if cn == "" {
		respondError(w, http.StatusBadRequest, "the common_name field is required")
		return
	}

	ttl := parseTTL(body["ttl"], mount.MaxLeaseTTL)
	if ttl <= 0 {
		ttl = 87600 * time.Hour
	}

	ca, err := newCAKeypair(cn, time.Now().Add(ttl), nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.pki.root = ca

	respondData(w, map[string]interface{}{
		"certificate":   string(ca.pemBytes),
		"issuing_ca":    string(ca.pemBytes),
		"serial_number": cryptoutils.FormatSerial(ca.cert),
	})
}

func (s *Store) handleIntermediateGenerate(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mounts["pki_int/"]; !ok {
		respondError(w, http.StatusBadRequest, "no secrets engine mounted at pki_int/")
		return
	}

	cn := stringIn(body, "common_name")
	if cn == "" {
		respondError(w, http.StatusBadRequest, "the common_name field is required")
		return
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: cn},
	}, key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.pki.pendingKey = key
	respondData(w, map[string]interface{}{
		"csr": string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER})),
	})
}

func (s *Store) handleSignIntermediate(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	root := s.pki.root
	if root == nil {
		respondError(w, http.StatusBadRequest, "no root certificate configured")
		return
	}

	csr, err := parseCSR(stringIn(body, "csr"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	notAfter := time.Now().Add(parseTTL(body["ttl"], 43800*time.Hour))
	if notAfter.After(root.cert.NotAfter) {
		notAfter = root.cert.NotAfter
	}

	template := &x509.Certificate{
		SerialNumber:          randomSerial(),
		Subject:               csr.Subject,
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, root.cert, csr.PublicKey, root.key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	certPEM := pemEncodeCert(der)
	respondData(w, map[string]interface{}{
		"certificate":   string(certPEM),
		"issuing_ca":    string(root.pemBytes),
		"ca_chain":      []interface{}{string(certPEM), string(root.pemBytes)},
		"serial_number": cryptoutils.FormatSerial(cert),
	})
}

func (s *Store) handleSetSignedIntermediate(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cert, der, err := parseFirstCert(stringIn(body, "certificate"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !cert.IsCA {
		respondError(w, http.StatusBadRequest, "certificate is not a CA certificate")
		return
	}

	pending := s.pki.pendingKey
	if pending == nil {
		respondError(w, http.StatusBadRequest, "no pending intermediate key to match against")
		return
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok || !pub.Equal(pending.Public()) {
		respondError(w, http.StatusBadRequest, "certificate does not match the intermediate key")
		return
	}

	s.pki.inter = &caKeypair{key: pending, cert: cert, pemBytes: pemEncodeCert(der)}
	s.pki.pendingKey = nil
	w.WriteHeader(http.StatusNoContent)
}

func (s *Store) handlePKIRole(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	body, err := decodeBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mounts["pki_int/"]; !ok {
		respondError(w, http.StatusBadRequest, "no secrets engine mounted at pki_int/")
		return
	}

	s.pki.roles[service] = &pkiRole{
		allowedDomains:   splitPolicies(body["allowed_domains"]),
		allowBareDomains: boolField(body, "allow_bare_domains"),
		allowSubdomains:  boolField(body, "allow_subdomains"),
		allowLocalhost:   boolField(body, "allow_localhost"),
		allowIPSANs:      boolField(body, "allow_ip_sans"),
		maxTTL:           parseTTL(body["max_ttl"], 0),
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ro *pkiRole) allowsCommonName(cn string) bool {
	if ro.allowLocalhost && cn == "localhost" {
		return true
	}
	for _, domain := range ro.allowedDomains {
		if ro.allowBareDomains && cn == domain {
			return true
		}
		if ro.allowSubdomains && strings.HasSuffix(cn, "."+domain) {
			return true
		}
	}
	return false
}

func (s *Store) handleIssue(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	body, err := decodeBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.pki.roles[service]
	if !ok {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown role: %s", service))
		return
	}
	inter := s.pki.inter
	if inter == nil {
		respondError(w, http.StatusBadRequest, "no intermediate certificate configured")
		return
	}

	cn := stringIn(body, "common_name")
	if cn == "" {
		respondError(w, http.StatusBadRequest, "the common_name field is required")
		return
	}
	if !role.allowsCommonName(cn) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("common name %q not allowed by this role", cn))
		return
	}

	ttl := parseTTL(body["ttl"], role.maxTTL)
	if role.maxTTL > 0 && ttl > role.maxTTL {
		ttl = role.maxTTL
	}
	if ttl <= 0 {
		ttl = 720 * time.Hour
	}
	notAfter := time.Now().Add(ttl)
	if notAfter.After(inter.cert.NotAfter) {
		notAfter = inter.cert.NotAfter
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	template := &x509.Certificate{
		SerialNumber: randomSerial(),
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     []string{cn},
		NotBefore:    time.Now().Add(-5 * time.Minute),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, inter.cert, key.Public(), inter.key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	serial := cryptoutils.FormatSerial(cert)
	certPEM := pemEncodeCert(der)
	s.pki.issued[serial] = &issuedCert{pemBytes: certPEM}

	respondData(w, map[string]interface{}{
		"certificate":      string(certPEM),
		"issuing_ca":       string(inter.pemBytes),
		"ca_chain":         []interface{}{string(inter.pemBytes), string(s.pki.root.pemBytes)},
		"private_key":      string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})),
		"private_key_type": "ec",
		"serial_number":    serial,
		"expiration":       notAfter.Unix(),
	})
}

func (s *Store) handleRevoke(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	serial := stringIn(body, "serial_number")
	rec, ok := s.pki.issued[serial]
	if !ok {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("certificate with serial %s not found", serial))
		return
	}
	if rec.revocationTime == 0 {
		rec.revocationTime = time.Now().Unix()
	}
	respondData(w, map[string]interface{}{
		"revocation_time": rec.revocationTime,
		"state":           "revoked",
	})
}

func (s *Store) handleCertCA(mount string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		ca := s.pki.root
		if mount == "pki_int" {
			ca = s.pki.inter
		}
		if ca == nil {
			respondNotFound(w)
			return
		}
		respondData(w, map[string]interface{}{
			"certificate":     string(ca.pemBytes),
			"revocation_time": 0,
		})
	}
}

func (s *Store) handleCertChain(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pki.inter == nil || s.pki.root == nil {
		respondNotFound(w)
		return
	}
	respondData(w, map[string]interface{}{
		"certificate": string(s.pki.inter.pemBytes) + string(s.pki.root.pemBytes),
	})
}

func (s *Store) handleCertBySerial(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.pki.issued[serial]
	if !ok {
		respondNotFound(w)
		return
	}
	respondData(w, map[string]interface{}{
		"certificate":     string(rec.pemBytes),
		"revocation_time": rec.revocationTime,
	})
}

// --- certificate helpers ---

func newCAKeypair(cn string, notAfter time.Time, parent *caKeypair) (*caKeypair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber:          randomSerial(),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
	}
	signerCert, signerKey := template, key
	if parent != nil {
		signerCert, signerKey = parent.cert, parent.key
	}
	der, err := x509.CreateCertificate(rand.Reader, template, signerCert, key.Public(), signerKey)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &caKeypair{key: key, cert: cert, pemBytes: pemEncodeCert(der)}, nil
}

func parseCSR(pemData string) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("csr contains no PEM data")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("could not parse csr: %v", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("csr signature check failed: %v", err)
	}
	return csr, nil
}

func parseFirstCert(pemData string) (*x509.Certificate, []byte, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, nil, fmt.Errorf("no certificate PEM block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("could not parse certificate: %v", err)
	}
	return cert, block.Bytes, nil
}

func pemEncodeCert(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func randomSerial() *big.Int {
	return new(big.Int).SetBytes(randomBytes(16))
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func boolField(body map[string]interface{}, key string) bool {
	switch v := body[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}
