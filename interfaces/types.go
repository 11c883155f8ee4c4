package interfaces

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"time"
)

// ServiceName identifies a managed service in the fleet.
type ServiceName string

var serviceNameRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// NewServiceName creates a service name with validation. Names are
// lowercase DNS-label style: letters, digits and hyphens, at most 63
// characters, no leading or trailing hyphen.
func NewServiceName(name string) (ServiceName, error) {
	if !serviceNameRegex.MatchString(name) {
		return ServiceName(""), fmt.Errorf("invalid service name %q: must match %s", name, serviceNameRegex.String())
	}
	return ServiceName(name), nil
}

// String returns the service name as a string.
func (n ServiceName) String() string {
	return string(n)
}

// Validate checks if the service name has a valid format.
func (n ServiceName) Validate() error {
	_, err := NewServiceName(string(n))
	return err
}

// SecretDataPath returns the full KV v2 data path for this service's
// SecretEntry, as used in policy documents and API requests.
func (n ServiceName) SecretDataPath() string {
	return path.Join("secret", "data", string(n))
}

// SecretMetadataPath returns the KV v2 metadata path for this service's
// SecretEntry.
func (n ServiceName) SecretMetadataPath() string {
	return path.Join("secret", "metadata", string(n))
}

// PolicyName returns the name of the least-privilege read policy bound
// to this service's authentication role.
func (n ServiceName) PolicyName() string {
	return string(n) + "-read"
}

// CommonName returns the certificate common name for this service under
// the given base domain.
func (n ServiceName) CommonName(baseDomain string) string {
	return string(n) + "." + baseDomain
}

// SealState describes the store's initialization and seal status.
type SealState struct {
	// Initialized reports whether the store has ever been initialized.
	Initialized bool

	// Sealed reports whether the store currently requires unsealing.
	Sealed bool

	// ShareThreshold is the number of distinct key shares required to unseal.
	ShareThreshold int

	// TotalShares is the number of key shares generated at initialization.
	TotalShares int

	// Progress is the number of shares accepted in the current unseal attempt.
	Progress int
}

// Validate checks the threshold invariant on an initialized store.
func (s SealState) Validate() error {
	if !s.Initialized {
		return nil
	}
	if s.ShareThreshold < 1 || s.TotalShares < 1 {
		return errors.New("initialized store must report positive share counts")
	}
	if s.ShareThreshold > s.TotalShares {
		return fmt.Errorf("share threshold %d exceeds total shares %d", s.ShareThreshold, s.TotalShares)
	}
	return nil
}

// CAInfo describes one tier of the certificate authority hierarchy.
type CAInfo struct {
	CommonName string
	NotBefore  time.Time
	NotAfter   time.Time
	Serial     string
}

// ContainsWindow reports whether the other CA's validity window is
// strictly contained within this one's. The intermediate must satisfy
// this against the root, and every leaf against the intermediate.
func (c CAInfo) ContainsWindow(notBefore, notAfter time.Time) bool {
	return !notBefore.Before(c.NotBefore) && !notAfter.After(c.NotAfter)
}

// ServiceCertificate is a leaf certificate issued to a single service by
// the intermediate CA, together with its private key and issuing chain.
type ServiceCertificate struct {
	Service    ServiceName
	CommonName string
	Serial     string
	NotAfter   time.Time
	CertPEM    []byte
	KeyPEM     []byte
	CAChain    []byte
}

// SecretEntry is the versioned credential record stored under a service's
// secret path. It is written only by the bootstrap orchestrator or an
// explicit rotation; the credential fetcher treats it as read-only.
type SecretEntry struct {
	Service    ServiceName
	Fields     map[string]string
	TLSEnabled bool
	Version    int
}

// Field returns a named field value and whether it was present.
func (e *SecretEntry) Field(name string) (string, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// Token lifetime bounds for AppRole-issued service tokens. The hard
// maximum caps how long a leaked token stays usable; processes that
// outlive it are restarted by their supervisor rather than renewing.
const (
	DefaultTokenTTL = time.Hour
	MaxTokenTTL     = 4 * time.Hour
)

// ServiceToken is the ephemeral bearer credential returned by an AppRole
// login exchange. It is held in process memory only and never persisted.
type ServiceToken struct {
	Token    string
	Accessor string
	TTL      time.Duration
	Policies []string
}

// CertificatePaths locates a service's TLS material on disk.
type CertificatePaths struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// CertificatePathsFor returns the conventional on-disk layout for a
// service's certificate directory: cert.pem, key.pem and ca.pem under
// <certsDir>/<service>/.
func CertificatePathsFor(certsDir string, service ServiceName) CertificatePaths {
	dir := path.Join(certsDir, service.String())
	return CertificatePaths{
		CertFile: path.Join(dir, "cert.pem"),
		KeyFile:  path.Join(dir, "key.pem"),
		CAFile:   path.Join(dir, "ca.pem"),
	}
}

// CredentialBundle is the fully-resolved set of credentials materialized
// for a service process at start-up. It exists only transiently between
// the credential fetch and the hand-off to the wrapped process.
type CredentialBundle struct {
	Fields     map[string]string
	TLSEnabled bool
	CertPaths  *CertificatePaths
}
