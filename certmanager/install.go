package certmanager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// InstallCertificate writes a service's certificate material to the
// conventional on-disk layout and returns the resulting paths. The
// private key is owner-readable only; certificate and chain are world
// readable so containers running under other UIDs can mount them.
//
// Each file is written to a temporary name in the target directory and
// renamed into place. A reader never observes a half-written file, and
// a crash mid-install leaves the previous material intact.
func InstallCertificate(certsDir string, cert *interfaces.ServiceCertificate) (interfaces.CertificatePaths, error) {
	paths := interfaces.CertificatePathsFor(certsDir, cert.Service)

	dir := filepath.Dir(paths.CertFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return interfaces.CertificatePaths{}, fmt.Errorf("could not create certificate directory %s: %w", dir, err)
	}

	files := []struct {
		path string
		data []byte
		perm os.FileMode
	}{
		{paths.CertFile, pemTerminated(cert.CertPEM), 0o644},
		{paths.KeyFile, pemTerminated(cert.KeyPEM), 0o600},
		{paths.CAFile, pemTerminated(cert.CAChain), 0o644},
	}
	for _, f := range files {
		if err := installFile(f.path, f.data, f.perm); err != nil {
			return interfaces.CertificatePaths{}, err
		}
	}
	return paths, nil
}

// HasInstalledCertificate reports whether all three certificate files
// exist for a service.
func HasInstalledCertificate(certsDir string, service interfaces.ServiceName) bool {
	paths := interfaces.CertificatePathsFor(certsDir, service)
	for _, p := range []string{paths.CertFile, paths.KeyFile, paths.CAFile} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func installFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("could not write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("could not install %s: %w", path, err)
	}
	return nil
}

// pemTerminated guarantees a trailing newline; some store responses
// return PEM without one.
func pemTerminated(pemData []byte) []byte {
	if len(pemData) == 0 || pemData[len(pemData)-1] == '\n' {
		return pemData
	}
	return append(append([]byte{}, pemData...), '\n')
}
