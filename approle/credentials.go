package approle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// Credential file names inside a service's AppRole directory.
const (
	roleIDFile   = "role-id"
	secretIDFile = "secret-id"
)

// CredentialDir returns the conventional per-service credential
// directory: <configDir>/approles/<service>. The directory is mounted
// read-only into the service's runtime.
func CredentialDir(configDir string, service interfaces.ServiceName) string {
	return filepath.Join(configDir, "approles", service.String())
}

// HasCredentialFiles reports whether both credential files exist for a
// service.
func HasCredentialFiles(configDir string, service interfaces.ServiceName) bool {
	dir := CredentialDir(configDir, service)
	for _, name := range []string{roleIDFile, secretIDFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// WriteCredentialFiles persists a role-id/secret-id pair for a service
// with owner-only permissions. Each file is written to a temporary name
// and renamed into place so a crash never leaves a torn credential file.
func WriteCredentialFiles(configDir string, service interfaces.ServiceName, roleID, secretID string) error {
	dir := CredentialDir(configDir, service)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("could not create credential directory %s: %w", dir, err)
	}

	files := map[string]string{roleIDFile: roleID, secretIDFile: secretID}
	for name, value := range files {
		path := filepath.Join(dir, name)
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, []byte(value+"\n"), 0o600); err != nil {
			return fmt.Errorf("could not write %s: %w", path, err)
		}
		if err := os.Rename(tmp, path); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("could not install %s: %w", path, err)
		}
	}
	return nil
}

// ReadCredentialFiles loads a service's persisted credential pair.
// Absent files surface as os.ErrNotExist so callers can distinguish
// "never provisioned" from a read failure.
func ReadCredentialFiles(configDir string, service interfaces.ServiceName) (roleID, secretID string, err error) {
	dir := CredentialDir(configDir, service)

	roleID, err = readCredentialFile(filepath.Join(dir, roleIDFile))
	if err != nil {
		return "", "", err
	}
	secretID, err = readCredentialFile(filepath.Join(dir, secretIDFile))
	if err != nil {
		return "", "", err
	}
	return roleID, secretID, nil
}

func readCredentialFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("credential file %s: %w", path, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("credential file %s is empty", path)
	}
	return value, nil
}
