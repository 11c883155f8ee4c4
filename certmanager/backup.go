package certmanager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/devstack-core/secrets-provisioning/cryptoutils"
	"github.com/devstack-core/secrets-provisioning/interfaces"
)

const (
	manifestFileName = "manifest.json"
	encryptedSuffix  = ".enc"
)

// BackupFile records one backed-up artifact. Checksum covers the
// plaintext so a restore can detect corruption after decryption.
type BackupFile struct {
	File      string `json:"file"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupManifest describes one timestamped backup directory.
type BackupManifest struct {
	BackupID  string                `json:"backup_id"`
	Service   string                `json:"service"`
	Timestamp time.Time             `json:"timestamp"`
	Encrypted bool                  `json:"encrypted"`
	Files     map[string]BackupFile `json:"files"`
}

// BackupCertificate copies a service's installed certificate material
// into a fresh timestamped directory under BackupDir, writing a manifest
// with plaintext checksums. With a backup passphrase configured the
// copies are encrypted at rest. Configured archive locations receive a
// replica of every file; replication failure does not fail the backup.
func (m *Manager) BackupCertificate(ctx context.Context, service interfaces.ServiceName) (*BackupManifest, string, error) {
	if _, err := m.fleetSpec(service); err != nil {
		return nil, "", err
	}
	paths := interfaces.CertificatePathsFor(m.cfg.CertsDir, service)

	// RFC3339 in UTC is fixed width, so directory names sort
	// chronologically.
	now := time.Now().UTC()
	stamp := now.Format(time.RFC3339)
	dir := filepath.Join(m.cfg.BackupDir, service.String(), stamp)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, "", fmt.Errorf("could not create backup directory %s: %w", dir, err)
	}

	manifest := &BackupManifest{
		BackupID:  uuid.NewString(),
		Service:   service.String(),
		Timestamp: now,
		Encrypted: m.cfg.BackupPassphrase != "",
		Files:     make(map[string]BackupFile),
	}

	sources := []struct {
		name string
		path string
	}{
		{"cert.pem", paths.CertFile},
		{"key.pem", paths.KeyFile},
		{"ca.pem", paths.CAFile},
	}
	for _, src := range sources {
		plaintext, err := os.ReadFile(src.path)
		if err != nil {
			return nil, "", fmt.Errorf("cannot back up %s: %w", src.path, err)
		}
		sum := sha256.Sum256(plaintext)

		outName := src.name
		outData := plaintext
		if manifest.Encrypted {
			outName += encryptedSuffix
			outData, err = cryptoutils.EncryptWithPassphrase(m.cfg.BackupPassphrase, plaintext)
			if err != nil {
				return nil, "", fmt.Errorf("could not encrypt %s: %w", src.name, err)
			}
		}
		if err := installFile(filepath.Join(dir, outName), outData, 0o600); err != nil {
			return nil, "", err
		}

		manifest.Files[src.name] = BackupFile{
			File:      outName,
			SizeBytes: int64(len(outData)),
			Checksum:  "sha256:" + hex.EncodeToString(sum[:]),
		}
		m.replicate(ctx, service, stamp, outName, outData)
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("could not encode backup manifest: %w", err)
	}
	if err := installFile(filepath.Join(dir, manifestFileName), manifestJSON, 0o600); err != nil {
		return nil, "", err
	}
	m.replicate(ctx, service, stamp, manifestFileName, manifestJSON)

	m.log.Info("Backed up certificate material",
		slog.String("service", service.String()),
		slog.String("backup_id", manifest.BackupID),
		slog.String("path", dir),
		slog.Bool("encrypted", manifest.Encrypted))
	return manifest, dir, nil
}

// replicate pushes one backup file to the configured archive backends.
// The local copy under BackupDir is authoritative; losing a replica only
// costs redundancy, so failures are logged and swallowed.
func (m *Manager) replicate(ctx context.Context, service interfaces.ServiceName, stamp, file string, data []byte) {
	if m.archive == nil {
		return
	}
	name, err := interfaces.NewArtifactName(path.Join("backups", service.String(), stamp, file))
	if err != nil {
		m.log.Warn("Skipping backup replication", "err", err)
		return
	}
	if err := m.archive.Put(ctx, name, data); err != nil {
		m.log.Warn("Backup replication failed",
			slog.String("artifact", name.String()),
			"err", err)
	}
}

// RestoreBackup reinstates certificate material from a backup directory,
// decrypting when necessary and verifying every file against its
// manifest checksum before touching the live certificate directory.
func (m *Manager) RestoreBackup(service interfaces.ServiceName, backupDir string) error {
	manifest, err := ReadBackupManifest(backupDir)
	if err != nil {
		return err
	}
	if manifest.Service != service.String() {
		return fmt.Errorf("backup %s belongs to %s, not %s", backupDir, manifest.Service, service)
	}
	if manifest.Encrypted && m.cfg.BackupPassphrase == "" {
		return fmt.Errorf("backup %s is encrypted and no passphrase is configured", backupDir)
	}

	cert := &interfaces.ServiceCertificate{Service: service}
	targets := []struct {
		name string
		dst  *[]byte
	}{
		{"cert.pem", &cert.CertPEM},
		{"key.pem", &cert.KeyPEM},
		{"ca.pem", &cert.CAChain},
	}
	for _, t := range targets {
		entry, ok := manifest.Files[t.name]
		if !ok {
			return fmt.Errorf("backup %s has no entry for %s", backupDir, t.name)
		}
		data, err := os.ReadFile(filepath.Join(backupDir, entry.File))
		if err != nil {
			return fmt.Errorf("cannot read backup file: %w", err)
		}
		if manifest.Encrypted {
			data, err = cryptoutils.DecryptWithPassphrase(m.cfg.BackupPassphrase, data)
			if err != nil {
				return fmt.Errorf("could not decrypt %s: %w", entry.File, err)
			}
		}
		sum := sha256.Sum256(data)
		if got := "sha256:" + hex.EncodeToString(sum[:]); got != entry.Checksum {
			return fmt.Errorf("backup file %s failed checksum verification", entry.File)
		}
		*t.dst = data
	}

	if _, err := InstallCertificate(m.cfg.CertsDir, cert); err != nil {
		return fmt.Errorf("could not restore certificate material: %w", err)
	}
	m.log.Info("Restored certificate material from backup",
		slog.String("service", service.String()),
		slog.String("backup_id", manifest.BackupID))
	return nil
}

// ReadBackupManifest loads and decodes a backup directory's manifest.
func ReadBackupManifest(backupDir string) (*BackupManifest, error) {
	data, err := os.ReadFile(filepath.Join(backupDir, manifestFileName))
	if err != nil {
		return nil, fmt.Errorf("cannot read backup manifest: %w", err)
	}
	var manifest BackupManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("cannot decode backup manifest %s: %w", backupDir, err)
	}
	return &manifest, nil
}

// LatestBackup returns the most recent backup directory for a service,
// relying on the timestamp naming to sort chronologically.
func (m *Manager) LatestBackup(service interfaces.ServiceName) (string, error) {
	root := filepath.Join(m.cfg.BackupDir, service.String())
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("no backups for %s: %w", service, err)
	}
	var stamps []string
	for _, e := range entries {
		if e.IsDir() {
			stamps = append(stamps, e.Name())
		}
	}
	if len(stamps) == 0 {
		return "", fmt.Errorf("no backups for %s under %s", service, root)
	}
	sort.Strings(stamps)
	return filepath.Join(root, stamps[len(stamps)-1]), nil
}
