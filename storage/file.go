package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// FileBackend implements an archive backend on the local file system.
// Artifacts are stored under a base directory using their names as
// relative paths. Backup payloads can contain key material, so
// directories are created 0700 and files written 0600.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file archive backend rooted at baseDir,
// creating the directory if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Put writes an artifact under the base directory, overwriting any
// previous artifact with the same name.
func (b *FileBackend) Put(ctx context.Context, name interfaces.ArtifactName, data []byte) error {
	filePath := b.artifactPath(name)

	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}

	b.log.Debug("Stored artifact in file archive",
		slog.String("path", filePath),
		slog.Int("size", len(data)))
	return nil
}

// Get reads an artifact by name. Returns ErrArtifactNotFound if the
// file doesn't exist.
func (b *FileBackend) Get(ctx context.Context, name interfaces.ArtifactName) ([]byte, error) {
	filePath := b.artifactPath(name)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, interfaces.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	b.log.Debug("Fetched artifact from file archive",
		slog.String("path", filePath),
		slog.Int("size", len(data)))
	return data, nil
}

// Available checks if the backend is accessible by verifying the base
// directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File archive unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this archive backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this archive backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) artifactPath(name interfaces.ArtifactName) string {
	return filepath.Join(b.baseDir, filepath.FromSlash(name.String()))
}
