package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// ArchiveBackendFactory creates archive backends from location URIs and
// aggregates several locations into a replicating multi-backend.
type ArchiveBackendFactory struct {
	log *slog.Logger
}

// NewArchiveBackendFactory creates a factory instance.
func NewArchiveBackendFactory(log *slog.Logger) *ArchiveBackendFactory {
	return &ArchiveBackendFactory{log: log}
}

// ArchiveBackendFor creates an archive backend from a location.
//
// Supported schemes:
//   - file:// - Local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
func (f *ArchiveBackendFactory) ArchiveBackendFor(location interfaces.ArchiveLocation) (interfaces.ArchiveBackend, error) {
	switch {
	case location.IsFile():
		return f.createFileBackend(location)
	case location.IsS3():
		return f.createS3Backend(location)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// CreateMultiBackend creates a replicating archive backend from a list
// of locations. Invalid locations are skipped with a warning; at least
// one backend must be creatable.
func (f *ArchiveBackendFactory) CreateMultiBackend(locations []interfaces.ArchiveLocation) (interfaces.ArchiveBackend, error) {
	backends := make([]interfaces.ArchiveBackend, 0, len(locations))

	for _, location := range locations {
		backend, err := f.ArchiveBackendFor(location)
		if err != nil {
			f.log.Warn("Failed to create archive backend",
				"err", err,
				slog.String("location", location.String()))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid archive backends created")
	}

	return NewMultiArchiveBackend(backends, f.log), nil
}

// createFileBackend creates a file system archive backend.
// URI format: file:///absolute/path
func (f *ArchiveBackendFactory) createFileBackend(location interfaces.ArchiveLocation) (interfaces.ArchiveBackend, error) {
	f.log.Debug("Creating file archive backend", slog.String("uri", location.String()))

	path := location.Path
	if location.Host != "" {
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	return NewFileBackend(path, f.log)
}

// createS3Backend creates an S3 archive backend.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=minio.local:9000
func (f *ArchiveBackendFactory) createS3Backend(location interfaces.ArchiveLocation) (interfaces.ArchiveBackend, error) {
	f.log.Debug("Creating S3 archive backend", slog.String("uri", location.String()))

	bucketName := location.Host
	if bucketName == "" {
		return nil, fmt.Errorf("%w: missing bucket in S3 URI %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	prefix := strings.TrimPrefix(location.Path, "/")

	region := location.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := location.GetParam("endpoint")

	accessKey, secretKey := s3Credentials(location)

	return NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey, f.log)
}

// Credentials are not kept on ArchiveLocation itself; re-derive the
// userinfo part from the raw URI when building the backend.
func s3Credentials(location interfaces.ArchiveLocation) (accessKey, secretKey string) {
	u, err := url.Parse(location.Raw)
	if err != nil || u.User == nil {
		return "", ""
	}
	accessKey = u.User.Username()
	secretKey, _ = u.User.Password()
	return accessKey, secretKey
}
