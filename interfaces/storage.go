package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ArtifactName identifies a stored artifact inside an archive backend.
// Names are slash-separated relative paths, e.g.
// "backups/postgres/8f4c.../cert.pem" or "ca/ca-chain.pem".
type ArtifactName string

// NewArtifactName validates and returns an artifact name. Absolute paths
// and parent traversal are rejected because file backends join the name
// onto a root directory.
func NewArtifactName(name string) (ArtifactName, error) {
	if name == "" {
		return "", errors.New("artifact name must not be empty")
	}
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("artifact name %q must be relative", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("artifact name %q contains an invalid path segment", name)
		}
	}
	return ArtifactName(name), nil
}

// String returns the name as a plain string.
func (n ArtifactName) String() string {
	return string(n)
}

// ArchiveLocation represents a parsed archive backend URI.
type ArchiveLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname or bucket
	Path   string     // Resource path
	Query  url.Values // Query parameters
}

// NewArchiveLocation creates an archive location from a URI string with
// validation. Supported schemes are file:// and s3://.
func NewArchiveLocation(uri string) (ArchiveLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return ArchiveLocation{}, fmt.Errorf("invalid URI format: %w", err)
	}

	switch parsed.Scheme {
	case "file", "s3":
		// Valid scheme
	default:
		return ArchiveLocation{}, fmt.Errorf("unsupported archive scheme: %s", parsed.Scheme)
	}

	return ArchiveLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
	}, nil
}

// String returns the original URI string.
func (loc ArchiveLocation) String() string {
	return loc.Raw
}

// IsFile checks if this is a file system archive location.
func (loc ArchiveLocation) IsFile() bool {
	return loc.Scheme == "file"
}

// IsS3 checks if this is an S3 archive location.
func (loc ArchiveLocation) IsS3() bool {
	return loc.Scheme == "s3"
}

// GetParam returns a query parameter value.
func (loc ArchiveLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc ArchiveLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrArtifactNotFound is returned when a requested artifact does not
	// exist in the archive backend.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrBackendUnavailable is returned when an archive backend is not
	// accessible. This could be due to network issues, authentication
	// failures, or service outages.
	ErrBackendUnavailable = errors.New("archive backend unavailable")

	// ErrInvalidLocationURI is returned when an archive location URI is
	// malformed or unsupported.
	ErrInvalidLocationURI = errors.New("invalid archive location URI")
)

// ArchiveBackend provides named artifact storage for certificate backups
// and CA exports.
type ArchiveBackend interface {
	// Put stores an artifact under the given name, overwriting any
	// previous artifact with the same name.
	Put(ctx context.Context, name ArtifactName, data []byte) error

	// Get retrieves an artifact by name.
	Get(ctx context.Context, name ArtifactName) ([]byte, error)

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// ArchiveBackendFactory creates archive backends.
type ArchiveBackendFactory interface {
	// ArchiveBackendFor creates a backend from a URI.
	// Supports file:// and s3://
	ArchiveBackendFor(location ArchiveLocation) (ArchiveBackend, error)

	// CreateMultiBackend creates an aggregated archive backend that
	// writes to every location and reads from the first that answers.
	CreateMultiBackend(locations []ArchiveLocation) (ArchiveBackend, error)
}
