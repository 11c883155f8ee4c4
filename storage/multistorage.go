package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// MultiArchiveBackend implements interfaces.ArchiveBackend over several
// backends. Writes replicate to every available backend, reads return
// the first hit.
type MultiArchiveBackend struct {
	backends []interfaces.ArchiveBackend
	log      *slog.Logger
}

// NewMultiArchiveBackend creates a replicating archive backend.
func NewMultiArchiveBackend(backends []interfaces.ArchiveBackend, log *slog.Logger) *MultiArchiveBackend {
	if log == nil {
		log = slog.Default()
	}
	return &MultiArchiveBackend{
		backends: backends,
		log:      log,
	}
}

// Put stores an artifact in every available backend. It succeeds when at
// least one backend accepted the write; failures of the others are
// logged so the operator can restore redundancy.
func (m *MultiArchiveBackend) Put(ctx context.Context, name interfaces.ArtifactName, data []byte) error {
	start := time.Now()
	var stored int
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Archive backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("artifact", name.String()))
			continue
		}

		if err := backend.Put(ctx, name, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Failed to store artifact in backend",
				slog.String("backend_name", backend.Name()),
				slog.String("artifact", name.String()),
				"err", err)
			continue
		}
		stored++
	}

	if stored == 0 {
		m.log.Error("All archive backends failed to store artifact",
			slog.String("artifact", name.String()),
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("all archive backends failed to store %s: %v", name, errs)
	}

	if len(errs) > 0 {
		m.log.Warn("Artifact stored with reduced redundancy",
			slog.String("artifact", name.String()),
			slog.Int("stored", stored),
			slog.Int("failed", len(errs)))
	} else {
		m.log.Info("Artifact replicated to archives",
			slog.String("artifact", name.String()),
			slog.Int("stored", stored),
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}

// Get retrieves an artifact from the first backend that has it.
func (m *MultiArchiveBackend) Get(ctx context.Context, name interfaces.ArtifactName) ([]byte, error) {
	start := time.Now()
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Archive backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("artifact", name.String()))
			continue
		}

		data, err := backend.Get(ctx, name)
		if err == nil {
			m.log.Debug("Fetched artifact from archive",
				slog.String("backend_name", backend.Name()),
				slog.String("artifact", name.String()),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
	}

	m.log.Error("All archive backends failed to fetch artifact",
		slog.String("artifact", name.String()),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))
	return nil, fmt.Errorf("all archive backends failed to fetch %s: %v", name, errs)
}

// Available checks if any backend is available.
func (m *MultiArchiveBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend.
func (m *MultiArchiveBackend) Name() string {
	return "multi-archive"
}

// LocationURI returns the combined URI of the aggregated backends.
func (m *MultiArchiveBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}
	return "multi:[" + strings.Join(locations, ",") + "]"
}
