package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// MockArchiveBackend implements interfaces.ArchiveBackend for testing
type MockArchiveBackend struct {
	mock.Mock
	name string
}

func (m *MockArchiveBackend) Put(ctx context.Context, name interfaces.ArtifactName, data []byte) error {
	args := m.Called(ctx, name, data)
	return args.Error(0)
}

func (m *MockArchiveBackend) Get(ctx context.Context, name interfaces.ArtifactName) ([]byte, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockArchiveBackend) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockArchiveBackend) Name() string {
	return m.name
}

func (m *MockArchiveBackend) LocationURI() string {
	return "mock://" + m.name
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestMultiArchiveAvailable reports availability when any backend is up.
func TestMultiArchiveAvailable(t *testing.T) {
	tests := []struct {
		name     string
		backends []bool
		expected bool
	}{
		{name: "all backends available", backends: []bool{true, true}, expected: true},
		{name: "one backend available", backends: []bool{false, true}, expected: true},
		{name: "no backends available", backends: []bool{false, false}, expected: false},
		{name: "no backends", backends: []bool{}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.ArchiveBackend
			for i, available := range tt.backends {
				m := &MockArchiveBackend{name: string(rune('a' + i))}
				m.On("Available", mock.Anything).Return(available)
				backends = append(backends, m)
			}

			multi := NewMultiArchiveBackend(backends, testLogger())
			assert.Equal(t, tt.expected, multi.Available(context.Background()))
		})
	}
}

// TestMultiArchivePutReplicates writes to every available backend and
// tolerates a single failure.
func TestMultiArchivePutReplicates(t *testing.T) {
	ctx := context.Background()
	name := interfaces.ArtifactName("backups/postgres/manifest.json")
	data := []byte(`{"id":"x"}`)

	good := &MockArchiveBackend{name: "good"}
	good.On("Available", mock.Anything).Return(true)
	good.On("Put", mock.Anything, name, data).Return(nil)

	flaky := &MockArchiveBackend{name: "flaky"}
	flaky.On("Available", mock.Anything).Return(true)
	flaky.On("Put", mock.Anything, name, data).Return(errors.New("bucket gone"))

	down := &MockArchiveBackend{name: "down"}
	down.On("Available", mock.Anything).Return(false)

	multi := NewMultiArchiveBackend([]interfaces.ArchiveBackend{good, flaky, down}, testLogger())
	require.NoError(t, multi.Put(ctx, name, data))

	good.AssertCalled(t, "Put", mock.Anything, name, data)
	flaky.AssertCalled(t, "Put", mock.Anything, name, data)
	down.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
}

// TestMultiArchivePutAllFail surfaces an error when nothing accepted the
// write.
func TestMultiArchivePutAllFail(t *testing.T) {
	ctx := context.Background()
	name := interfaces.ArtifactName("backups/mysql/cert.pem")

	broken := &MockArchiveBackend{name: "broken"}
	broken.On("Available", mock.Anything).Return(true)
	broken.On("Put", mock.Anything, name, mock.Anything).Return(errors.New("disk full"))

	down := &MockArchiveBackend{name: "down"}
	down.On("Available", mock.Anything).Return(false)

	multi := NewMultiArchiveBackend([]interfaces.ArchiveBackend{broken, down}, testLogger())
	err := multi.Put(ctx, name, []byte("pem"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

// TestMultiArchiveGetFirstHit returns the first backend's artifact and
// falls through misses.
func TestMultiArchiveGetFirstHit(t *testing.T) {
	ctx := context.Background()
	name := interfaces.ArtifactName("ca/ca-chain.pem")
	want := []byte("chain")

	missing := &MockArchiveBackend{name: "missing"}
	missing.On("Available", mock.Anything).Return(true)
	missing.On("Get", mock.Anything, name).Return(nil, interfaces.ErrArtifactNotFound)

	holder := &MockArchiveBackend{name: "holder"}
	holder.On("Available", mock.Anything).Return(true)
	holder.On("Get", mock.Anything, name).Return(want, nil)

	multi := NewMultiArchiveBackend([]interfaces.ArchiveBackend{missing, holder}, testLogger())
	got, err := multi.Get(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// TestMultiArchiveGetAllMiss fails when no backend holds the artifact.
func TestMultiArchiveGetAllMiss(t *testing.T) {
	ctx := context.Background()
	name := interfaces.ArtifactName("backups/unknown")

	a := &MockArchiveBackend{name: "a"}
	a.On("Available", mock.Anything).Return(true)
	a.On("Get", mock.Anything, name).Return(nil, interfaces.ErrArtifactNotFound)

	multi := NewMultiArchiveBackend([]interfaces.ArchiveBackend{a}, testLogger())
	_, err := multi.Get(ctx, name)
	require.Error(t, err)
}

// TestMultiArchiveLocationURI aggregates member URIs.
func TestMultiArchiveLocationURI(t *testing.T) {
	a := &MockArchiveBackend{name: "a"}
	b := &MockArchiveBackend{name: "b"}
	multi := NewMultiArchiveBackend([]interfaces.ArchiveBackend{a, b}, testLogger())
	assert.Equal(t, "multi:[mock://a,mock://b]", multi.LocationURI())
}
