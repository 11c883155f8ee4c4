package fslock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLockExcludesSecondHolder tests that a held lock blocks another acquirer
func TestLockExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "postgres.lock")

	first := New(path)
	require.NoError(t, first.Acquire(context.Background()))

	second := New(path)
	ok, err := second.TryAcquire()
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire a held lock")

	require.NoError(t, first.Release())

	ok, err = second.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok, "lock must be acquirable after release")
	require.NoError(t, second.Release())
}

// TestAcquireRespectsContext tests that a blocked Acquire gives up on cancellation
func TestAcquireRespectsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mysql.lock")

	holder := New(path)
	require.NoError(t, holder.Acquire(context.Background()))
	defer holder.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	blocked := New(path)
	err := blocked.Acquire(ctx)
	require.Error(t, err)
}

// TestForService tests the per-service lock layout
func TestForService(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")

	lock, err := ForService(dir, "rabbitmq")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rabbitmq.lock"), lock.Path())

	require.NoError(t, lock.Acquire(context.Background()))
	require.NoError(t, lock.Release())
}
