package secretstore

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstack-core/secrets-provisioning/interfaces"
	"github.com/devstack-core/secrets-provisioning/secretstore/storetest"
)

// TestEnableKVv2 mounts the engine once and reports a conflict on the
// second attempt.
func TestEnableKVv2(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	client := newTestClient(t, store, "")
	initAndUnseal(t, ctx, client)

	require.NoError(t, client.EnableKVv2(ctx))

	err := client.EnableKVv2(ctx)
	require.Error(t, err)
	assert.True(t, interfaces.IsIdempotencyConflict(err))
}

// TestPutGetSecret round-trips a credential entry including the
// reserved tls_enabled field and version counting.
func TestPutGetSecret(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	client := newTestClient(t, store, "")
	initAndUnseal(t, ctx, client)
	require.NoError(t, client.EnableKVv2(ctx))

	fields := map[string]string{"user": "postgres", "password": "s3cret"}
	written, err := client.PutSecret(ctx, "postgres", fields, true)
	require.NoError(t, err)
	assert.Equal(t, 1, written.Version)

	entry, err := client.GetSecret(ctx, "postgres")
	require.NoError(t, err)
	assert.Equal(t, interfaces.ServiceName("postgres"), entry.Service)
	assert.Equal(t, fields, entry.Fields)
	assert.True(t, entry.TLSEnabled)
	assert.Equal(t, 1, entry.Version)

	_, hasTLSField := entry.Fields["tls_enabled"]
	assert.False(t, hasTLSField, "reserved field must not leak into credential fields")

	rotated, err := client.PutSecret(ctx, "postgres", map[string]string{"user": "postgres", "password": "rotated"}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, rotated.Version)

	entry, err = client.GetSecret(ctx, "postgres")
	require.NoError(t, err)
	assert.Equal(t, "rotated", entry.Fields["password"])
	assert.Equal(t, 2, entry.Version)
}

// TestGetSecretNotFound covers the missing-entry path.
func TestGetSecretNotFound(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	client := newTestClient(t, store, "")
	initAndUnseal(t, ctx, client)
	require.NoError(t, client.EnableKVv2(ctx))

	_, err := client.GetSecret(ctx, "mongodb")
	require.Error(t, err)
	assert.True(t, interfaces.IsNotFoundError(err))
	assert.False(t, interfaces.IsRetryable(err))

	exists, err := client.SecretExists(ctx, "mongodb")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = client.PutSecret(ctx, "mongodb", map[string]string{"password": "x"}, false)
	require.NoError(t, err)

	exists, err = client.SecretExists(ctx, "mongodb")
	require.NoError(t, err)
	assert.True(t, exists)
}

// TestRetryRecoversFromTransientReads injects two 500s and expects the
// third attempt to succeed.
func TestRetryRecoversFromTransientReads(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	client := newTestClient(t, store, "")
	initAndUnseal(t, ctx, client)
	require.NoError(t, client.EnableKVv2(ctx))

	_, err := client.PutSecret(ctx, "redis-1", map[string]string{"password": "x"}, false)
	require.NoError(t, err)

	store.FailNextKVReads(2)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	var entry *interfaces.SecretEntry
	err = WithRetry(ctx, log, "read-secret", fastRetryPolicy(5), func() error {
		var readErr error
		entry, readErr = client.GetSecret(ctx, "redis-1")
		return readErr
	})
	require.NoError(t, err)
	assert.Equal(t, "x", entry.Fields["password"])
	assert.Equal(t, 3, store.KVReadCount())
}

// TestRetryGivesUpAfterMaxAttempts keeps the store failing and verifies
// the attempt bound holds.
func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	client := newTestClient(t, store, "")
	initAndUnseal(t, ctx, client)
	require.NoError(t, client.EnableKVv2(ctx))

	store.FailNextKVReads(100)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := WithRetry(ctx, log, "read-secret", fastRetryPolicy(5), func() error {
		_, readErr := client.GetSecret(ctx, "redis-1")
		return readErr
	})
	require.Error(t, err)
	assert.True(t, interfaces.IsTransientNetworkError(err))
	assert.Equal(t, 5, store.KVReadCount())
}

// TestRetryDoesNotRepeatFatalErrors confirms a 404 is surfaced after a
// single attempt.
func TestRetryDoesNotRepeatFatalErrors(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	client := newTestClient(t, store, "")
	initAndUnseal(t, ctx, client)
	require.NoError(t, client.EnableKVv2(ctx))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := WithRetry(ctx, log, "read-secret", fastRetryPolicy(5), func() error {
		_, readErr := client.GetSecret(ctx, "absent")
		return readErr
	})
	require.Error(t, err)
	assert.True(t, interfaces.IsNotFoundError(err))
	assert.Equal(t, 1, store.KVReadCount())
}
