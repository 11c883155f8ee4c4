package statushandler

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstack-core/secrets-provisioning/secretstore"
	"github.com/devstack-core/secrets-provisioning/secretstore/storetest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// statusServer wires a handler against a fake store and serves it over
// httptest, mirroring how the unsealer exposes it.
func statusServer(t *testing.T, store *storetest.Store) (*httptest.Server, *secretstore.Client) {
	t.Helper()

	client, err := secretstore.NewClient(&secretstore.Config{Address: store.URL(), Timeout: 10 * time.Second}, discardLogger())
	require.NoError(t, err)

	router := chi.NewRouter()
	NewHandler(client, discardLogger()).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, client
}

func TestSealStatusOnFreshStore(t *testing.T) {
	store := storetest.New(t)
	srv, _ := statusServer(t, store)

	state, err := SealStatus(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, state.Initialized)
	assert.True(t, state.Sealed)
}

func TestSealStatusAfterUnseal(t *testing.T) {
	store := storetest.New(t)
	srv, client := statusServer(t, store)
	ctx := context.Background()

	set, err := client.Initialize(ctx, 3, 2)
	require.NoError(t, err)
	for _, share := range set.UnsealKeysB64[:2] {
		_, err = client.SubmitUnsealShare(ctx, share)
		require.NoError(t, err)
	}

	state, err := SealStatus(ctx, srv.URL)
	require.NoError(t, err)
	assert.True(t, state.Initialized)
	assert.False(t, state.Sealed)
	assert.Equal(t, 3, state.TotalShares)
	assert.Equal(t, 2, state.ShareThreshold)
}

func TestSealStatusSurvivesSealedStore(t *testing.T) {
	store := storetest.New(t)
	srv, client := statusServer(t, store)
	ctx := context.Background()

	set, err := client.Initialize(ctx, 1, 1)
	require.NoError(t, err)
	_, err = client.SubmitUnsealShare(ctx, set.UnsealKeysB64[0])
	require.NoError(t, err)
	store.Seal()

	state, err := SealStatus(ctx, srv.URL)
	require.NoError(t, err, "seal status must remain readable on a sealed store")
	assert.True(t, state.Sealed)
	assert.Equal(t, 0, state.Progress, "no unseal attempt in progress")
}

func TestCAChainNotProvisioned(t *testing.T) {
	store := storetest.New(t)
	srv, client := statusServer(t, store)
	ctx := context.Background()

	set, err := client.Initialize(ctx, 1, 1)
	require.NoError(t, err)
	_, err = client.SubmitUnsealShare(ctx, set.UnsealKeysB64[0])
	require.NoError(t, err)

	_, err = CAChain(ctx, srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestCAChainWhileSealed(t *testing.T) {
	store := storetest.New(t)
	srv, _ := statusServer(t, store)

	_, err := CAChain(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestCAChainServesPEM(t *testing.T) {
	store := storetest.New(t)
	srv, client := statusServer(t, store)
	ctx := context.Background()

	set, err := client.Initialize(ctx, 1, 1)
	require.NoError(t, err)
	client.SetToken(set.RootToken)
	_, err = client.SubmitUnsealShare(ctx, set.UnsealKeysB64[0])
	require.NoError(t, err)

	require.NoError(t, client.EnablePKIEngine(ctx, secretstore.RootPKIMount, "Root CA", "87600h"))
	require.NoError(t, client.EnablePKIEngine(ctx, secretstore.IntermediatePKIMount, "Intermediate CA", "43800h"))
	_, err = client.GenerateRootCA(ctx, "DevStack Root CA", "87600h")
	require.NoError(t, err)
	csr, err := client.GenerateIntermediateCSR(ctx, "DevStack Intermediate CA", "43800h")
	require.NoError(t, err)
	signed, err := client.SignIntermediate(ctx, csr, "43800h")
	require.NoError(t, err)
	require.NoError(t, client.SetSignedIntermediate(ctx, signed))

	chain, err := CAChain(ctx, srv.URL)
	require.NoError(t, err)
	assert.Contains(t, string(chain), "-----BEGIN CERTIFICATE-----")
	assert.Contains(t, string(chain), "-----END CERTIFICATE-----")
}
