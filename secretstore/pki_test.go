package secretstore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstack-core/secrets-provisioning/cryptoutils"
	"github.com/devstack-core/secrets-provisioning/interfaces"
	"github.com/devstack-core/secrets-provisioning/secretstore/storetest"
)

var serialRe = regexp.MustCompile(`^[0-9a-f]{2}(:[0-9a-f]{2})+$`)

// setupPKI mounts both PKI engines and builds the two-tier CA: a root,
// an intermediate CSR signed by the root, and the installed result.
func setupPKI(t *testing.T, ctx context.Context, client *Client) {
	t.Helper()

	require.NoError(t, client.EnablePKIEngine(ctx, RootPKIMount, "root CA", "87600h"))
	require.NoError(t, client.EnablePKIEngine(ctx, IntermediatePKIMount, "intermediate CA", "43800h"))

	_, err := client.GenerateRootCA(ctx, "DevStack Root CA", "87600h")
	require.NoError(t, err)

	csr, err := client.GenerateIntermediateCSR(ctx, "DevStack Intermediate CA", "43800h")
	require.NoError(t, err)

	signed, err := client.SignIntermediate(ctx, csr, "43800h")
	require.NoError(t, err)

	require.NoError(t, client.SetSignedIntermediate(ctx, signed))
}

// TestPKIBootstrapFlow builds the CA hierarchy and checks the resulting
// chain and validity windows.
func TestPKIBootstrapFlow(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	client := newTestClient(t, store, "")
	initAndUnseal(t, ctx, client)

	require.NoError(t, client.EnablePKIEngine(ctx, RootPKIMount, "root CA", "87600h"))
	require.NoError(t, client.EnablePKIEngine(ctx, IntermediatePKIMount, "intermediate CA", "43800h"))

	hasRoot, err := client.HasRootCA(ctx)
	require.NoError(t, err)
	assert.False(t, hasRoot)

	rootInfo, err := client.GenerateRootCA(ctx, "DevStack Root CA", "87600h")
	require.NoError(t, err)
	assert.Equal(t, "DevStack Root CA", rootInfo.CommonName)
	assert.Regexp(t, serialRe, rootInfo.Serial)

	hasRoot, err = client.HasRootCA(ctx)
	require.NoError(t, err)
	assert.True(t, hasRoot)

	hasInter, err := client.HasIntermediateCA(ctx)
	require.NoError(t, err)
	assert.False(t, hasInter)

	csr, err := client.GenerateIntermediateCSR(ctx, "DevStack Intermediate CA", "43800h")
	require.NoError(t, err)
	assert.Contains(t, string(csr), "CERTIFICATE REQUEST")

	signed, err := client.SignIntermediate(ctx, csr, "43800h")
	require.NoError(t, err)
	require.NoError(t, client.SetSignedIntermediate(ctx, signed))

	hasInter, err = client.HasIntermediateCA(ctx)
	require.NoError(t, err)
	assert.True(t, hasInter)

	interInfo, err := client.IntermediateCAInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "DevStack Intermediate CA", interInfo.CommonName)
	assert.True(t, rootInfo.ContainsWindow(interInfo.NotBefore, interInfo.NotAfter),
		"intermediate validity must nest inside the root's")

	chain, err := client.CAChain(ctx)
	require.NoError(t, err)
	certs := cryptoutils.SplitPEMCertificates(chain)
	require.Len(t, certs, 2, "chain should hold intermediate and root")
}

// TestIssueCertificate issues a leaf through a service role and
// validates the returned material end to end.
func TestIssueCertificate(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	client := newTestClient(t, store, "")
	initAndUnseal(t, ctx, client)
	setupPKI(t, ctx, client)

	require.NoError(t, client.EnsureIssuingRole(ctx, "postgres", "devstack.local", "8760h"))

	cert, err := client.IssueCertificate(ctx, "postgres", "postgres.devstack.local", "8760h")
	require.NoError(t, err)

	assert.Equal(t, interfaces.ServiceName("postgres"), cert.Service)
	assert.Equal(t, "postgres.devstack.local", cert.CommonName)
	assert.Regexp(t, serialRe, cert.Serial)
	assert.NotEmpty(t, cert.KeyPEM)
	assert.NotEmpty(t, cert.CAChain)

	// Key matches certificate, certificate chains to the CA
	require.NoError(t, cryptoutils.VerifyCertificate(cert.KeyPEM, cert.CertPEM, "postgres.devstack.local"))
	require.NoError(t, cryptoutils.VerifyCertificateChain(cert.CertPEM, cert.CAChain))

	remaining := time.Until(cert.NotAfter)
	assert.Greater(t, remaining, 8000*time.Hour)
	assert.LessOrEqual(t, remaining, 8760*time.Hour)

	interInfo, err := client.IntermediateCAInfo(ctx)
	require.NoError(t, err)
	assert.False(t, cert.NotAfter.After(interInfo.NotAfter),
		"leaf must not outlive the intermediate")
}

// TestIssueCertificateLocalhost covers the localhost escape hatch used
// for loopback-only development certificates.
func TestIssueCertificateLocalhost(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	client := newTestClient(t, store, "")
	initAndUnseal(t, ctx, client)
	setupPKI(t, ctx, client)

	require.NoError(t, client.EnsureIssuingRole(ctx, "redis-1", "devstack.local", "8760h"))

	cert, err := client.IssueCertificate(ctx, "redis-1", "localhost", "720h")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cert.CommonName)
}

// TestIssueRejectsForeignCommonName enforces the role's domain
// constraint: a service role must not issue for another service's name.
func TestIssueRejectsForeignCommonName(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	client := newTestClient(t, store, "")
	initAndUnseal(t, ctx, client)
	setupPKI(t, ctx, client)

	require.NoError(t, client.EnsureIssuingRole(ctx, "postgres", "devstack.local", "8760h"))

	_, err := client.IssueCertificate(ctx, "postgres", "mysql.devstack.local", "8760h")
	require.Error(t, err)
	assert.False(t, interfaces.IsRetryable(err))

	_, err = client.IssueCertificate(ctx, "postgres", "sub.postgres.devstack.local", "8760h")
	require.Error(t, err, "subdomains are not allowed either")
}

// TestIssueUnknownRole fails when no role was configured for the
// service.
func TestIssueUnknownRole(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	client := newTestClient(t, store, "")
	initAndUnseal(t, ctx, client)
	setupPKI(t, ctx, client)

	_, err := client.IssueCertificate(ctx, "forgejo", "forgejo.devstack.local", "8760h")
	require.Error(t, err)
}

// TestRevokeCertificate revokes an issued leaf and sees the revocation
// time both in the revoke response and the serial lookup.
func TestRevokeCertificate(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	client := newTestClient(t, store, "")
	initAndUnseal(t, ctx, client)
	setupPKI(t, ctx, client)

	require.NoError(t, client.EnsureIssuingRole(ctx, "rabbitmq", "devstack.local", "8760h"))
	cert, err := client.IssueCertificate(ctx, "rabbitmq", "rabbitmq.devstack.local", "8760h")
	require.NoError(t, err)

	pemBytes, revokedAt, err := client.CertificateBySerial(ctx, cert.Serial)
	require.NoError(t, err)
	assert.NotEmpty(t, pemBytes)
	assert.True(t, revokedAt.IsZero(), "fresh certificate is not revoked")

	revocationTime, err := client.RevokeCertificate(ctx, cert.Serial)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), revocationTime, time.Minute)

	_, revokedAt, err = client.CertificateBySerial(ctx, cert.Serial)
	require.NoError(t, err)
	assert.False(t, revokedAt.IsZero())

	_, err = client.RevokeCertificate(ctx, "de:ad:be:ef")
	require.Error(t, err)
}

// TestEnablePKIEngineConflict reports an existing mount as a conflict.
func TestEnablePKIEngineConflict(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	client := newTestClient(t, store, "")
	initAndUnseal(t, ctx, client)

	require.NoError(t, client.EnablePKIEngine(ctx, RootPKIMount, "root CA", "87600h"))
	err := client.EnablePKIEngine(ctx, RootPKIMount, "root CA", "87600h")
	require.Error(t, err)
	assert.True(t, interfaces.IsIdempotencyConflict(err))
}
