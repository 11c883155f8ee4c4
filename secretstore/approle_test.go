package secretstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstack-core/secrets-provisioning/interfaces"
	"github.com/devstack-core/secrets-provisioning/secretstore/storetest"
)

// TestPolicyDocument checks the rendered least-privilege policy grants
// read on exactly the service's own paths.
func TestPolicyDocument(t *testing.T) {
	doc := PolicyDocument("postgres")

	assert.Contains(t, doc, `path "secret/data/postgres"`)
	assert.Contains(t, doc, `path "secret/metadata/postgres"`)
	assert.Contains(t, doc, `capabilities = ["read"]`)
	assert.NotContains(t, doc, "create")
	assert.NotContains(t, doc, "update")
	assert.NotContains(t, doc, "*")
}

// TestAppRoleLoginFlow covers the whole machine-identity exchange: role
// creation, credential issuance, login, and the least-privilege scope of
// the resulting token.
func TestAppRoleLoginFlow(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	root := newTestClient(t, store, "")
	initAndUnseal(t, ctx, root)
	require.NoError(t, root.EnableKVv2(ctx))
	require.NoError(t, root.EnableAppRoleAuth(ctx))

	_, err := root.PutSecret(ctx, "postgres", map[string]string{"user": "postgres", "password": "a"}, true)
	require.NoError(t, err)
	_, err = root.PutSecret(ctx, "mysql", map[string]string{"user": "mysql", "password": "b"}, true)
	require.NoError(t, err)

	policy := interfaces.ServiceName("postgres").PolicyName()
	require.NoError(t, root.WritePolicy(ctx, policy, PolicyDocument("postgres")))
	require.NoError(t, root.EnsureAppRole(ctx, "postgres", []string{policy},
		interfaces.DefaultTokenTTL, interfaces.MaxTokenTTL))

	roleID, err := root.RoleID(ctx, "postgres")
	require.NoError(t, err)
	assert.NotEmpty(t, roleID)

	secretID, err := root.GenerateSecretID(ctx, "postgres")
	require.NoError(t, err)
	assert.NotEmpty(t, secretID)

	login := newTestClient(t, store, "")
	token, err := login.LoginAppRole(ctx, "postgres", roleID, secretID)
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
	assert.NotEmpty(t, token.Accessor)
	assert.Equal(t, time.Hour, token.TTL)
	assert.Contains(t, token.Policies, policy)

	// The service token reads its own entry and nothing else
	scoped := newTestClient(t, store, token.Token)

	entry, err := scoped.GetSecret(ctx, "postgres")
	require.NoError(t, err)
	assert.Equal(t, "postgres", entry.Fields["user"])

	_, err = scoped.GetSecret(ctx, "mysql")
	require.Error(t, err)
	assert.True(t, interfaces.IsAuthorizationError(err))
	assert.False(t, interfaces.IsRetryable(err))

	_, err = scoped.PutSecret(ctx, "postgres", map[string]string{"user": "x"}, false)
	require.Error(t, err)
	assert.True(t, interfaces.IsAuthorizationError(err), "read-only token must not write")
}

// TestLoginRejectsBadCredentials verifies a bad pair fails closed with
// an authentication error and is never retried.
func TestLoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	root := newTestClient(t, store, "")
	initAndUnseal(t, ctx, root)
	require.NoError(t, root.EnableAppRoleAuth(ctx))

	policy := interfaces.ServiceName("mongodb").PolicyName()
	require.NoError(t, root.WritePolicy(ctx, policy, PolicyDocument("mongodb")))
	require.NoError(t, root.EnsureAppRole(ctx, "mongodb", []string{policy},
		interfaces.DefaultTokenTTL, interfaces.MaxTokenTTL))

	roleID, err := root.RoleID(ctx, "mongodb")
	require.NoError(t, err)

	login := newTestClient(t, store, "")
	_, err = login.LoginAppRole(ctx, "mongodb", roleID, "wrong-secret-id")
	require.Error(t, err)
	assert.True(t, interfaces.IsAuthenticationError(err))
	assert.False(t, interfaces.IsRetryable(err))
	assert.Contains(t, err.Error(), "mongodb")
	assert.Equal(t, 1, store.LoginCount(), "an invalid pair is submitted exactly once")
}

// TestRoleIDMissingRole maps an absent role to NotFoundError.
func TestRoleIDMissingRole(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	root := newTestClient(t, store, "")
	initAndUnseal(t, ctx, root)
	require.NoError(t, root.EnableAppRoleAuth(ctx))

	_, err := root.RoleID(ctx, "forgejo")
	require.Error(t, err)
	assert.True(t, interfaces.IsNotFoundError(err))
}

// TestGetPolicyMissing maps an absent policy to NotFoundError.
func TestGetPolicyMissing(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	root := newTestClient(t, store, "")
	initAndUnseal(t, ctx, root)

	_, err := root.GetPolicy(ctx, "nonexistent-read")
	require.Error(t, err)
	assert.True(t, interfaces.IsNotFoundError(err))

	require.NoError(t, root.WritePolicy(ctx, "rabbitmq-read", PolicyDocument("rabbitmq")))
	rules, err := root.GetPolicy(ctx, "rabbitmq-read")
	require.NoError(t, err)
	assert.Contains(t, rules, "secret/data/rabbitmq")
}

// TestEnableAppRoleAuthConflict reports an existing auth mount as a
// conflict.
func TestEnableAppRoleAuthConflict(t *testing.T) {
	ctx := context.Background()
	store := storetest.New(t)
	root := newTestClient(t, store, "")
	initAndUnseal(t, ctx, root)

	require.NoError(t, root.EnableAppRoleAuth(ctx))
	err := root.EnableAppRoleAuth(ctx)
	require.Error(t, err)
	assert.True(t, interfaces.IsIdempotencyConflict(err))
}
