package secretstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// TestClassify exercises the status-code-to-taxonomy mapping with
// synthetic response errors.
func TestClassify(t *testing.T) {
	respErr := func(code int, messages ...string) error {
		return &api.ResponseError{StatusCode: code, Errors: messages}
	}

	tests := []struct {
		name  string
		path  string
		err   error
		check func(error) bool
	}{
		{
			name:  "kv secret not found sentinel",
			path:  "secret/data/postgres",
			err:   fmt.Errorf("%w: at secret/data/postgres", api.ErrSecretNotFound),
			check: interfaces.IsNotFoundError,
		},
		{
			name:  "404 response",
			path:  "pki_int/cert/aa:bb",
			err:   respErr(404),
			check: interfaces.IsNotFoundError,
		},
		{
			name:  "403 on data path",
			path:  "secret/data/mysql",
			err:   respErr(403, "permission denied"),
			check: interfaces.IsAuthorizationError,
		},
		{
			name:  "403 on login path",
			path:  "auth/approle/login",
			err:   respErr(403, "permission denied"),
			check: interfaces.IsAuthenticationError,
		},
		{
			name:  "400 on login path",
			path:  "auth/approle/login",
			err:   respErr(400, "invalid role or secret ID"),
			check: interfaces.IsAuthenticationError,
		},
		{
			name:  "503 sealed",
			path:  "secret/data/postgres",
			err:   respErr(503, "Vault is sealed"),
			check: interfaces.IsSealedStoreError,
		},
		{
			name:  "503 without seal message",
			path:  "secret/data/postgres",
			err:   respErr(503, "standby node"),
			check: interfaces.IsTransientNetworkError,
		},
		{
			name:  "500 internal",
			path:  "secret/data/postgres",
			err:   respErr(500, "internal error"),
			check: interfaces.IsTransientNetworkError,
		},
		{
			name:  "502 bad gateway",
			path:  "secret/data/postgres",
			err:   respErr(502),
			check: interfaces.IsTransientNetworkError,
		},
		{
			name:  "429 throttled",
			path:  "secret/data/postgres",
			err:   respErr(429),
			check: interfaces.IsTransientNetworkError,
		},
		{
			name:  "connection level failure",
			path:  "sys/seal-status",
			err:   errors.New("dial tcp 127.0.0.1:8200: connection refused"),
			check: interfaces.IsTransientNetworkError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			classified := Classify("test-op", tc.path, tc.err)
			require.Error(t, classified)
			assert.True(t, tc.check(classified), "got %T: %v", classified, classified)
		})
	}
}

// TestClassifyNil passes nil through untouched.
func TestClassifyNil(t *testing.T) {
	assert.NoError(t, Classify("noop", "secret/data/x", nil))
}

// TestClassifyUnknownStatus wraps unmapped statuses with the operation
// and keeps them fatal.
func TestClassifyUnknownStatus(t *testing.T) {
	err := Classify("write-role", "pki_int/roles/postgres", &api.ResponseError{
		StatusCode: 400,
		Errors:     []string{"unknown role"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write-role")
	assert.False(t, interfaces.IsRetryable(err))
	assert.False(t, interfaces.IsNotFoundError(err))
	assert.False(t, interfaces.IsAuthorizationError(err))
}

// TestClassifyKeepsCauseChain preserves the original error for callers
// that need the response details.
func TestClassifyKeepsCauseChain(t *testing.T) {
	orig := &api.ResponseError{StatusCode: 403, Errors: []string{"permission denied"}}
	classified := Classify("read-secret", "secret/data/redis-1", orig)

	var respErr *api.ResponseError
	require.True(t, errors.As(classified, &respErr))
	assert.Equal(t, 403, respErr.StatusCode)
}
