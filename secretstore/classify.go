package secretstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// Classify maps a raw store error onto the typed taxonomy in the
// interfaces package. Callers branch on error categories, never on
// status codes or message strings.
//
// Mapping:
//   - 404 and the KV "secret not found" sentinel: NotFoundError
//   - 403: AuthorizationError, or AuthenticationError on a login path
//   - 400 on a login path: AuthenticationError (invalid credential pair)
//   - 503 mentioning a sealed store: SealedStoreError
//   - 429, 500, 502, 503, 504: TransientNetworkError
//   - transport-level failures (refused, timeout): TransientNetworkError
//
// Anything else is returned wrapped with the operation for context.
func Classify(operation, path string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, api.ErrSecretNotFound) {
		return interfaces.NewNotFoundError(path, err)
	}

	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == 503 && mentionsSealed(respErr.Errors):
			return interfaces.NewSealedStoreError(err)
		case respErr.StatusCode == 429,
			respErr.StatusCode == 500,
			respErr.StatusCode == 502,
			respErr.StatusCode == 503,
			respErr.StatusCode == 504:
			return interfaces.NewTransientNetworkError(operation, err)
		case respErr.StatusCode == 403 && isLoginPath(path):
			return interfaces.NewAuthenticationError("", err)
		case respErr.StatusCode == 400 && isLoginPath(path):
			return interfaces.NewAuthenticationError("", err)
		case respErr.StatusCode == 403:
			return interfaces.NewAuthorizationError(path, operation, err)
		case respErr.StatusCode == 404:
			return interfaces.NewNotFoundError(path, err)
		default:
			return fmt.Errorf("%s failed: %w", operation, err)
		}
	}

	// No HTTP response at all: connection refused, DNS failure, timeout.
	return interfaces.NewTransientNetworkError(operation, err)
}

func mentionsSealed(messages []string) bool {
	for _, m := range messages {
		if strings.Contains(strings.ToLower(m), "sealed") {
			return true
		}
	}
	return false
}

func isLoginPath(path string) bool {
	return strings.HasSuffix(path, "/login")
}
