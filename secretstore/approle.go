package secretstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// PolicyDocument renders the least-privilege HCL policy for one service:
// read on its own secret data and metadata paths, nothing else.
func PolicyDocument(service interfaces.ServiceName) string {
	var b strings.Builder
	fmt.Fprintf(&b, "path %q {\n  capabilities = [\"read\"]\n}\n", service.SecretDataPath())
	fmt.Fprintf(&b, "\npath %q {\n  capabilities = [\"read\"]\n}\n", service.SecretMetadataPath())
	return b.String()
}

// EnableAppRoleAuth enables the AppRole auth method. An existing mount
// yields an IdempotencyConflict.
func (c *Client) EnableAppRoleAuth(ctx context.Context) error {
	auths, err := c.api.Sys().ListAuthWithContext(ctx)
	if err != nil {
		return Classify("enable-approle", "sys/auth", err)
	}
	if _, ok := auths[AppRoleMount+"/"]; ok {
		return interfaces.NewIdempotencyConflict("enable-approle", AppRoleMount+"/ already enabled")
	}

	err = c.api.Sys().EnableAuthWithOptionsWithContext(ctx, AppRoleMount, &api.EnableAuthOptions{
		Type:        "approle",
		Description: "service machine identities",
	})
	if err != nil {
		return Classify("enable-approle", "sys/auth/"+AppRoleMount, err)
	}

	c.log.Info("AppRole auth method enabled", slog.String("mount", AppRoleMount))
	return nil
}

// WritePolicy installs a named ACL policy. Rewriting an existing policy
// with the same rules is harmless.
func (c *Client) WritePolicy(ctx context.Context, name, rules string) error {
	if err := c.api.Sys().PutPolicyWithContext(ctx, name, rules); err != nil {
		return Classify("write-policy", "sys/policies/acl/"+name, err)
	}
	c.log.Debug("Policy written", slog.String("policy", name))
	return nil
}

// GetPolicy returns a named policy's rules, or NotFoundError when the
// policy does not exist.
func (c *Client) GetPolicy(ctx context.Context, name string) (string, error) {
	rules, err := c.api.Sys().GetPolicyWithContext(ctx, name)
	if err != nil {
		return "", Classify("read-policy", "sys/policies/acl/"+name, err)
	}
	if rules == "" {
		return "", interfaces.NewNotFoundError("sys/policies/acl/"+name, nil)
	}
	return rules, nil
}

// EnsureAppRole creates or updates a service's authentication role bound
// to the given policies with the standard token lifetime bounds.
func (c *Client) EnsureAppRole(ctx context.Context, service interfaces.ServiceName, policies []string, tokenTTL, tokenMaxTTL time.Duration) error {
	path := "auth/" + AppRoleMount + "/role/" + service.String()
	_, err := c.api.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"token_policies": strings.Join(policies, ","),
		"token_ttl":      int(tokenTTL.Seconds()),
		"token_max_ttl":  int(tokenMaxTTL.Seconds()),
	})
	if err != nil {
		return Classify("ensure-approle", path, err)
	}

	c.log.Debug("Auth role configured",
		slog.String("service", service.String()),
		slog.Duration("token_ttl", tokenTTL),
		slog.Duration("token_max_ttl", tokenMaxTTL))
	return nil
}

// RoleID fetches a service role's public identifier.
func (c *Client) RoleID(ctx context.Context, service interfaces.ServiceName) (string, error) {
	path := "auth/" + AppRoleMount + "/role/" + service.String() + "/role-id"
	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", Classify("read-role-id", path, err)
	}
	if secret == nil {
		return "", interfaces.NewNotFoundError(path, nil)
	}
	return stringField(secret, "role_id")
}

// GenerateSecretID mints a fresh secret-id for a service role. Each call
// returns a new credential; old ones stay valid until revoked or expired.
func (c *Client) GenerateSecretID(ctx context.Context, service interfaces.ServiceName) (string, error) {
	path := "auth/" + AppRoleMount + "/role/" + service.String() + "/secret-id"
	secret, err := c.api.Logical().WriteWithContext(ctx, path, map[string]interface{}{})
	if err != nil {
		return "", Classify("generate-secret-id", path, err)
	}
	return stringField(secret, "secret_id")
}

// LoginAppRole exchanges a role-id/secret-id pair for a service token.
// An invalid pair is an AuthenticationError and must never be retried
// with the same credentials.
func (c *Client) LoginAppRole(ctx context.Context, service interfaces.ServiceName, roleID, secretID string) (*interfaces.ServiceToken, error) {
	path := "auth/" + AppRoleMount + "/login"
	secret, err := c.api.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		err = Classify("login", path, err)
		if interfaces.IsAuthenticationError(err) {
			// Re-attribute to the service for the diagnostic
			return nil, interfaces.NewAuthenticationError(service, errors.Unwrap(err))
		}
		return nil, err
	}
	if secret == nil || secret.Auth == nil {
		return nil, interfaces.NewAuthenticationError(service, errors.New("login response contained no auth data"))
	}

	token := &interfaces.ServiceToken{
		Token:    secret.Auth.ClientToken,
		Accessor: secret.Auth.Accessor,
		TTL:      time.Duration(secret.Auth.LeaseDuration) * time.Second,
		Policies: secret.Auth.Policies,
	}

	c.log.Info("AppRole login succeeded",
		slog.String("service", service.String()),
		slog.String("accessor", token.Accessor),
		slog.Duration("ttl", token.TTL))
	return token, nil
}
