package secretstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/vault/api"

	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// tlsEnabledField is the reserved field inside a secret entry that marks
// the service as TLS-enabled. It rides alongside the credential fields.
const tlsEnabledField = "tls_enabled"

// EnableKVv2 mounts the KV v2 secrets engine at secret/. An existing
// mount yields an IdempotencyConflict, which bootstrap treats as a
// completed step.
func (c *Client) EnableKVv2(ctx context.Context) error {
	mounts, err := c.api.Sys().ListMountsWithContext(ctx)
	if err != nil {
		return Classify("enable-kv", "sys/mounts", err)
	}
	if _, ok := mounts[KVMount+"/"]; ok {
		return interfaces.NewIdempotencyConflict("enable-kv", KVMount+"/ already mounted")
	}

	err = c.api.Sys().MountWithContext(ctx, KVMount, &api.MountInput{
		Type:        "kv",
		Description: "service credentials",
		Options:     map[string]string{"version": "2"},
	})
	if err != nil {
		return Classify("enable-kv", "sys/mounts/"+KVMount, err)
	}

	c.log.Info("KV v2 secrets engine mounted", slog.String("mount", KVMount))
	return nil
}

// GetSecret reads a service's secret entry.
func (c *Client) GetSecret(ctx context.Context, service interfaces.ServiceName) (*interfaces.SecretEntry, error) {
	kvSecret, err := c.api.KVv2(KVMount).Get(ctx, service.String())
	if err != nil {
		return nil, Classify("read-secret", service.SecretDataPath(), err)
	}

	entry := &interfaces.SecretEntry{
		Service: service,
		Fields:  make(map[string]string, len(kvSecret.Data)),
	}
	if kvSecret.VersionMetadata != nil {
		entry.Version = kvSecret.VersionMetadata.Version
	}

	for k, v := range kvSecret.Data {
		if k == tlsEnabledField {
			switch val := v.(type) {
			case bool:
				entry.TLSEnabled = val
			case string:
				entry.TLSEnabled = val == "true"
			}
			continue
		}
		if s, ok := v.(string); ok {
			entry.Fields[k] = s
		} else {
			entry.Fields[k] = fmt.Sprintf("%v", v)
		}
	}

	return entry, nil
}

// SecretExists reports whether a service already has a secret entry.
func (c *Client) SecretExists(ctx context.Context, service interfaces.ServiceName) (bool, error) {
	_, err := c.GetSecret(ctx, service)
	if err == nil {
		return true, nil
	}
	if interfaces.IsNotFoundError(err) {
		return false, nil
	}
	return false, err
}

// PutSecret writes a service's secret entry and returns the written
// version. Callers enforce the no-silent-overwrite rule; this method
// writes unconditionally.
func (c *Client) PutSecret(ctx context.Context, service interfaces.ServiceName, fields map[string]string, tlsEnabled bool) (*interfaces.SecretEntry, error) {
	data := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		data[k] = v
	}
	data[tlsEnabledField] = tlsEnabled

	kvSecret, err := c.api.KVv2(KVMount).Put(ctx, service.String(), data)
	if err != nil {
		return nil, Classify("write-secret", service.SecretDataPath(), err)
	}

	entry := &interfaces.SecretEntry{
		Service:    service,
		Fields:     fields,
		TLSEnabled: tlsEnabled,
	}
	if kvSecret != nil && kvSecret.VersionMetadata != nil {
		entry.Version = kvSecret.VersionMetadata.Version
	}

	c.log.Info("Secret entry written",
		slog.String("service", service.String()),
		slog.Int("version", entry.Version))
	return entry, nil
}
