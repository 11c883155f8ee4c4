package interfaces

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// KeyShareSet holds the unseal key shares and initial root credential
// produced at store initialization. It is persisted exactly once to a
// restricted-permission file (keys.json) and never regenerated except by
// a full destructive re-initialization of the store.
type KeyShareSet struct {
	// UnsealKeysB64 are the base64-encoded key shares.
	UnsealKeysB64 []string `json:"unseal_keys_b64"`

	// Threshold is the number of distinct shares required to unseal.
	Threshold int `json:"unseal_threshold"`

	// RootToken is the store's initial root credential. It doubles as the
	// shared high-privilege fallback for services without an AppRole pair.
	RootToken string `json:"root_token"`
}

// Validate checks the share-threshold invariant.
func (k *KeyShareSet) Validate() error {
	if k.Threshold < 1 {
		return errors.New("key share threshold must be at least 1")
	}
	if len(k.UnsealKeysB64) < k.Threshold {
		return fmt.Errorf("key share set holds %d shares, threshold requires %d", len(k.UnsealKeysB64), k.Threshold)
	}
	return nil
}

// LoadKeyShareSet reads and validates a persisted key share file. The file
// must not be readable by group or others; a share file with loose
// permissions is rejected rather than silently used.
func LoadKeyShareSet(path string) (*KeyShareSet, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("key share file %s: %w", path, err)
	}

	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("key share file %s has permissions %04o, refusing anything broader than 0600", path, perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read key share file %s: %w", path, err)
	}

	var shares KeyShareSet
	if err := json.Unmarshal(data, &shares); err != nil {
		return nil, fmt.Errorf("could not parse key share file %s: %w", path, err)
	}

	if err := shares.Validate(); err != nil {
		return nil, fmt.Errorf("key share file %s: %w", path, err)
	}

	return &shares, nil
}

// WriteFile persists the share set with owner-only permissions, writing a
// temporary file first and renaming it into place so a crash never leaves
// a partially written share file behind.
func (k *KeyShareSet) WriteFile(path string) error {
	if err := k.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("could not create key share directory: %w", err)
	}

	data, err := json.MarshalIndent(k, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode key share set: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("could not write key share file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("could not install key share file: %w", err)
	}

	return nil
}
