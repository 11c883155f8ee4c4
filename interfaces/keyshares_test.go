package interfaces

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestKeyShareSetRoundTrip tests persisting and loading a share file
func TestKeyShareSetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store", "keys.json")

	shares := &KeyShareSet{
		UnsealKeysB64: []string{"c2hhcmUtMQ==", "c2hhcmUtMg==", "c2hhcmUtMw==", "c2hhcmUtNA==", "c2hhcmUtNQ=="},
		Threshold:     3,
		RootToken:     "hvs.root-token",
	}
	require.NoError(t, shares.WriteFile(path))

	// File and its directory must be owner-only
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	loaded, err := LoadKeyShareSet(path)
	require.NoError(t, err)
	assert.Equal(t, shares, loaded)

	// No leftover temporary file
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

// TestKeyShareSetFileFormat tests the persisted JSON schema
func TestKeyShareSetFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")

	shares := &KeyShareSet{
		UnsealKeysB64: []string{"YQ==", "Yg==", "Yw=="},
		Threshold:     2,
		RootToken:     "hvs.abc",
	}
	require.NoError(t, shares.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "unseal_keys_b64")
	assert.Contains(t, raw, "unseal_threshold")
	assert.Contains(t, raw, "root_token")
}

// TestLoadKeyShareSetRejectsLoosePermissions tests that group or world
// readable share files are refused
func TestLoadKeyShareSetRejectsLoosePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	data, err := json.Marshal(&KeyShareSet{
		UnsealKeysB64: []string{"YQ==", "Yg==", "Yw=="},
		Threshold:     2,
		RootToken:     "hvs.abc",
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = LoadKeyShareSet(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissions")
}

// TestLoadKeyShareSetMissingFile tests the error for an absent share file
func TestLoadKeyShareSetMissingFile(t *testing.T) {
	_, err := LoadKeyShareSet(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// TestKeyShareSetValidate tests the share-threshold invariant
func TestKeyShareSetValidate(t *testing.T) {
	testCases := []struct {
		name    string
		set     KeyShareSet
		wantErr bool
	}{
		{
			name:    "Five shares threshold three",
			set:     KeyShareSet{UnsealKeysB64: []string{"a", "b", "c", "d", "e"}, Threshold: 3},
			wantErr: false,
		},
		{
			name:    "Exactly threshold shares",
			set:     KeyShareSet{UnsealKeysB64: []string{"a", "b"}, Threshold: 2},
			wantErr: false,
		},
		{
			name:    "Zero threshold",
			set:     KeyShareSet{UnsealKeysB64: []string{"a"}, Threshold: 0},
			wantErr: true,
		},
		{
			name:    "Fewer shares than threshold",
			set:     KeyShareSet{UnsealKeysB64: []string{"a", "b"}, Threshold: 3},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.set.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
