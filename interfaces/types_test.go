package interfaces

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestServiceNameValidation tests service name format enforcement
func TestServiceNameValidation(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "Simple name", input: "postgres", wantErr: false},
		{name: "Name with digits", input: "redis-1", wantErr: false},
		{name: "Single character", input: "a", wantErr: false},
		{name: "Empty name", input: "", wantErr: true},
		{name: "Uppercase rejected", input: "Postgres", wantErr: true},
		{name: "Leading hyphen rejected", input: "-redis", wantErr: true},
		{name: "Trailing hyphen rejected", input: "redis-", wantErr: true},
		{name: "Underscore rejected", input: "my_service", wantErr: true},
		{name: "Slash rejected", input: "secret/data", wantErr: true},
		{name: "Dot rejected", input: "svc.internal", wantErr: true},
		{name: "Too long rejected", input: "a123456789012345678901234567890123456789012345678901234567890123", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewServiceName(tc.input)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.input, got.String())
			}
		})
	}
}

// TestServiceNamePaths tests the derived KV and policy paths
func TestServiceNamePaths(t *testing.T) {
	svc := ServiceName("postgres")

	assert.Equal(t, "secret/data/postgres", svc.SecretDataPath())
	assert.Equal(t, "secret/metadata/postgres", svc.SecretMetadataPath())
	assert.Equal(t, "postgres-read", svc.PolicyName())
	assert.Equal(t, "postgres.devstack.local", svc.CommonName("devstack.local"))
}

// TestSealStateValidate tests the share-threshold invariant
func TestSealStateValidate(t *testing.T) {
	// An uninitialized store reports zero counts and that is fine
	require.NoError(t, SealState{}.Validate())

	require.NoError(t, SealState{Initialized: true, ShareThreshold: 3, TotalShares: 5}.Validate())
	require.NoError(t, SealState{Initialized: true, ShareThreshold: 1, TotalShares: 1}.Validate())

	require.Error(t, SealState{Initialized: true, ShareThreshold: 0, TotalShares: 5}.Validate())
	require.Error(t, SealState{Initialized: true, ShareThreshold: 5, TotalShares: 3}.Validate())
}

// TestCAInfoContainsWindow tests validity window containment between CA tiers
func TestCAInfoContainsWindow(t *testing.T) {
	now := time.Now()
	root := CAInfo{
		CommonName: "DevStack Root CA",
		NotBefore:  now,
		NotAfter:   now.Add(10 * 365 * 24 * time.Hour),
	}

	// Intermediate fully inside root window
	assert.True(t, root.ContainsWindow(now, now.Add(5*365*24*time.Hour)))
	// Same window counts as contained
	assert.True(t, root.ContainsWindow(root.NotBefore, root.NotAfter))
	// Starts before root
	assert.False(t, root.ContainsWindow(now.Add(-time.Hour), now.Add(time.Hour)))
	// Outlives root
	assert.False(t, root.ContainsWindow(now, root.NotAfter.Add(time.Hour)))
}

// TestCertificatePathsFor tests the conventional certificate directory layout
func TestCertificatePathsFor(t *testing.T) {
	paths := CertificatePathsFor("/etc/devstack/certs", "rabbitmq")

	assert.Equal(t, "/etc/devstack/certs/rabbitmq/cert.pem", paths.CertFile)
	assert.Equal(t, "/etc/devstack/certs/rabbitmq/key.pem", paths.KeyFile)
	assert.Equal(t, "/etc/devstack/certs/rabbitmq/ca.pem", paths.CAFile)
}

// TestSecretEntryField tests field lookup on a secret entry
func TestSecretEntryField(t *testing.T) {
	entry := &SecretEntry{
		Service: "postgres",
		Fields:  map[string]string{"user": "postgres", "password": "hunter2"},
	}

	v, ok := entry.Field("user")
	require.True(t, ok)
	assert.Equal(t, "postgres", v)

	_, ok = entry.Field("missing")
	assert.False(t, ok)
}

// TestDefaultFleet tests the managed service roster and its TLS subset
func TestDefaultFleet(t *testing.T) {
	fleet := DefaultFleet()
	require.Len(t, fleet, 9)

	for _, s := range fleet {
		require.NoError(t, s.Name.Validate(), "fleet member %s must have a valid name", s.Name)
		require.NotEmpty(t, s.SecretFields, "fleet member %s must seed at least one field", s.Name)
	}

	tls := TLSServices(fleet)
	var tlsNames []ServiceName
	for _, s := range tls {
		tlsNames = append(tlsNames, s.Name)
	}
	assert.ElementsMatch(t, []ServiceName{"postgres", "mysql", "rabbitmq"}, tlsNames)

	pg, ok := FleetSpec(fleet, "postgres")
	require.True(t, ok)
	assert.True(t, pg.TLSEnabled)
	assert.True(t, pg.NeedsUser())

	mgmt, ok := FleetSpec(fleet, "management")
	require.True(t, ok)
	assert.False(t, mgmt.TLSEnabled)
	assert.False(t, mgmt.NeedsUser())

	_, ok = FleetSpec(fleet, "unknown")
	assert.False(t, ok)
}
