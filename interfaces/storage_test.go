package interfaces

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewArtifactName tests artifact name validation
func TestNewArtifactName(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "Simple name", input: "ca-chain.pem", wantErr: false},
		{name: "Nested path", input: "backups/postgres/1234/cert.pem", wantErr: false},
		{name: "Empty", input: "", wantErr: true},
		{name: "Absolute path", input: "/etc/passwd", wantErr: true},
		{name: "Parent traversal", input: "backups/../../etc/passwd", wantErr: true},
		{name: "Dot segment", input: "backups/./cert.pem", wantErr: true},
		{name: "Empty segment", input: "backups//cert.pem", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewArtifactName(tc.input)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.input, got.String())
			}
		})
	}
}

// TestNewArchiveLocation tests archive URI parsing and scheme validation
func TestNewArchiveLocation(t *testing.T) {
	loc, err := NewArchiveLocation("file:///var/lib/devstack/archive?create_dirs=true")
	require.NoError(t, err)
	assert.True(t, loc.IsFile())
	assert.Equal(t, "/var/lib/devstack/archive", loc.Path)
	assert.True(t, loc.GetParamBool("create_dirs"))

	s3loc, err := NewArchiveLocation("s3://backup-bucket/devstack?region=eu-west-1")
	require.NoError(t, err)
	assert.True(t, s3loc.IsS3())
	assert.Equal(t, "backup-bucket", s3loc.Host)
	assert.Equal(t, "eu-west-1", s3loc.GetParam("region"))

	_, err = NewArchiveLocation("ftp://example.com/archive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported archive scheme")
}
