package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitObjectPath(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{"simple", "s3://volumes/smoke.vgrid", "volumes", "smoke.vgrid", false},
		{"nested key", "s3://volumes/cache/frame_001.vgrid", "volumes", "cache/frame_001.vgrid", false},
		{"missing key", "s3://volumes", "", "", true},
		{"empty bucket", "s3:///key", "", "", true},
		{"local path", "/tmp/smoke.vgrid", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := SplitObjectPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestNormalizeGridPath(t *testing.T) {
	dir := t.TempDir()

	got, err := NormalizeGridPath(filepath.Join(dir, "a", "..", "smoke.vgrid"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "smoke.vgrid"), got)

	got, err = NormalizeGridPath("file://" + filepath.Join(dir, "smoke.vgrid"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "smoke.vgrid"), got)

	got, err = NormalizeGridPath("s3://volumes//cache//smoke.vgrid")
	require.NoError(t, err)
	assert.Equal(t, "s3://volumes/cache/smoke.vgrid", got)

	_, err = NormalizeGridPath("")
	assert.Error(t, err)
	_, err = NormalizeGridPath("file://")
	assert.Error(t, err)

	rel, err := NormalizeGridPath("smoke.vgrid")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(rel))
}
