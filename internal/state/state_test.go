package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
)

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")

	for _, idx := range []scancapture.DeviceIndex{2, 0, scancapture.NoDevice} {
		require.NoError(t, Save(path, idx))

		got, ok, err := Load(path)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, idx, got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLoad_Missing(t *testing.T) {
	idx, ok, err := Load(filepath.Join(t.TempDir(), "state.yaml"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, scancapture.NoDevice, idx)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.yaml")
	require.NoError(t, os.WriteFile(garbage, []byte("device_index: [1, 2"), 0o644))
	_, _, err := Load(garbage)
	assert.Error(t, err)

	negative := filepath.Join(dir, "negative.yaml")
	require.NoError(t, os.WriteFile(negative, []byte("device_index: -7\n"), 0o644))
	_, _, err = Load(negative)
	assert.ErrorContains(t, err, "invalid device_index")
}
