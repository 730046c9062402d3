package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindLocalConfig(t *testing.T) {
	// Create a temporary directory structure
	tempDir := t.TempDir()
	subDir := filepath.Join(tempDir, "subdir")
	err := os.Mkdir(subDir, 0o755)
	assert.NoError(t, err)

	// Create config files
	configYML := filepath.Join(subDir, ".rust-gpu.yml")
	err = os.WriteFile(configYML, []byte("target: spirv-unknown-vulkan1.1"), 0o644)
	assert.NoError(t, err)

	// Test finding in subdir
	result := FindLocalConfig(subDir)
	assert.Equal(t, configYML, result)

	// Test finding in parent
	result = FindLocalConfig(filepath.Join(subDir, "deep"))
	assert.Equal(t, configYML, result)

	// Test not found
	result = FindLocalConfig(tempDir)
	assert.Equal(t, "", result)
}

func TestFindGlobalConfig(t *testing.T) {
	base := t.TempDir()
	withUserConfigDir(t, base)

	assert.Equal(t, "", FindGlobalConfig())

	dir := filepath.Join(base, "rust-gpu-cli")
	require.NoError(t, os.Mkdir(dir, 0o755))

	configTOML := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configTOML, []byte(`target = "spirv-unknown-vulkan1.2"`), 0o644))
	assert.Equal(t, configTOML, FindGlobalConfig())

	// yml is preferred when both exist
	configYML := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(configYML, []byte("target: spirv-unknown-vulkan1.1"), 0o644))
	assert.Equal(t, configYML, FindGlobalConfig())
}

func withUserConfigDir(t *testing.T, dir string) {
	t.Helper()

	original := userConfigDir
	userConfigDir = func() (string, error) { return dir, nil }
	t.Cleanup(func() { userConfigDir = original })
}
