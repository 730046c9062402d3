package config

import (
	"os"
	"path/filepath"
)

// LocalConfigName is the base name of a per-project config file
const LocalConfigName = ".rust-gpu"

var configExtensions = []string{"yml", "yaml", "json", "toml"}

// FindLocalConfig finds local config file by walking up directories
func FindLocalConfig(dir string) string {
	for {
		for _, ext := range configExtensions {
			path := filepath.Join(dir, LocalConfigName+"."+ext)

			if _, err := os.Stat(path); err == nil {
				return path
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}

// FindGlobalConfig returns the first config file in the user config directory
func FindGlobalConfig() string {
	base, err := userConfigDir()
	if err != nil || base == "" {
		return ""
	}

	for _, ext := range configExtensions {
		path := filepath.Join(base, "rust-gpu-cli", "config."+ext)

		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

var userConfigDir = os.UserConfigDir
