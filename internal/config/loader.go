package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Keys that can also be given as command flags. The flag name is the key
// with dashes for underscores.
var flagKeys = []string{
	"target",
	"deny_warnings",
	"debug",
	"capability",
	"extension",
	"multimodule",
	"spirv_metadata",
	"relax_struct_store",
	"relax_logical_pointer",
	"relax_block_layout",
	"uniform_buffer_standard_layout",
	"scalar_block_layout",
	"skip_block_layout",
	"preserve_bindings",
	"validate",
	"packaging",
	"output",
	"index",
	"ignore",
	"cargo",
	"codegen_backend",
	"toolchain",
	"target_dir",
	"cache_dir",
	"no_cache",
	"debounce",
	"verbose",
}

// Loader handles configuration loading from various sources
type Loader struct {
	// Config files read by the last load, global first
	Files []string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadForCrate loads configuration for the crate named by args[0], with an
// optional output path in args[1]
func (l *Loader) LoadForCrate(cmd *cobra.Command, args []string) (*Config, error) {
	crate, err := crateArg(args)
	if err != nil {
		return nil, err
	}

	l.setupViperDefaults()
	l.readConfigFiles(crate)
	l.bindCommandFlags(cmd)

	if len(args) > 1 {
		output, err := filepath.Abs(args[1])
		if err != nil {
			return nil, fmt.Errorf("invalid output path: %v", err)
		}

		viper.Set("output", output)
	}

	return Load(crate)
}

// Reload reads the config files again, keeping the bound flags
func (l *Loader) Reload(crate string) (*Config, error) {
	l.readConfigFiles(crate)
	return Load(crate)
}

// LocalConfig returns the project config file in use, if any
func (l *Loader) LocalConfig() string {
	for _, f := range l.Files {
		if strings.HasPrefix(filepath.Base(f), LocalConfigName+".") {
			return f
		}
	}

	return ""
}

func crateArg(args []string) (string, error) {
	crate := "."
	if len(args) > 0 {
		crate = args[0]
	}

	abs, err := filepath.Abs(crate)
	if err != nil {
		return "", fmt.Errorf("failed to resolve crate path: %w", err)
	}

	return abs, nil
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	viper.SetDefault("target", DefaultTarget)
	viper.SetDefault("spirv_metadata", DefaultSpirvMetadata)
	viper.SetDefault("debounce", DefaultDebounce)
	viper.SetDefault("no_cache", DefaultNoCache)
	viper.SetDefault("verbose", DefaultVerbose)
}

func (l *Loader) readConfigFiles(crate string) {
	l.Files = nil
	global := l.loadGlobalConfig()
	l.loadLocalConfig(crate, global)
}

// loadGlobalConfig loads the user's config file
func (l *Loader) loadGlobalConfig() bool {
	path := FindGlobalConfig()
	if path == "" {
		return false
	}

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return false
	}

	l.Files = append(l.Files, path)
	return true
}

// loadLocalConfig loads the project config on top of the global one
func (l *Loader) loadLocalConfig(crate string, merge bool) {
	localPath := FindLocalConfig(crate)
	if localPath == "" {
		return
	}

	viper.SetConfigFile(localPath)

	read := viper.ReadInConfig
	if merge {
		read = viper.MergeInConfig
	}

	if err := read(); err != nil {
		return // silently ignore, the file may be mid-edit
	}

	l.Files = append(l.Files, localPath)
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	for _, key := range flagKeys {
		flag := cmd.Flags().Lookup(strings.ReplaceAll(key, "_", "-"))
		if flag == nil {
			continue
		}

		_ = viper.BindPFlag(key, flag)
	}
}
