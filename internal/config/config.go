package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/tombh/rust-gpu-cli/internal/artifact"
	"github.com/tombh/rust-gpu-cli/internal/cache"
	"github.com/tombh/rust-gpu-cli/internal/compiler"
	"github.com/tombh/rust-gpu-cli/internal/options"
	"github.com/tombh/rust-gpu-cli/internal/utils"
	"github.com/tombh/rust-gpu-cli/internal/watch"
	"github.com/tombh/rust-gpu-cli/internal/writer"
)

// Default configuration values
const (
	DefaultTarget        = options.DefaultTarget
	DefaultSpirvMetadata = "none"
	DefaultOutputDir     = "compiled"
	DefaultDebounce      = watch.DefaultDebounce
	DefaultVerbose       = false
	DefaultNoCache       = false
)

// Holds the configuration for one shader crate
type Config struct {
	// Shader crate root
	Crate string
	// Package name from the crate's Cargo.toml
	CrateName string

	// rust-gpu target triple
	Target string

	DenyWarnings bool
	Debug        bool
	Multimodule  bool

	// none, name-variables or full
	SpirvMetadata string

	Capabilities []string
	Extensions   []string

	RelaxStructStore            bool
	RelaxLogicalPointer         bool
	RelaxBlockLayout            bool
	UniformBufferStandardLayout bool
	ScalarBlockLayout           bool
	SkipBlockLayout             bool
	PreserveBindings            bool

	// Run the SPIR-V checks on every produced module
	ValidateSpirv bool

	// combined or multimodule, empty to follow Multimodule
	Packaging string

	// Output file, or a pattern containing {entry} in multimodule mode
	Output string
	// Multimodule index file
	Index string

	// Globs for source paths that never trigger a rebuild
	Ignore []string

	Cargo          string
	CodegenBackend string
	Toolchain      string
	TargetDir      string

	// Build journal directory
	CacheDir string
	NoCache  bool

	Debounce time.Duration
	Verbose  bool

	// Resolved by Validate
	Options      options.CompileOptions
	Mode         artifact.Mode
	OutputTarget writer.Target
}

// Load reads the configuration for crate from viper
func Load(crate string) (*Config, error) {
	cfg := &Config{
		Crate:                       crate,
		Target:                      viper.GetString("target"),
		DenyWarnings:                viper.GetBool("deny_warnings"),
		Debug:                       viper.GetBool("debug"),
		Multimodule:                 viper.GetBool("multimodule"),
		SpirvMetadata:               viper.GetString("spirv_metadata"),
		Capabilities:                viper.GetStringSlice("capability"),
		Extensions:                  viper.GetStringSlice("extension"),
		RelaxStructStore:            viper.GetBool("relax_struct_store"),
		RelaxLogicalPointer:         viper.GetBool("relax_logical_pointer"),
		RelaxBlockLayout:            viper.GetBool("relax_block_layout"),
		UniformBufferStandardLayout: viper.GetBool("uniform_buffer_standard_layout"),
		ScalarBlockLayout:           viper.GetBool("scalar_block_layout"),
		SkipBlockLayout:             viper.GetBool("skip_block_layout"),
		PreserveBindings:            viper.GetBool("preserve_bindings"),
		ValidateSpirv:               viper.GetBool("validate"),
		Packaging:                   viper.GetString("packaging"),
		Output:                      viper.GetString("output"),
		Index:                       viper.GetString("index"),
		Ignore:                      viper.GetStringSlice("ignore"),
		Cargo:                       viper.GetString("cargo"),
		CodegenBackend:              viper.GetString("codegen_backend"),
		Toolchain:                   viper.GetString("toolchain"),
		TargetDir:                   viper.GetString("target_dir"),
		CacheDir:                    viper.GetString("cache_dir"),
		NoCache:                     viper.GetBool("no_cache"),
		Debounce:                    viper.GetDuration("debounce"),
		Verbose:                     viper.GetBool("verbose"),
	}

	// Apply defaults if not set
	if cfg.Target == "" {
		cfg.Target = DefaultTarget
	}

	if cfg.SpirvMetadata == "" {
		cfg.SpirvMetadata = DefaultSpirvMetadata
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate resolves paths and builds the compile options, packaging mode and
// output target
func (c *Config) Validate() error {
	if c.Crate == "" {
		return fmt.Errorf("no shader crate given")
	}

	crate, err := filepath.Abs(c.Crate)
	if err != nil {
		return fmt.Errorf("invalid crate path: %v", err)
	}
	c.Crate = crate

	name, err := CrateName(crate)
	if err != nil {
		return err
	}
	c.CrateName = name

	if _, err := utils.ParseTarget(c.Target); err != nil {
		return err
	}

	metadata, err := options.ParseMetadataLevel(c.SpirvMetadata)
	if err != nil {
		return err
	}

	packaging := c.Packaging
	if packaging == "" {
		packaging = artifact.Combined.String()
		if c.Multimodule {
			packaging = artifact.Multimodule.String()
		}
	}

	c.Mode, err = artifact.ParseMode(packaging)
	if err != nil {
		return err
	}

	if c.Debounce < 0 {
		return fmt.Errorf("invalid debounce %s", c.Debounce)
	}

	if err := c.resolveOutput(); err != nil {
		return err
	}

	// A bare program name is looked up on PATH
	paths := []*string{&c.CodegenBackend, &c.TargetDir, &c.CacheDir}
	if strings.ContainsAny(c.Cargo, `/\`) {
		paths = append(paths, &c.Cargo)
	}

	for _, p := range paths {
		if err := c.resolvePath(p); err != nil {
			return err
		}
	}

	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(c.Crate, cache.DefaultCacheDir)
	}

	c.Options = options.CompileOptions{
		Target:                      c.Target,
		DenyWarnings:                c.DenyWarnings,
		Debug:                       c.Debug,
		Multimodule:                 c.Multimodule,
		SpirvMetadata:               metadata,
		RelaxStructStore:            c.RelaxStructStore,
		RelaxLogicalPointer:         c.RelaxLogicalPointer,
		RelaxBlockLayout:            c.RelaxBlockLayout,
		UniformBufferStandardLayout: c.UniformBufferStandardLayout,
		ScalarBlockLayout:           c.ScalarBlockLayout,
		SkipBlockLayout:             c.SkipBlockLayout,
		PreserveBindings:            c.PreserveBindings,
		Capabilities:                c.Capabilities,
		Extensions:                  c.Extensions,
	}.Normalize()

	return nil
}

// resolvePath makes a configured path absolute relative to the crate
func (c *Config) resolvePath(p *string) error {
	if *p == "" || filepath.IsAbs(*p) {
		return nil
	}

	abs, err := filepath.Abs(filepath.Join(c.Crate, *p))
	if err != nil {
		return fmt.Errorf("invalid path %s: %v", *p, err)
	}

	*p = abs
	return nil
}

func (c *Config) resolveOutput() error {
	if err := c.resolvePath(&c.Output); err != nil {
		return err
	}

	if err := c.resolvePath(&c.Index); err != nil {
		return err
	}

	outDir := filepath.Join(c.Crate, DefaultOutputDir)

	switch c.Mode {
	case artifact.Multimodule:
		switch {
		case c.Output == "":
			c.Output = filepath.Join(outDir, writer.EntryPlaceholder+".spv")
		case !strings.Contains(c.Output, writer.EntryPlaceholder):
			// A plain path names the directory the modules go in
			c.Output = filepath.Join(c.Output, writer.EntryPlaceholder+".spv")
		}

		if c.Index == "" {
			c.Index = filepath.Join(filepath.Dir(c.Output), c.CrateName+".index.json")
		}

		if strings.Contains(filepath.Dir(c.Output), writer.EntryPlaceholder) {
			return fmt.Errorf("invalid output %s: %s may only appear in the file name", c.Output, writer.EntryPlaceholder)
		}
	default:
		if c.Output == "" {
			c.Output = filepath.Join(outDir, c.CrateName+artifact.Extension)
		}

		if strings.Contains(c.Output, writer.EntryPlaceholder) {
			return fmt.Errorf("invalid output %s: %s needs --packaging multimodule", c.Output, writer.EntryPlaceholder)
		}

		c.Index = ""
	}

	c.OutputTarget = writer.Target{Path: c.Output, Index: c.Index}
	return nil
}

// ExcludePaths lists the paths the build itself writes to, which must never
// count as source changes. A directory that holds the crate is never listed;
// IgnorePatterns covers outputs written there.
func (c *Config) ExcludePaths() []string {
	var paths []string

	for _, dir := range []string{filepath.Dir(c.Output), c.CacheDir, c.TargetDir} {
		if dir != "" && !holdsCrate(dir, c.Crate) {
			paths = append(paths, dir)
		}
	}

	if c.Index != "" {
		paths = append(paths, c.Index)
	}

	return paths
}

// IgnorePatterns returns the configured ignore globs plus base-name globs for
// outputs that share a directory with the crate's sources
func (c *Config) IgnorePatterns() []string {
	patterns := slices.Clone(c.Ignore)

	if !holdsCrate(filepath.Dir(c.Output), c.Crate) {
		return patterns
	}

	outputs := []string{strings.ReplaceAll(filepath.Base(c.Output), writer.EntryPlaceholder, "*")}
	if c.Index != "" {
		outputs = append(outputs, filepath.Base(c.Index))
	}

	for _, name := range outputs {
		// Staged temp files, see writer.stage
		patterns = append(patterns, name, "."+name+".tmp-*")
	}

	return patterns
}

// holdsCrate reports whether dir is the crate root or one of its ancestors
func holdsCrate(dir, crate string) bool {
	rel, err := filepath.Rel(dir, crate)
	return err == nil && !strings.HasPrefix(rel, "..")
}

// CompilerToolchain returns the platform toolchain with configured overrides
func (c *Config) CompilerToolchain() compiler.Toolchain {
	tc := compiler.DefaultToolchain()

	if c.Cargo != "" {
		tc.Cargo = c.Cargo
	}

	if c.CodegenBackend != "" {
		tc.CodegenBackend = c.CodegenBackend
	}

	if c.Toolchain != "" {
		tc.Channel = c.Toolchain
	}

	tc.TargetDir = c.TargetDir
	return tc
}

// CrateName reads the package name from the crate's Cargo.toml
func CrateName(crate string) (string, error) {
	data, err := os.ReadFile(filepath.Join(crate, "Cargo.toml"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s is not a crate: no Cargo.toml", crate)
		}
		return "", err
	}

	var manifest struct {
		Package struct {
			Name string `toml:"name"`
		} `toml:"package"`
	}

	if err := toml.Unmarshal(data, &manifest); err != nil {
		return "", fmt.Errorf("invalid Cargo.toml: %v", err)
	}

	if manifest.Package.Name == "" {
		return "", fmt.Errorf("%s has no [package] name", filepath.Join(crate, "Cargo.toml"))
	}

	return manifest.Package.Name, nil
}
