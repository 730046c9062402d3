package compiler

import (
	"strings"

	"github.com/tombh/rust-gpu-cli/internal/options"
	"github.com/tombh/rust-gpu-cli/internal/spv"
	"github.com/tombh/rust-gpu-cli/internal/utils"
)

// Environment variables read by cargo and the codegen backend
const (
	EnvRustFlags   = "CARGO_ENCODED_RUSTFLAGS"
	EnvCodegenArgs = "RUSTGPU_CODEGEN_ARGS"

	// Separator cargo expects between encoded rustflags
	rustFlagSep = "\x1f"
)

// Invocation is a single backend process
type Invocation struct {
	Program string
	Args    []string

	// Variables added on top of the toolchain environment
	Env []string

	// Working directory, the crate root
	Dir string
}

// EnvValue returns the value of an added environment variable
func (inv *Invocation) EnvValue(key string) (string, bool) {
	for _, kv := range inv.Env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v, true
		}
	}

	return "", false
}

// RustFlags returns the decoded rustflags of the invocation
func (inv *Invocation) RustFlags() []string {
	v, ok := inv.EnvValue(EnvRustFlags)
	if !ok || v == "" {
		return nil
	}

	return strings.Split(v, rustFlagSep)
}

// CodegenArgs returns the codegen backend arguments of the invocation
func (inv *Invocation) CodegenArgs() []string {
	v, _ := inv.EnvValue(EnvCodegenArgs)
	return strings.Fields(v)
}

// Translate maps compile options onto a cargo invocation. Every option ends
// up in the invocation; combinations the backend would silently resolve one
// way or another are rejected as InvalidOptions.
func Translate(opts options.CompileOptions, tc Toolchain) (*Invocation, error) {
	opts = opts.Normalize()

	target, err := utils.ParseTarget(opts.Target)
	if err != nil {
		return nil, &CompileError{Kind: InvalidOptions, Err: err}
	}

	if !opts.SpirvMetadata.Valid() {
		return nil, newError(InvalidOptions, "invalid spirv metadata level %v", opts.SpirvMetadata)
	}

	if opts.ScalarBlockLayout && opts.RelaxBlockLayout {
		return nil, newError(InvalidOptions, "scalar-block-layout overrides relax-block-layout; enable only one")
	}

	if opts.SkipBlockLayout && (opts.RelaxBlockLayout || opts.ScalarBlockLayout || opts.UniformBufferStandardLayout) {
		return nil, newError(InvalidOptions,
			"skip-block-layout disables layout checks; it cannot be combined with relax-block-layout, scalar-block-layout or uniform-buffer-standard-layout")
	}

	var features []string
	for _, name := range opts.Capabilities {
		if _, ok := spv.CapabilityByName(name); !ok {
			return nil, newError(InvalidOptions, "unknown capability %q", name)
		}
		features = append(features, "+"+name)
	}

	for _, ext := range opts.Extensions {
		if !strings.HasPrefix(ext, "SPV_") {
			return nil, newError(InvalidOptions, "invalid extension %q: must start with SPV_", ext)
		}
		features = append(features, "+ext:"+ext)
	}

	args := []string{
		"build",
		"--lib",
		"--message-format=json-render-diagnostics",
		"-Zbuild-std=core",
		"-Zbuild-std-features=compiler-builtins-mem",
		"--target", target.Triple,
	}

	if !opts.Debug {
		args = append(args, "--release")
	}

	if tc.TargetDir != "" {
		args = append(args, "--target-dir", tc.TargetDir)
	}

	rustflags := []string{
		"-Zcodegen-backend=" + tc.CodegenBackend,
		"-Zbinary-dep-depinfo",
		"-Csymbol-mangling-version=v0",
		"-Zcrate-attr=feature(register_tool)",
		"-Zcrate-attr=register_tool(rust_gpu)",
		"-Coverflow-checks=off",
		"-Cdebug-assertions=off",
		"-Zinline-mir=off",
		"-Zshare-generics=off",
	}

	if opts.Debug {
		rustflags = append(rustflags, "-Cdebuginfo=2")
	}

	if opts.DenyWarnings {
		rustflags = append(rustflags, "-Dwarnings")
	}

	if len(features) > 0 {
		rustflags = append(rustflags, "-Ctarget-feature="+strings.Join(features, ","))
	}

	var codegen []string
	if opts.Multimodule {
		codegen = append(codegen, "--module-output=multiple")
	}

	if opts.SpirvMetadata != options.MetadataNone {
		codegen = append(codegen, "--spirv-metadata="+opts.SpirvMetadata.String())
	}

	flags := []struct {
		on   bool
		flag string
	}{
		{opts.RelaxStructStore, "--relax-struct-store"},
		{opts.RelaxLogicalPointer, "--relax-logical-pointer"},
		{opts.RelaxBlockLayout, "--relax-block-layout"},
		{opts.UniformBufferStandardLayout, "--uniform-buffer-standard-layout"},
		{opts.ScalarBlockLayout, "--scalar-block-layout"},
		{opts.SkipBlockLayout, "--skip-block-layout"},
		{opts.PreserveBindings, "--preserve-bindings"},
	}

	for _, f := range flags {
		if f.on {
			codegen = append(codegen, f.flag)
		}
	}

	return &Invocation{
		Program: tc.Cargo,
		Args:    args,
		Env: []string{
			EnvRustFlags + "=" + strings.Join(rustflags, rustFlagSep),
			EnvCodegenArgs + "=" + strings.Join(codegen, " "),
		},
	}, nil
}
