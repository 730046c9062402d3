// Package compiler drives the rust-gpu backend: it translates compile options
// into a cargo invocation, runs it and turns the backend's result manifest
// into a BuildResult.
package compiler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/tombh/rust-gpu-cli/internal/artifact"
	"github.com/tombh/rust-gpu-cli/internal/codes"
	"github.com/tombh/rust-gpu-cli/internal/options"
	"github.com/tombh/rust-gpu-cli/internal/spv"
	"github.com/tombh/rust-gpu-cli/internal/utils"
)

// Stderr markers of rustc crashing instead of reporting errors. A panicking
// build script is an ordinary compile failure, so only rustc's own panic
// counts.
var crashMarkers = []string{
	"internal compiler error",
	"thread 'rustc' panicked at",
	"the compiler unexpectedly panicked",
}

// Stderr markers of a backend library that rustc could not load
var missingBackendMarkers = []string{
	"could not load codegen backend",
	"couldn't load codegen backend",
}

// Compiler compiles shader crates. It runs at most what the caller asks for:
// one invocation per Compile call, never retried.
type Compiler struct {
	toolchain Toolchain
	runner    Runner
	logger    *slog.Logger

	// Run structural validation on every produced module and log problems
	Validate bool

	check   func(Toolchain) error
	environ func() []string
}

// New creates a compiler. A nil logger discards log output.
func New(tc Toolchain, runner Runner, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Compiler{
		toolchain: tc,
		runner:    runner,
		logger:    logger,
		check:     Toolchain.Check,
		environ:   os.Environ,
	}
}

// Compile builds the crate at crateRoot. Any error is a *CompileError.
func (c *Compiler) Compile(ctx context.Context, opts options.CompileOptions, crateRoot string) (*artifact.BuildResult, error) {
	inv, err := Translate(opts, c.toolchain)
	if err != nil {
		return nil, err
	}

	if err := c.check(c.toolchain); err != nil {
		return nil, err
	}

	inv.Dir = crateRoot
	inv.Env = append(c.toolchain.Env(c.environ()), inv.Env...)

	c.logger.Debug("Invoking backend",
		"crate", crateRoot,
		"command", inv.Program+" "+strings.Join(inv.Args, " "),
		"rustflags", strings.Join(inv.RustFlags(), " "),
		"codegen_args", strings.Join(inv.CodegenArgs(), " "),
		"toolchain", c.toolchain.Channel,
	)

	out, err := c.runner.Run(ctx, inv)
	if out == nil {
		if err == nil {
			err = fmt.Errorf("runner returned no outcome")
		}
		return nil, &CompileError{Kind: ToolchainMissing, Err: fmt.Errorf("starting %s: %w", inv.Program, err)}
	}

	diagnostics := string(out.Stderr)

	if err != nil {
		return nil, &CompileError{Kind: BackendCrashed, Diagnostics: diagnostics, Err: err}
	}

	if out.Signaled() {
		return nil, &CompileError{Kind: BackendCrashed, Diagnostics: diagnostics, Err: fmt.Errorf("backend terminated by signal")}
	}

	if !codes.IsSuccess(out.ExitCode) {
		return nil, &CompileError{
			Kind:        failureKind(diagnostics),
			Diagnostics: diagnostics,
			Err:         fmt.Errorf("exit code %d: %s", out.ExitCode, codes.GetErrorMessage(out.ExitCode)),
		}
	}

	modules, err := c.readResult(out.Stdout)
	if err != nil {
		return nil, &CompileError{Kind: BackendCrashed, Diagnostics: diagnostics, Err: fmt.Errorf("malformed backend result: %w", err)}
	}

	if c.Validate {
		c.validate(opts.Target, modules)
	}

	return &artifact.BuildResult{Modules: modules}, nil
}

func (c *Compiler) readResult(stdout []byte) ([]artifact.Module, error) {
	manifestPath, err := findManifest(stdout)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Reading backend result", "manifest", manifestPath)

	m, err := ReadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	return loadModules(manifestPath, m)
}

// validate logs structural problems; it never fails the build
func (c *Compiler) validate(targetName string, modules []artifact.Module) {
	target, err := utils.ParseTarget(targetName)
	if err != nil {
		return
	}

	for _, m := range modules {
		if err := spv.Validate(m.Binary, target.SpirvVersion); err != nil {
			names := make([]string, 0, len(m.EntryPoints))
			for _, ep := range m.EntryPoints {
				names = append(names, ep.Name)
			}

			c.logger.Error("SPIR-V validation failed", "entry_points", names, "error", err)
		}
	}
}

// failureKind classifies a non-zero cargo exit from its stderr
func failureKind(stderr string) Kind {
	contains := func(marker string) bool { return strings.Contains(stderr, marker) }

	switch {
	case slices.ContainsFunc(missingBackendMarkers, contains):
		return ToolchainMissing
	case slices.ContainsFunc(crashMarkers, contains):
		return BackendCrashed
	default:
		return CompilationFailed
	}
}
