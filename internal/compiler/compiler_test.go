package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gogpu/naga/spirv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombh/rust-gpu-cli/internal/options"
	"github.com/tombh/rust-gpu-cli/internal/spv/spvtest"
)

// mockRunner implements Runner for testing
type mockRunner struct {
	runFunc func(inv *Invocation) (*Outcome, error)
	calls   []*Invocation
}

func (m *mockRunner) Run(_ context.Context, inv *Invocation) (*Outcome, error) {
	m.calls = append(m.calls, inv)
	return m.runFunc(inv)
}

func newTestCompiler(runner Runner) *Compiler {
	c := New(testToolchain, runner, nil)
	c.check = func(Toolchain) error { return nil }
	c.environ = func() []string { return []string{"HOME=/home/test"} }
	return c
}

// writeResult lays out backend output the way rustc_codegen_spirv does and
// returns cargo's stdout announcing it
func writeResult(t *testing.T, manifest map[string]any, modules map[string][]byte) []byte {
	t.Helper()

	dir := t.TempDir()
	for name, data := range modules {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}

	manifestPath := filepath.Join(dir, "shader.spv.json")
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(manifestPath, data, 0o644))

	msg, err := json.Marshal(map[string]any{
		"reason":    "compiler-artifact",
		"filenames": []string{filepath.Join(dir, "libshader.rlib"), manifestPath},
	})
	require.NoError(t, err)

	stdout := `{"reason":"compiler-artifact","filenames":["/elsewhere/libcore.rlib"]}` + "\n"
	stdout += string(msg) + "\n"
	stdout += `{"reason":"build-finished","success":true}` + "\n"
	return []byte(stdout)
}

func success(stdout []byte) func(*Invocation) (*Outcome, error) {
	return func(*Invocation) (*Outcome, error) {
		return &Outcome{Stdout: stdout, ExitCode: 0}, nil
	}
}

var defaultOpts = options.CompileOptions{Target: options.DefaultTarget}

func TestCompile_SingleModule(t *testing.T) {
	stdout := writeResult(t,
		map[string]any{
			"entry_points": []string{"main_vs", "main_fs"},
			"module":       map[string]any{"SingleModule": "shader.spv"},
		},
		map[string][]byte{"shader.spv": spvtest.Module(spvtest.Vertex("main_vs"), spvtest.Fragment("main_fs"))},
	)

	runner := &mockRunner{runFunc: success(stdout)}
	c := newTestCompiler(runner)

	result, err := c.Compile(context.Background(), defaultOpts, "/work/shader")
	require.NoError(t, err)
	require.Len(t, result.Modules, 1)

	mod := result.Modules[0]
	require.Len(t, mod.EntryPoints, 2)
	assert.Equal(t, "main_vs", mod.EntryPoints[0].Name)
	assert.Equal(t, "vertex", mod.EntryPoints[0].Stage)
	assert.Equal(t, "main_fs", mod.EntryPoints[1].Name)
	assert.Equal(t, "fragment", mod.EntryPoints[1].Stage)

	reflection, err := DecodeMetadata(mod.EntryPoints[1].Metadata)
	require.NoError(t, err)
	assert.Equal(t, "main_fs", reflection.Name)
	assert.Equal(t, uint32(spirv.ExecutionModelFragment), reflection.ExecutionModel)
	assert.Equal(t, "1.3", reflection.SpirvVersion)
	assert.Contains(t, reflection.Capabilities, "Shader")

	require.Len(t, runner.calls, 1)
	inv := runner.calls[0]
	assert.Equal(t, "/work/shader", inv.Dir)
	assert.Contains(t, inv.Env, "HOME=/home/test")
	assert.Contains(t, inv.Env, "RUSTUP_TOOLCHAIN=nightly-2024-11-22")
}

func TestCompile_MultiModule(t *testing.T) {
	stdout := writeResult(t,
		map[string]any{
			"entry_points": []string{"main_fs", "main_cs"},
			"module": map[string]any{"MultiModule": map[string]string{
				"main_cs": "main_cs.spv",
				"main_fs": "main_fs.spv",
			}},
		},
		map[string][]byte{
			"main_fs.spv": spvtest.Module(spvtest.Fragment("main_fs")),
			"main_cs.spv": spvtest.Module(spvtest.Compute("main_cs", 16, 16, 1)),
		},
	)

	c := newTestCompiler(&mockRunner{runFunc: success(stdout)})

	result, err := c.Compile(context.Background(), options.CompileOptions{Target: options.DefaultTarget, Multimodule: true}, "/work/shader")
	require.NoError(t, err)
	require.Len(t, result.Modules, 2)
	assert.Equal(t, "main_fs", result.Modules[0].EntryPoints[0].Name)
	assert.Equal(t, "main_cs", result.Modules[1].EntryPoints[0].Name)
	assert.Equal(t, "compute", result.Modules[1].EntryPoints[0].Stage)

	reflection, err := DecodeMetadata(result.Modules[1].EntryPoints[0].Metadata)
	require.NoError(t, err)
	assert.Equal(t, []uint32{16, 16, 1}, reflection.LocalSize)
}

func TestCompile_Failures(t *testing.T) {
	undeclared := writeResult(t,
		map[string]any{
			"entry_points": []string{"main_fs", "ghost"},
			"module":       map[string]any{"SingleModule": "shader.spv"},
		},
		map[string][]byte{"shader.spv": spvtest.Module(spvtest.Fragment("main_fs"))},
	)

	notSpirv := writeResult(t,
		map[string]any{
			"entry_points": []string{"main_fs"},
			"module":       map[string]any{"SingleModule": "shader.spv"},
		},
		map[string][]byte{"shader.spv": []byte("this is not spirv at all")},
	)

	tests := []struct {
		name            string
		opts            options.CompileOptions
		runFunc         func(*Invocation) (*Outcome, error)
		wantKind        Kind
		wantDiagnostics string
		errContains     string
		wantNoRun       bool
	}{
		{
			name:      "invalid options never reach the backend",
			opts:      options.CompileOptions{Target: "spirv-unknown-nope"},
			wantKind:  InvalidOptions,
			wantNoRun: true,
		},
		{
			name: "process cannot start",
			runFunc: func(*Invocation) (*Outcome, error) {
				return nil, errors.New("exec: \"cargo\": executable file not found in $PATH")
			},
			wantKind:    ToolchainMissing,
			errContains: "executable file not found",
		},
		{
			name: "compile errors",
			runFunc: func(*Invocation) (*Outcome, error) {
				return &Outcome{ExitCode: 101, Stderr: []byte("error[E0425]: cannot find value `x`\n")}, nil
			},
			wantKind:        CompilationFailed,
			wantDiagnostics: "error[E0425]: cannot find value `x`\n",
			errContains:     "Build failed",
		},
		{
			name: "internal compiler error",
			runFunc: func(*Invocation) (*Outcome, error) {
				return &Outcome{ExitCode: 101, Stderr: []byte("error: internal compiler error: unexpected type\n")}, nil
			},
			wantKind:        BackendCrashed,
			wantDiagnostics: "error: internal compiler error: unexpected type\n",
		},
		{
			name: "rustc panic",
			runFunc: func(*Invocation) (*Outcome, error) {
				return &Outcome{ExitCode: 101, Stderr: []byte("thread 'rustc' panicked at compiler/rustc_codegen_spirv/src/builder.rs:12:5\n")}, nil
			},
			wantKind: BackendCrashed,
		},
		{
			name: "build script panic is a compile failure",
			runFunc: func(*Invocation) (*Outcome, error) {
				return &Outcome{ExitCode: 101, Stderr: []byte("thread 'main' panicked at build.rs:4:5:\nmissing SKY_TEXTURE\n")}, nil
			},
			wantKind: CompilationFailed,
		},
		{
			name: "backend library cannot be loaded",
			runFunc: func(*Invocation) (*Outcome, error) {
				return &Outcome{ExitCode: 1, Stderr: []byte("error: couldn't load codegen backend /opt/librustc_codegen_spirv.so\n")}, nil
			},
			wantKind: ToolchainMissing,
		},
		{
			name: "killed by signal",
			runFunc: func(*Invocation) (*Outcome, error) {
				return &Outcome{ExitCode: -1, Stderr: []byte("partial")}, nil
			},
			wantKind:        BackendCrashed,
			wantDiagnostics: "partial",
		},
		{
			name:        "no manifest reported",
			runFunc:     success([]byte(`{"reason":"build-finished","success":true}` + "\n")),
			wantKind:    BackendCrashed,
			errContains: "malformed backend result",
		},
		{
			name:        "manifest lists undeclared entry point",
			runFunc:     success(undeclared),
			wantKind:    BackendCrashed,
			errContains: `"ghost" is not declared`,
		},
		{
			name:        "module is not spirv",
			runFunc:     success(notSpirv),
			wantKind:    BackendCrashed,
			errContains: "bad magic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.opts.Target == "" {
				tt.opts.Target = options.DefaultTarget
			}

			runner := &mockRunner{runFunc: tt.runFunc}
			c := newTestCompiler(runner)

			result, err := c.Compile(context.Background(), tt.opts, t.TempDir())
			require.Error(t, err)
			assert.Nil(t, result)

			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantKind, ce.Kind)

			if tt.wantDiagnostics != "" {
				assert.Equal(t, tt.wantDiagnostics, ce.Diagnostics)
			}
			if tt.errContains != "" {
				assert.Contains(t, err.Error(), tt.errContains)
			}
			if tt.wantNoRun {
				assert.Empty(t, runner.calls)
			}
		})
	}
}

func TestCompile_ToolchainCheck(t *testing.T) {
	runner := &mockRunner{runFunc: success(nil)}
	c := newTestCompiler(runner)
	c.check = func(Toolchain) error {
		return newError(ToolchainMissing, "codegen backend not found")
	}

	_, err := c.Compile(context.Background(), defaultOpts, t.TempDir())

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ToolchainMissing, ce.Kind)
	assert.Empty(t, runner.calls)
}

func TestCompile_ValidationNeverFails(t *testing.T) {
	// A 1.5 module is newer than the 1.3 target; validation logs it and moves on
	stdout := writeResult(t,
		map[string]any{
			"entry_points": []string{"main_fs"},
			"module":       map[string]any{"SingleModule": "shader.spv"},
		},
		map[string][]byte{"shader.spv": spvtest.ModuleVersion(spirv.Version1_5, spvtest.Fragment("main_fs"))},
	)

	c := newTestCompiler(&mockRunner{runFunc: success(stdout)})
	c.Validate = true

	result, err := c.Compile(context.Background(), defaultOpts, t.TempDir())
	require.NoError(t, err)
	assert.Len(t, result.Modules, 1)
}

func TestExecRunner(t *testing.T) {
	t.Run("missing program", func(t *testing.T) {
		r := NewExecRunner(nil)
		out, err := r.Run(context.Background(), &Invocation{Program: filepath.Join(t.TempDir(), "no-such-cargo")})
		assert.Error(t, err)
		assert.Nil(t, out)
	})
}
