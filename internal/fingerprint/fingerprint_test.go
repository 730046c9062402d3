package fingerprint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombh/rust-gpu-cli/internal/options"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newCrate(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "shader")
	writeFile(t, filepath.Join(root, "Cargo.toml"), "[package]\nname = \"shader\"\n")
	writeFile(t, filepath.Join(root, "src", "lib.rs"), "#![no_std]\n")
	return root
}

func TestOptions_OrderInsensitive(t *testing.T) {
	a := options.CompileOptions{Target: options.DefaultTarget, Capabilities: []string{"Int8", "Int16"}}
	b := options.CompileOptions{Target: options.DefaultTarget, Capabilities: []string{"Int16", "Int8", "Int8"}}

	da, err := Options(a, Output{})
	require.NoError(t, err)
	db, err := Options(b, Output{})
	require.NoError(t, err)

	assert.Equal(t, da, db)
	assert.NotEqual(t, Digest{}, da)
}

func TestOptions_Differences(t *testing.T) {
	base := options.CompileOptions{Target: options.DefaultTarget}
	baseDigest, err := Options(base, Output{Path: "out.spvpack", Packaging: "combined"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		opts   options.CompileOptions
		output Output
	}{
		{"target", options.CompileOptions{Target: "spirv-unknown-vulkan1.1"}, Output{Path: "out.spvpack", Packaging: "combined"}},
		{"debug", options.CompileOptions{Target: options.DefaultTarget, Debug: true}, Output{Path: "out.spvpack", Packaging: "combined"}},
		{"metadata", options.CompileOptions{Target: options.DefaultTarget, SpirvMetadata: options.MetadataFull}, Output{Path: "out.spvpack", Packaging: "combined"}},
		{"extension", options.CompileOptions{Target: options.DefaultTarget, Extensions: []string{"SPV_KHR_shader_clock"}}, Output{Path: "out.spvpack", Packaging: "combined"}},
		{"output path", base, Output{Path: "other.spvpack", Packaging: "combined"}},
		{"packaging", base, Output{Path: "out.spvpack", Packaging: "multimodule"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Options(tt.opts, tt.output)
			require.NoError(t, err)
			assert.NotEqual(t, baseDigest, d)
		})
	}
}

func TestOptions_EverySingleFieldChange(t *testing.T) {
	output := Output{Path: "out.spvpack", Packaging: "combined"}

	mutations := map[string]func(*options.CompileOptions){
		"target":                         func(o *options.CompileOptions) { o.Target = "spirv-unknown-vulkan1.2" },
		"deny warnings":                  func(o *options.CompileOptions) { o.DenyWarnings = true },
		"debug":                          func(o *options.CompileOptions) { o.Debug = true },
		"multimodule":                    func(o *options.CompileOptions) { o.Multimodule = true },
		"metadata name-variables":        func(o *options.CompileOptions) { o.SpirvMetadata = options.MetadataNameVariables },
		"metadata full":                  func(o *options.CompileOptions) { o.SpirvMetadata = options.MetadataFull },
		"relax struct store":             func(o *options.CompileOptions) { o.RelaxStructStore = true },
		"relax logical pointer":          func(o *options.CompileOptions) { o.RelaxLogicalPointer = true },
		"relax block layout":             func(o *options.CompileOptions) { o.RelaxBlockLayout = true },
		"uniform buffer standard layout": func(o *options.CompileOptions) { o.UniformBufferStandardLayout = true },
		"scalar block layout":            func(o *options.CompileOptions) { o.ScalarBlockLayout = true },
		"skip block layout":              func(o *options.CompileOptions) { o.SkipBlockLayout = true },
		"preserve bindings":              func(o *options.CompileOptions) { o.PreserveBindings = true },
		"capability":                     func(o *options.CompileOptions) { o.Capabilities = []string{"Int8"} },
		"other capability":               func(o *options.CompileOptions) { o.Capabilities = []string{"Int16"} },
		"extension":                      func(o *options.CompileOptions) { o.Extensions = []string{"SPV_KHR_shader_clock"} },
	}

	base, err := Options(options.CompileOptions{Target: options.DefaultTarget}, output)
	require.NoError(t, err)

	seen := map[Digest]string{base: "base"}
	for name, mutate := range mutations {
		opts := options.CompileOptions{Target: options.DefaultTarget}
		mutate(&opts)

		d, err := Options(opts, output)
		require.NoError(t, err)

		if other, dup := seen[d]; dup {
			t.Errorf("%s and %s have the same fingerprint", name, other)
		}
		seen[d] = name
	}
}

func TestDigest_String(t *testing.T) {
	d, err := Options(options.CompileOptions{Target: options.DefaultTarget}, Output{})
	require.NoError(t, err)

	assert.Len(t, d.String(), 64)
	assert.True(t, strings.HasPrefix(d.String(), d.Short()))
	assert.Len(t, d.Short(), 12)
}

func TestSource_ContentOnly(t *testing.T) {
	root := newCrate(t)
	s := NewScanner(root, nil, nil)

	first, err := s.Scan()
	require.NoError(t, err)

	// Touching a file without changing it leaves the digest alone
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "src", "lib.rs"), future, future))

	second, err := s.Scan()
	require.NoError(t, err)
	assert.Equal(t, Source(first), Source(second))

	writeFile(t, filepath.Join(root, "src", "lib.rs"), "#![no_std]\npub fn f() {}\n")

	third, err := s.Scan()
	require.NoError(t, err)
	assert.NotEqual(t, Source(second), Source(third))
}

func TestScan_Contents(t *testing.T) {
	root := newCrate(t)
	writeFile(t, filepath.Join(root, "src", "a", "b.rs"), "b")
	writeFile(t, filepath.Join(root, "target", "debug", "junk"), "junk")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref")
	writeFile(t, filepath.Join(root, "compiled", "shader.spvpack"), "old build")
	writeFile(t, filepath.Join(root, "notes.swp"), "editor")

	s := NewScanner(root, []string{filepath.Join(root, "compiled")}, []string{"*.swp"})
	snap, err := s.Scan()
	require.NoError(t, err)

	var paths []string
	for _, f := range snap.Files {
		paths = append(paths, f.Path)
	}

	assert.Equal(t, []string{"Cargo.toml", "src/a/b.rs", "src/lib.rs"}, paths)
}

func TestScan_OutputChangesDoNotAffectSource(t *testing.T) {
	root := newCrate(t)
	out := filepath.Join(root, "compiled")
	s := NewScanner(root, []string{out}, nil)

	before, err := s.Scan()
	require.NoError(t, err)

	writeFile(t, filepath.Join(out, "shader.spvpack"), "new build")

	after, err := s.Scan()
	require.NoError(t, err)
	assert.Equal(t, Source(before), Source(after))
}

func TestScan_PathDependencies(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, "Cargo.toml"), `
[workspace]
members = ["shader", "shared"]

[workspace.dependencies]
shared = { path = "shared" }
`)
	writeFile(t, filepath.Join(ws, "Cargo.lock"), "# lock\n")
	writeFile(t, filepath.Join(ws, "rust-toolchain.toml"), "[toolchain]\nchannel = \"nightly\"\n")

	writeFile(t, filepath.Join(ws, "shader", "Cargo.toml"), `
[package]
name = "shader"

[dependencies]
shared = { workspace = true }
spirv-std = "0.9"
`)
	writeFile(t, filepath.Join(ws, "shader", "src", "lib.rs"), "use shared;")

	writeFile(t, filepath.Join(ws, "shared", "Cargo.toml"), `
[package]
name = "shared"

[dependencies]
maths = { path = "../maths" }
`)
	writeFile(t, filepath.Join(ws, "shared", "src", "lib.rs"), "pub struct Shared;")

	writeFile(t, filepath.Join(ws, "maths", "Cargo.toml"), "[package]\nname = \"maths\"\n")
	writeFile(t, filepath.Join(ws, "maths", "src", "lib.rs"), "pub fn dot() {}")

	s := NewScanner(filepath.Join(ws, "shader"), nil, nil)

	inputs, err := s.Inputs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(ws, "shader"),
		filepath.Join(ws, "shared"),
		filepath.Join(ws, "maths"),
	}, inputs.Dirs)
	assert.Equal(t, []string{
		filepath.Join(ws, "Cargo.lock"),
		filepath.Join(ws, "rust-toolchain.toml"),
	}, inputs.Files)

	before, err := s.Scan()
	require.NoError(t, err)
	assert.Len(t, before.Files, 8)

	// An edit in a transitive dependency changes the crate's source state
	writeFile(t, filepath.Join(ws, "maths", "src", "lib.rs"), "pub fn cross() {}")

	after, err := s.Scan()
	require.NoError(t, err)
	assert.NotEqual(t, Source(before), Source(after))
}

func TestScan_NotACrate(t *testing.T) {
	s := NewScanner(t.TempDir(), nil, nil)

	_, err := s.Scan()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a crate")
}

func TestExcluded(t *testing.T) {
	root := "/work/shader"
	s := NewScanner(root, []string{"/work/shader/compiled"}, []string{"*.tmp", "assets/generated/*"})

	tests := []struct {
		path string
		want bool
	}{
		{"/work/shader/src/lib.rs", false},
		{"/work/shader/compiled", true},
		{"/work/shader/compiled/a.spv", true},
		{"/work/shader/compiledx/a.spv", false},
		{"/work/shader/target", true},
		{"/work/shader/.git", true},
		{"/work/shader/src/x.tmp", true},
		{"/work/shader/assets/generated/a.rs", true},
		{"/work/shader/assets/a.rs", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Excluded(tt.path))
		})
	}
}
