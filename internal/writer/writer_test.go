package writer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombh/rust-gpu-cli/internal/artifact"
	"github.com/tombh/rust-gpu-cli/internal/spv/spvtest"
)

func combinedOutput(entries ...artifact.Entry) *artifact.Output {
	return &artifact.Output{Mode: artifact.Combined, Combined: &artifact.Container{Entries: entries}}
}

func entry(name, stage string, blob []byte) artifact.Entry {
	return artifact.Entry{
		EntryPoint: artifact.EntryPoint{Name: name, Stage: stage, Metadata: []byte(name + "-meta")},
		Blob:       blob,
	}
}

// Lists the directory, so leftover temp files show up in assertions
func dirNames(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names
}

func TestWrite_CombinedRoundTrip(t *testing.T) {
	vsfs := spvtest.Module(spvtest.Vertex("main_vs"), spvtest.Fragment("main_fs"))
	cs := spvtest.Module(spvtest.Compute("main_cs", 8, 8, 1))

	out := combinedOutput(
		entry("main_vs", "vertex", vsfs),
		entry("main_fs", "fragment", vsfs),
		entry("main_cs", "compute", cs),
	)

	path := filepath.Join(t.TempDir(), "compiled", "shader"+artifact.Extension)

	w := New(nil)
	written, err := w.Write(out, Target{Path: path})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	parsed, err := artifact.Parse(data)
	require.NoError(t, err)
	require.Len(t, parsed.Entries, 3)

	for i, want := range out.Combined.Entries {
		got := parsed.Entries[i]
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.Stage, got.Stage)
		assert.Equal(t, want.Metadata, got.Metadata)
		assert.Equal(t, want.Blob, got.Blob)
	}

	assert.Equal(t, []string{"shader" + artifact.Extension}, dirNames(t, filepath.Dir(path)))
}

func TestWrite_FailedRenameLeavesPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shader"+artifact.Extension)
	require.NoError(t, os.WriteFile(path, []byte("previous build"), 0o644))

	w := New(nil)
	w.rename = func(_, _ string) error {
		return errors.New("disk on fire")
	}

	_, err := w.Write(combinedOutput(entry("main_fs", "fragment", []byte("new"))), Target{Path: path})
	require.Error(t, err)

	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "IOError", werr.Kind())
	assert.Equal(t, "rename", werr.Op)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous build", string(data))

	assert.Equal(t, []string{"shader" + artifact.Extension}, dirNames(t, dir))
}

func TestWrite_FailedRenameOnFirstBuild(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shader"+artifact.Extension)

	w := New(nil)
	w.rename = func(_, _ string) error {
		return errors.New("disk on fire")
	}

	_, err := w.Write(combinedOutput(entry("main_fs", "fragment", []byte("new"))), Target{Path: path})
	require.Error(t, err)

	assert.NoFileExists(t, path)
	assert.Empty(t, dirNames(t, dir))
}

func TestWrite_UnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "compiled")
	require.NoError(t, os.WriteFile(blocker, []byte("a file, not a directory"), 0o644))

	_, err := New(nil).Write(combinedOutput(), Target{Path: filepath.Join(blocker, "shader.spvpack")})

	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "create directory", werr.Op)
}

func TestWrite_Multimodule(t *testing.T) {
	dir := t.TempDir()
	target := Target{
		Path:  filepath.Join(dir, EntryPlaceholder+".spv"),
		Index: filepath.Join(dir, "shader.index.json"),
	}

	out := &artifact.Output{Mode: artifact.Multimodule, Files: []artifact.Entry{
		entry("main_fs", "fragment", []byte("module-a")),
		entry("main_vs", "vertex", []byte("module-a")),
		entry("main_fs", "fragment", []byte("module-b")),
	}}

	w := New(nil)
	written, err := w.Write(out, target)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "main_fs.spv"),
		filepath.Join(dir, "main_vs.spv"),
		filepath.Join(dir, "main_fs-1.spv"),
		target.Index,
	}, written)

	data, err := os.ReadFile(filepath.Join(dir, "main_fs-1.spv"))
	require.NoError(t, err)
	assert.Equal(t, "module-b", string(data))

	idx, err := ReadIndex(target.Index)
	require.NoError(t, err)
	require.Len(t, idx.Entries, 3)
	assert.Equal(t, IndexEntry{Path: "main_fs-1.spv", EntryPoint: "main_fs", Stage: "fragment", Metadata: []byte("main_fs-meta")}, idx.Entries[2])

	t.Run("stale files from the previous build are removed", func(t *testing.T) {
		next := &artifact.Output{Mode: artifact.Multimodule, Files: []artifact.Entry{
			entry("main_fs", "fragment", []byte("module-c")),
		}}

		_, err := w.Write(next, target)
		require.NoError(t, err)

		assert.ElementsMatch(t, []string{"main_fs.spv", "shader.index.json"}, dirNames(t, dir))
	})
}

func TestWrite_MultimoduleFailureKeepsPreviousIndex(t *testing.T) {
	dir := t.TempDir()
	target := Target{
		Path:  filepath.Join(dir, EntryPlaceholder+".spv"),
		Index: filepath.Join(dir, "shader.index.json"),
	}

	w := New(nil)
	_, err := w.Write(&artifact.Output{Mode: artifact.Multimodule, Files: []artifact.Entry{
		entry("main_fs", "fragment", []byte("first")),
	}}, target)
	require.NoError(t, err)

	before, err := os.ReadFile(target.Index)
	require.NoError(t, err)

	w.rename = func(oldpath, newpath string) error {
		if newpath == target.Index {
			return errors.New("no space left on device")
		}
		return os.Rename(oldpath, newpath)
	}

	_, err = w.Write(&artifact.Output{Mode: artifact.Multimodule, Files: []artifact.Entry{
		entry("main_cs", "compute", []byte("second")),
	}}, target)
	require.Error(t, err)

	after, err := os.ReadFile(target.Index)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	for _, name := range dirNames(t, dir) {
		assert.NotContains(t, name, ".tmp-")
	}
}

func TestWrite_MultimoduleFailureRestoresModules(t *testing.T) {
	dir := t.TempDir()
	target := Target{
		Path:  filepath.Join(dir, EntryPlaceholder+".spv"),
		Index: filepath.Join(dir, "shader.index.json"),
	}

	failOn := func(w *Writer, path string) {
		w.rename = func(oldpath, newpath string) error {
			if newpath == path {
				return errors.New("no space left on device")
			}
			return os.Rename(oldpath, newpath)
		}
	}

	w := New(nil)
	_, err := w.Write(&artifact.Output{Mode: artifact.Multimodule, Files: []artifact.Entry{
		entry("main_fs", "fragment", []byte("first")),
		entry("main_vs", "vertex", []byte("first")),
	}}, target)
	require.NoError(t, err)

	before, err := os.ReadFile(target.Index)
	require.NoError(t, err)

	tests := []struct {
		name   string
		failOn string
	}{
		{name: "index rename fails", failOn: target.Index},
		{name: "second module rename fails", failOn: filepath.Join(dir, "main_vs.spv")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failOn(w, tt.failOn)
			t.Cleanup(func() { w.rename = os.Rename })

			_, err := w.Write(&artifact.Output{Mode: artifact.Multimodule, Files: []artifact.Entry{
				entry("main_fs", "fragment", []byte("second")),
				entry("main_vs", "vertex", []byte("second")),
			}}, target)
			require.Error(t, err)

			for _, name := range []string{"main_fs.spv", "main_vs.spv"} {
				data, err := os.ReadFile(filepath.Join(dir, name))
				require.NoError(t, err)
				assert.Equal(t, "first", string(data), name)
			}

			after, err := os.ReadFile(target.Index)
			require.NoError(t, err)
			assert.Equal(t, before, after)

			assert.ElementsMatch(t, []string{"main_fs.spv", "main_vs.spv", "shader.index.json"}, dirNames(t, dir))
		})
	}
}

func TestWrite_MultimoduleFailedFirstBuildLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	target := Target{
		Path:  filepath.Join(dir, EntryPlaceholder+".spv"),
		Index: filepath.Join(dir, "shader.index.json"),
	}

	w := New(nil)
	w.rename = func(oldpath, newpath string) error {
		if newpath == target.Index {
			return errors.New("read-only file system")
		}
		return os.Rename(oldpath, newpath)
	}

	_, err := w.Write(&artifact.Output{Mode: artifact.Multimodule, Files: []artifact.Entry{
		entry("main_fs", "fragment", []byte("first")),
	}}, target)
	require.Error(t, err)

	assert.Empty(t, dirNames(t, dir))
}

func TestWrite_StaleRemovalStaysInOutputDirectory(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "compiled")
	target := Target{
		Path:  filepath.Join(dir, EntryPlaceholder+".spv"),
		Index: filepath.Join(dir, "shader.index.json"),
	}

	outside := filepath.Join(root, "Cargo.toml")
	require.NoError(t, os.WriteFile(outside, []byte("[package]\n"), 0o644))
	elsewhere := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(elsewhere, []byte("keep"), 0o644))

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.spv"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(target.Index, []byte(`{"version":1,"entries":[
		{"path":"../Cargo.toml"},
		{"path":"`+filepath.ToSlash(elsewhere)+`"},
		{"path":"old.spv"}
	]}`), 0o644))

	_, err := New(nil).Write(&artifact.Output{Mode: artifact.Multimodule, Files: []artifact.Entry{
		entry("main_fs", "fragment", []byte("new")),
	}}, target)
	require.NoError(t, err)

	assert.FileExists(t, outside)
	assert.FileExists(t, elsewhere)
	assert.NoFileExists(t, filepath.Join(dir, "old.spv"))
}

func TestWrite_MultimoduleNeedsPlaceholder(t *testing.T) {
	_, err := New(nil).Write(&artifact.Output{Mode: artifact.Multimodule}, Target{Path: "out.spv", Index: "out.json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), EntryPlaceholder)
}

func TestEntryPaths(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		names   []string
		want    []string
	}{
		{
			name:    "unique names",
			pattern: "out/{entry}.spv",
			names:   []string{"main_vs", "main_fs"},
			want:    []string{"out/main_vs.spv", "out/main_fs.spv"},
		},
		{
			name:    "collisions are numbered",
			pattern: "out/{entry}.spv",
			names:   []string{"main_fs", "main_fs", "main_fs"},
			want:    []string{"out/main_fs.spv", "out/main_fs-1.spv", "out/main_fs-2.spv"},
		},
		{
			name:    "module paths are flattened",
			pattern: "out/{entry}.spv",
			names:   []string{"shaders::sky::main_fs"},
			want:    []string{"out/shaders-sky-main_fs.spv"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EntryPaths(tt.pattern, tt.names))
		})
	}
}
