package writer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tombh/rust-gpu-cli/internal/artifact"
)

// EntryPlaceholder is replaced by the entry point name in multimodule paths
const EntryPlaceholder = "{entry}"

const indexVersion = 1

// Index lists the files of a multimodule build
type Index struct {
	Version int          `json:"version"`
	Entries []IndexEntry `json:"entries"`
}

// IndexEntry is one emitted file. Path is relative to the index file.
type IndexEntry struct {
	Path       string `json:"path"`
	EntryPoint string `json:"entry_point"`
	Stage      string `json:"stage"`
	Metadata   []byte `json:"metadata"`
}

// ReadIndex loads an index written by a previous build
func ReadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parsing index %s: %w", path, err)
	}

	return &idx, nil
}

var nameReplacer = strings.NewReplacer("::", "-", "/", "_", `\`, "_", ":", "_")

// EntryPaths expands the pattern for each entry point. Repeated names get a
// numeric suffix: main_fs.spv, main_fs-1.spv, main_fs-2.spv.
func EntryPaths(pattern string, names []string) []string {
	used := make(map[string]bool)
	paths := make([]string, 0, len(names))

	for _, name := range names {
		path := strings.ReplaceAll(pattern, EntryPlaceholder, nameReplacer.Replace(name))

		candidate := path
		ext := filepath.Ext(path)
		for n := 1; used[candidate]; n++ {
			candidate = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path, ext), n, ext)
		}

		used[candidate] = true
		paths = append(paths, candidate)
	}

	return paths
}

type stagedFile struct {
	tmp, final string

	// Copy of the file being replaced, empty when final did not exist
	backup string
}

func (w *Writer) writeMultimodule(files []artifact.Entry, target Target) ([]string, error) {
	if !strings.Contains(target.Path, EntryPlaceholder) {
		return nil, fmt.Errorf("multimodule output path %q must contain %s", target.Path, EntryPlaceholder)
	}

	if target.Index == "" {
		return nil, fmt.Errorf("multimodule output needs an index path")
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	paths := EntryPaths(target.Path, names)

	previous, err := ReadIndex(target.Index)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn("Ignoring unreadable previous index", "path", target.Index, "error", err)
	}

	var staged []stagedFile
	committed := 0
	defer func() {
		for _, s := range staged[committed:] {
			os.Remove(s.tmp)
		}
		for _, s := range staged {
			if s.backup != "" {
				os.Remove(s.backup)
			}
		}
	}()

	indexDir := filepath.Dir(target.Index)
	idx := Index{Version: indexVersion, Entries: make([]IndexEntry, 0, len(files))}

	for i, f := range files {
		blob := f.Blob
		tmp, err := stage(paths[i], func(out *os.File) error {
			_, err := out.Write(blob)
			return err
		})
		if err != nil {
			return nil, err
		}
		staged = append(staged, stagedFile{tmp: tmp, final: paths[i]})

		idx.Entries = append(idx.Entries, IndexEntry{
			Path:       relativeTo(indexDir, paths[i]),
			EntryPoint: f.Name,
			Stage:      f.Stage,
			Metadata:   f.Metadata,
		})
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding index: %w", err)
	}

	tmp, err := stage(target.Index, func(out *os.File) error {
		_, err := out.Write(append(data, '\n'))
		return err
	})
	if err != nil {
		return nil, err
	}
	staged = append(staged, stagedFile{tmp: tmp, final: target.Index})

	for i := range staged {
		backup, err := backupFile(staged[i].final)
		if err != nil {
			return nil, err
		}
		staged[i].backup = backup
	}

	// Module files first; the index rename publishes the new build. Any
	// failure puts back every file replaced so far.
	for _, s := range staged {
		if err := w.commit(s.tmp, s.final); err != nil {
			var werr *Error
			if errors.As(err, &werr) && werr.Op != "rename" {
				committed++
			}
			w.restore(staged[:committed])
			return nil, err
		}
		committed++
	}

	written := make([]string, 0, len(staged))
	for _, s := range staged {
		written = append(written, s.final)
	}

	if previous != nil {
		w.removeStale(previous, []string{indexDir, filepath.Dir(target.Path)}, indexDir, written)
	}

	w.logger.Debug("Wrote multimodule output", "index", target.Index, "files", len(files))
	return written, nil
}

// backupFile copies path next to itself. It returns an empty name when there
// is nothing to back up.
func backupFile(path string) (string, error) {
	src, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", &Error{Op: "open", Path: path, Err: err}
	}
	defer src.Close()

	return stage(path, func(out *os.File) error {
		_, err := io.Copy(out, src)
		return err
	})
}

// restore undoes committed renames, newest first
func (w *Writer) restore(committed []stagedFile) {
	for i := len(committed) - 1; i >= 0; i-- {
		s := committed[i]

		var err error
		if s.backup != "" {
			err = w.rename(s.backup, s.final)
		} else {
			err = os.Remove(s.final)
		}

		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("Could not restore previous output", "path", s.final, "error", err)
		}
	}
}

// removeStale deletes files listed by the previous index that the new build
// no longer produces. Only paths inside one of the output directories are
// touched.
func (w *Writer) removeStale(previous *Index, allowed []string, indexDir string, written []string) {
	keep := make(map[string]bool, len(written))
	for _, p := range written {
		keep[filepath.Clean(p)] = true
	}

	for _, e := range previous.Entries {
		path := e.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(indexDir, filepath.FromSlash(path))
		}
		path = filepath.Clean(path)

		if keep[path] {
			continue
		}

		if !slices.ContainsFunc(allowed, func(dir string) bool { return within(dir, path) }) {
			w.logger.Warn("Not removing stale module outside the output directory", "path", path)
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("Could not remove stale module", "path", path, "error", err)
			continue
		}

		w.logger.Debug("Removed stale module", "path", path)
	}
}

// within reports whether path lies strictly below dir
func within(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), path)
	if err != nil || rel == "." {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func relativeTo(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}

	return filepath.ToSlash(rel)
}
