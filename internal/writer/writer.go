// Package writer puts packaged build output on disk. Every file is written to
// a temporary file in its destination directory and renamed into place, so
// readers see either the previous file or the complete new one.
package writer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tombh/rust-gpu-cli/internal/artifact"
)

// Error is returned for any filesystem failure while writing output
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind returns the error kind name
func (e *Error) Kind() string {
	return "IOError"
}

// Target says where output goes
type Target struct {
	// Combined mode: the artifact path. Multimodule mode: a path pattern
	// containing EntryPlaceholder.
	Path string

	// Multimodule index path
	Index string
}

// Writer writes packaged output atomically
type Writer struct {
	logger *slog.Logger

	// Seam for tests
	rename func(oldpath, newpath string) error
}

// New creates a writer. A nil logger discards log output.
func New(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Writer{
		logger: logger,
		rename: os.Rename,
	}
}

// Write puts out on disk and returns the paths written, index last
func (w *Writer) Write(out *artifact.Output, target Target) ([]string, error) {
	switch out.Mode {
	case artifact.Combined:
		container := out.Combined
		if container == nil {
			container = &artifact.Container{}
		}

		if err := w.writeCombined(container, target.Path); err != nil {
			return nil, err
		}

		return []string{target.Path}, nil

	case artifact.Multimodule:
		return w.writeMultimodule(out.Files, target)

	default:
		return nil, fmt.Errorf("unknown packaging mode %v", out.Mode)
	}
}

func (w *Writer) writeCombined(c *artifact.Container, path string) error {
	staged, err := stage(path, func(f *os.File) error {
		return c.Encode(f)
	})
	if err != nil {
		return err
	}

	if err := w.commit(staged, path); err != nil {
		os.Remove(staged)
		return err
	}

	w.logger.Debug("Wrote combined artifact", "path", path, "entries", len(c.Entries))
	return nil
}

// stage writes a temporary file next to path and fsyncs it. The caller
// renames or removes the returned temp path.
func stage(path string, write func(f *os.File) error) (string, error) {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &Error{Op: "create directory", Path: dir, Err: err}
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", &Error{Op: "create temp file", Path: path, Err: err}
	}
	tmpPath := f.Name()

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := write(f); err != nil {
		return "", &Error{Op: "write", Path: tmpPath, Err: err}
	}

	if err := f.Sync(); err != nil {
		return "", &Error{Op: "sync", Path: tmpPath, Err: err}
	}

	if err := f.Chmod(0o644); err != nil {
		return "", &Error{Op: "chmod", Path: tmpPath, Err: err}
	}

	if err := f.Close(); err != nil {
		return "", &Error{Op: "close", Path: tmpPath, Err: err}
	}

	success = true
	return tmpPath, nil
}

// commit renames a staged file into place and syncs the parent directory
func (w *Writer) commit(tmpPath, path string) error {
	if err := w.rename(tmpPath, path); err != nil {
		return &Error{Op: "rename", Path: path, Err: err}
	}

	if err := syncDir(filepath.Dir(path)); err != nil {
		return &Error{Op: "sync directory", Path: filepath.Dir(path), Err: err}
	}

	return nil
}

func syncDir(dir string) error {
	// Directories cannot be opened for syncing on windows
	if runtime.GOOS == "windows" {
		return nil
	}

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}

	return nil
}
