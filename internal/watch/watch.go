// Package watch turns filesystem events under a crate's inputs into build
// triggers. It makes no decisions: every debounced burst of events becomes
// one call to the trigger function.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tombh/rust-gpu-cli/internal/fingerprint"
)

// DefaultDebounce is how long the watcher waits for a burst of events to end
const DefaultDebounce = 200 * time.Millisecond

// Config wires a Watcher
type Config struct {
	// Resolve returns the directories and files to watch. It is called again
	// whenever a Cargo.toml changes, since dependencies may have moved.
	Resolve func() (fingerprint.Inputs, error)

	// Excluded reports paths whose changes never matter
	Excluded func(path string) bool

	// Trigger is called once per debounced burst
	Trigger func(reason string)

	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher watches crate inputs
type Watcher struct {
	cfg    Config
	fs     *fsnotify.Watcher
	logger *slog.Logger

	mu sync.Mutex
	// Directory → watched recursively; false means only the listed files count
	dirs  map[string]bool
	files map[string]bool
}

// New creates a watcher and adds the initial watches
func New(cfg Config) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	if cfg.Excluded == nil {
		cfg.Excluded = func(string) bool { return false }
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		cfg:    cfg,
		fs:     fw,
		logger: logger,
		dirs:   make(map[string]bool),
		files:  make(map[string]bool),
	}

	if err := w.refresh(); err != nil {
		fw.Close()
		return nil, err
	}

	return w, nil
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// refresh resolves the inputs again and watches anything new
func (w *Watcher) refresh() error {
	inputs, err := w.cfg.Resolve()
	if err != nil {
		return fmt.Errorf("resolving watch roots: %w", err)
	}

	for _, dir := range inputs.Dirs {
		if err := w.addTree(dir); err != nil {
			return err
		}
	}

	for _, file := range inputs.Files {
		if err := w.addFile(file); err != nil {
			return err
		}
	}

	return nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished while walking
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != root && w.cfg.Excluded(path) {
			return filepath.SkipDir
		}

		return w.addDir(path, true)
	})
}

func (w *Watcher) addDir(dir string, recursive bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if prev, ok := w.dirs[dir]; ok {
		if recursive && !prev {
			w.dirs[dir] = true
		}
		return nil
	}

	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	w.dirs[dir] = recursive
	return nil
}

// Single files are watched through their directory, so editors that
// replace files by renaming are still seen
func (w *Watcher) addFile(path string) error {
	w.mu.Lock()
	w.files[path] = true
	w.mu.Unlock()

	return w.addDir(filepath.Dir(path), false)
}

// relevant reports whether an event path belongs to the inputs
func (w *Watcher) relevant(path string) bool {
	if w.cfg.Excluded(path) {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.files[path] {
		return true
	}

	if recursive, ok := w.dirs[filepath.Dir(path)]; ok && recursive {
		return true
	}

	// Removal of a watched directory itself
	return w.dirs[path]
}

// Run delivers triggers until ctx is cancelled or the watcher is closed
func (w *Watcher) Run(ctx context.Context) error {
	var (
		timer   *time.Timer
		fire    <-chan time.Time
		changed = make(map[string]bool)
		refresh bool
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", "error", err)

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}

			if !w.relevant(ev.Name) {
				continue
			}

			w.logger.Debug("File event", "path", ev.Name, "op", ev.Op.String())

			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						w.logger.Warn("Could not watch new directory", "path", ev.Name, "error", err)
					}
				}
			}

			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				w.forget(ev.Name)
			}

			if filepath.Base(ev.Name) == "Cargo.toml" {
				refresh = true
			}

			changed[ev.Name] = true

			if timer == nil {
				timer = time.NewTimer(w.cfg.Debounce)
			} else {
				timer.Reset(w.cfg.Debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil

			if refresh {
				refresh = false
				if err := w.refresh(); err != nil {
					w.logger.Warn("Could not refresh watched paths", "error", err)
				}
			}

			w.cfg.Trigger(describe(changed))
			clear(changed)
		}
	}
}

// forget drops the watches on path and everything below it, so the tree is
// watched again if it comes back
func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prefix := path + string(filepath.Separator)
	for dir := range w.dirs {
		if dir != path && !strings.HasPrefix(dir, prefix) {
			continue
		}

		delete(w.dirs, dir)

		// Gone already when the directory was deleted
		if err := w.fs.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			w.logger.Debug("Could not remove watch", "path", dir, "error", err)
		}
	}
}

func describe(changed map[string]bool) string {
	if len(changed) == 1 {
		for path := range changed {
			return filepath.Base(path) + " changed"
		}
	}

	return fmt.Sprintf("%d files changed", len(changed))
}
