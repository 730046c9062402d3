package fingerprint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"github.com/zeebo/xxh3"
)

// Directory names never descended into
var skipDirs = []string{"target", ".git", ".rust-gpu-cache"}

// File is one entry of a snapshot
type File struct {
	// Path relative to the crate root, slash separated
	Path string

	// XXH3-128 of the file content
	Hash [16]byte
}

// Snapshot is the ordered list of files the backend could read for a crate
type Snapshot struct {
	Root  string
	Files []File
}

// Source computes the source state fingerprint. Only paths and content
// hashes contribute; timestamps never do.
func Source(s Snapshot) Digest {
	h := blake3.New()

	var n [4]byte
	for _, f := range s.Files {
		binary.LittleEndian.PutUint32(n[:], uint32(len(f.Path)))
		h.Write(n[:])
		h.WriteString(f.Path)
		h.Write(f.Hash[:])
	}

	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

type cachedHash struct {
	size    int64
	modTime time.Time
	hash    [16]byte
}

// Scanner walks a crate and its local path dependencies. Content hashes are
// remembered between scans and reused while size and mtime are unchanged.
type Scanner struct {
	root string

	// Absolute paths skipped together with everything beneath them
	excludePaths []string

	// Glob patterns matched against base names and root-relative paths
	ignore []string

	mu     sync.Mutex
	hashes map[string]cachedHash
}

// NewScanner creates a scanner for the crate at root
func NewScanner(root string, excludePaths, ignore []string) *Scanner {
	abs := make([]string, 0, len(excludePaths))
	for _, p := range excludePaths {
		if p == "" {
			continue
		}

		if a, err := filepath.Abs(p); err == nil {
			abs = append(abs, filepath.Clean(a))
		}
	}

	return &Scanner{
		root:         filepath.Clean(root),
		excludePaths: abs,
		ignore:       ignore,
		hashes:       make(map[string]cachedHash),
	}
}

// Root returns the crate root
func (s *Scanner) Root() string {
	return s.root
}

// Excluded reports whether path is outside the source state
func (s *Scanner) Excluded(path string) bool {
	path = filepath.Clean(path)

	for _, p := range s.excludePaths {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}

	base := filepath.Base(path)
	if slices.Contains(skipDirs, base) {
		return true
	}

	rel, relErr := filepath.Rel(s.root, path)

	for _, pattern := range s.ignore {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}

		if relErr == nil {
			if ok, _ := filepath.Match(pattern, filepath.ToSlash(rel)); ok {
				return true
			}
		}
	}

	return false
}

// Scan produces a fresh snapshot
func (s *Scanner) Scan() (Snapshot, error) {
	inputs, err := s.Inputs()
	if err != nil {
		return Snapshot{}, err
	}

	seen := make(map[string]bool)
	var files []File

	add := func(path string) error {
		if seen[path] {
			return nil
		}
		seen[path] = true

		hash, err := s.hashFile(path)
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return fmt.Errorf("relativizing %s: %w", path, err)
		}

		files = append(files, File{Path: filepath.ToSlash(rel), Hash: hash})
		return nil
	}

	for _, dir := range inputs.Dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if path != dir && s.Excluded(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if !d.Type().IsRegular() {
				return nil
			}

			return add(path)
		})
		if err != nil {
			return Snapshot{}, fmt.Errorf("scanning %s: %w", dir, err)
		}
	}

	for _, path := range inputs.Files {
		if err := add(path); err != nil {
			return Snapshot{}, err
		}
	}

	slices.SortFunc(files, func(a, b File) int {
		return strings.Compare(a.Path, b.Path)
	})

	s.prune(seen)

	return Snapshot{Root: s.root, Files: files}, nil
}

func (s *Scanner) hashFile(path string) ([16]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return [16]byte{}, fmt.Errorf("stat %s: %w", path, err)
	}

	s.mu.Lock()
	cached, ok := s.hashes[path]
	s.mu.Unlock()

	if ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached.hash, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return [16]byte{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return [16]byte{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	sum := h.Sum128().Bytes()

	s.mu.Lock()
	s.hashes[path] = cachedHash{size: info.Size(), modTime: info.ModTime(), hash: sum}
	s.mu.Unlock()

	return sum, nil
}

// Forget hashes of files that no longer exist
func (s *Scanner) prune(seen map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for path := range s.hashes {
		if !seen[path] {
			delete(s.hashes, path)
		}
	}
}

// Inputs are the directories walked recursively and the single files added
// to every snapshot
type Inputs struct {
	Dirs  []string
	Files []string
}

// Inputs resolves the crate root, its local path dependencies and the
// workspace files that influence the build
func (s *Scanner) Inputs() (Inputs, error) {
	if _, err := os.Stat(filepath.Join(s.root, manifestName)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Inputs{}, fmt.Errorf("%s is not a crate: no %s", s.root, manifestName)
		}
		return Inputs{}, fmt.Errorf("reading crate manifest: %w", err)
	}

	deps, err := pathDependencies(s.root)
	if err != nil {
		return Inputs{}, err
	}

	inputs := Inputs{Dirs: append([]string{s.root}, deps...)}

	if lock := findUp(s.root, "Cargo.lock"); lock != "" && !s.inDirs(lock, inputs.Dirs) {
		inputs.Files = append(inputs.Files, lock)
	}

	for _, name := range []string{"rust-toolchain.toml", "rust-toolchain"} {
		if tc := findUp(s.root, name); tc != "" {
			if !s.inDirs(tc, inputs.Dirs) {
				inputs.Files = append(inputs.Files, tc)
			}
			break
		}
	}

	return inputs, nil
}

func (s *Scanner) inDirs(path string, dirs []string) bool {
	for _, d := range dirs {
		if strings.HasPrefix(path, d+string(filepath.Separator)) {
			return true
		}
	}

	return false
}

// findUp returns the first file named name in dir or one of its ancestors
func findUp(dir, name string) string {
	for {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
