package fingerprint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const manifestName = "Cargo.toml"

type dependency struct {
	Path      string
	Workspace bool
}

type cargoManifest struct {
	Dependencies      map[string]any `toml:"dependencies"`
	BuildDependencies map[string]any `toml:"build-dependencies"`
	Workspace         *struct {
		Dependencies map[string]any `toml:"dependencies"`
	} `toml:"workspace"`
}

func readManifest(dir string) (*cargoManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}

	var m cargoManifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Join(dir, manifestName), err)
	}

	return &m, nil
}

// Dependency tables hold either a version string or an inline table
func asDependency(v any) (dependency, bool) {
	table, ok := v.(map[string]any)
	if !ok {
		return dependency{}, false
	}

	var d dependency
	if p, ok := table["path"].(string); ok {
		d.Path = p
	}
	if w, ok := table["workspace"].(bool); ok {
		d.Workspace = w
	}

	return d, d.Path != "" || d.Workspace
}

// workspaceRoot returns the nearest ancestor of dir (exclusive) whose
// manifest declares a [workspace], or "" when there is none
func workspaceRoot(dir string) (string, *cargoManifest) {
	for d := filepath.Dir(dir); ; d = filepath.Dir(d) {
		if m, err := readManifest(d); err == nil && m.Workspace != nil {
			return d, m
		}

		if filepath.Dir(d) == d {
			return "", nil
		}
	}
}

// pathDependencies returns the directories of every local path dependency
// reachable from the crate at root, in discovery order
func pathDependencies(root string) ([]string, error) {
	seen := map[string]bool{root: true}
	var out []string

	queue := []string{root}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		m, err := readManifest(dir)
		if err != nil {
			// A missing dependency manifest is cargo's error to report
			if errors.Is(err, fs.ErrNotExist) && dir != root {
				continue
			}
			return nil, err
		}

		var wsDir string
		var ws *cargoManifest
		if m.Workspace != nil {
			wsDir, ws = dir, m
		} else {
			wsDir, ws = workspaceRoot(dir)
		}

		for _, table := range []map[string]any{m.Dependencies, m.BuildDependencies} {
			for name, v := range table {
				d, ok := asDependency(v)
				if !ok {
					continue
				}

				base := dir
				if d.Workspace {
					if ws == nil || ws.Workspace == nil {
						continue
					}

					wd, ok := asDependency(ws.Workspace.Dependencies[name])
					if !ok || wd.Path == "" {
						continue
					}
					d, base = wd, wsDir
				}

				if d.Path == "" {
					continue
				}

				depDir := filepath.Clean(filepath.Join(base, d.Path))
				if seen[depDir] {
					continue
				}
				seen[depDir] = true

				if _, err := os.Stat(depDir); err != nil {
					continue
				}

				out = append(out, depDir)
				queue = append(queue, depDir)
			}
		}
	}

	return out, nil
}
