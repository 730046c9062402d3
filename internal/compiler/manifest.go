package compiler

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tombh/rust-gpu-cli/internal/artifact"
	"github.com/tombh/rust-gpu-cli/internal/spv"
)

const manifestSuffix = ".spv.json"

// cargoMessage is the subset of cargo's --message-format=json output we read
type cargoMessage struct {
	Reason    string   `json:"reason"`
	Filenames []string `json:"filenames"`
}

// Manifest is the result file the codegen backend writes next to its modules
type Manifest struct {
	EntryPoints []string `json:"entry_points"`
	Module      struct {
		SingleModule string            `json:"SingleModule,omitempty"`
		MultiModule  map[string]string `json:"MultiModule,omitempty"`
	} `json:"module"`
}

// findManifest returns the last backend manifest reported by cargo
func findManifest(stdout []byte) (string, error) {
	var found string

	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}

		var msg cargoMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}

		if msg.Reason != "compiler-artifact" {
			continue
		}

		for _, f := range msg.Filenames {
			if strings.HasSuffix(f, manifestSuffix) {
				found = f
			}
		}
	}

	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("reading cargo output: %w", err)
	}

	if found == "" {
		return "", fmt.Errorf("cargo reported no %s result", manifestSuffix)
	}

	return found, nil
}

// ReadManifest loads a backend result manifest
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if m.Module.SingleModule == "" && len(m.Module.MultiModule) == 0 {
		return nil, fmt.Errorf("%s names no module", path)
	}

	return &m, nil
}

// modulePaths returns (binary path, entry names) pairs in manifest order
func (m *Manifest) modulePaths(dir string) []moduleRef {
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	if m.Module.SingleModule != "" {
		return []moduleRef{{Path: resolve(m.Module.SingleModule), EntryPoints: m.EntryPoints}}
	}

	order := slices.Clone(m.EntryPoints)
	var extra []string
	for name := range m.Module.MultiModule {
		if !slices.Contains(order, name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	order = append(order, extra...)

	refs := make([]moduleRef, 0, len(order))
	for _, name := range order {
		path, ok := m.Module.MultiModule[name]
		if !ok {
			// Listed but never emitted; caught when resolving entry points
			refs = append(refs, moduleRef{EntryPoints: []string{name}})
			continue
		}
		refs = append(refs, moduleRef{Path: resolve(path), EntryPoints: []string{name}})
	}

	return refs
}

type moduleRef struct {
	Path        string
	EntryPoints []string
}

// loadModules reads every module named by the manifest and checks that each
// listed entry point is declared in its binary
func loadModules(manifestPath string, m *Manifest) ([]artifact.Module, error) {
	var modules []artifact.Module

	for _, ref := range m.modulePaths(filepath.Dir(manifestPath)) {
		if ref.Path == "" {
			return nil, fmt.Errorf("entry point %q has no module", ref.EntryPoints[0])
		}

		binary, err := os.ReadFile(ref.Path)
		if err != nil {
			return nil, fmt.Errorf("reading module: %w", err)
		}

		info, err := spv.Parse(binary)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", ref.Path, err)
		}

		mod := artifact.Module{Binary: binary}
		for _, name := range ref.EntryPoints {
			ep, ok := info.EntryPoint(name)
			if !ok {
				return nil, fmt.Errorf("entry point %q is not declared in %s, which declares [%s]",
					name, filepath.Base(ref.Path), strings.Join(info.EntryPointNames(), ", "))
			}

			metadata, err := EncodeMetadata(info, ep)
			if err != nil {
				return nil, err
			}

			mod.EntryPoints = append(mod.EntryPoints, artifact.EntryPoint{
				Name:     name,
				Stage:    spv.StageName(ep.Model),
				Metadata: metadata,
			})
		}

		modules = append(modules, mod)
	}

	return modules, nil
}

