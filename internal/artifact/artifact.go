// Package artifact holds the records produced by a build and turns them into
// deployable output.
package artifact

import (
	"fmt"
	"strings"

	"github.com/tombh/rust-gpu-cli/internal/fingerprint"
)

// EntryPoint is a named shader entry point. Metadata is owned by the backend
// and passed through untouched.
type EntryPoint struct {
	Name     string
	Stage    string
	Metadata []byte
}

// Module is one SPIR-V binary and the entry points it declares
type Module struct {
	Binary      []byte
	EntryPoints []EntryPoint
}

// BuildResult is everything a successful compile produced, plus the digests
// of the inputs that produced it
type BuildResult struct {
	Modules            []Module
	OptionsFingerprint fingerprint.Digest
	SourceFingerprint  fingerprint.Digest
}

// EntryPointCount returns the number of entry points across all modules
func (r *BuildResult) EntryPointCount() int {
	n := 0
	for _, m := range r.Modules {
		n += len(m.EntryPoints)
	}

	return n
}

// Mode selects how a BuildResult is packaged
type Mode int

const (
	// Combined merges every module into one container file
	Combined Mode = iota

	// Multimodule emits one file per entry point plus an index
	Multimodule
)

func (m Mode) String() string {
	switch m {
	case Combined:
		return "combined"
	case Multimodule:
		return "multimodule"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses the config spelling of a packaging mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "combined":
		return Combined, nil
	case "multimodule", "multi":
		return Multimodule, nil
	default:
		return Combined, fmt.Errorf("invalid packaging mode %q (want combined or multimodule)", s)
	}
}

// Summary describes an emitted entry point for reporting
type Summary struct {
	Name  string
	Stage string
	Size  int
}
