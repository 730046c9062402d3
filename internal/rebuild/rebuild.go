// Package rebuild decides whether the current inputs need a new build.
package rebuild

import (
	"github.com/tombh/rust-gpu-cli/internal/fingerprint"
)

// Decision is the outcome of Decide
type Decision int

const (
	Skip Decision = iota
	Rebuild
)

func (d Decision) String() string {
	if d == Rebuild {
		return "rebuild"
	}

	return "skip"
}

// Input is the current state compared against the last successful build.
// LastOptions and LastSource are nil until a build has succeeded.
type Input struct {
	CurrentOptions fingerprint.Digest
	CurrentSource  fingerprint.Digest
	LastOptions    *fingerprint.Digest
	LastSource     *fingerprint.Digest
	FirstRun       bool
}

// Decide returns Rebuild unless both digests match the last successful
// build. The first run always rebuilds.
func Decide(in Input) (Decision, string) {
	switch {
	case in.FirstRun:
		return Rebuild, "first run"
	case in.LastOptions == nil || in.LastSource == nil:
		return Rebuild, "no successful build yet"
	case *in.LastOptions != in.CurrentOptions && *in.LastSource != in.CurrentSource:
		return Rebuild, "options and sources changed"
	case *in.LastOptions != in.CurrentOptions:
		return Rebuild, "options changed"
	case *in.LastSource != in.CurrentSource:
		return Rebuild, "sources changed"
	default:
		return Skip, "up to date"
	}
}
