package compiler

import (
	"fmt"
)

// Kind classifies a failed compile
type Kind int

const (
	// ToolchainMissing means cargo or the codegen backend could not be found or started
	ToolchainMissing Kind = iota

	// InvalidOptions means the options cannot be expressed as a backend invocation
	InvalidOptions

	// CompilationFailed means the backend ran and rejected the crate
	CompilationFailed

	// BackendCrashed means the backend died or produced a result that makes no sense
	BackendCrashed
)

func (k Kind) String() string {
	switch k {
	case ToolchainMissing:
		return "ToolchainMissing"
	case InvalidOptions:
		return "InvalidOptions"
	case CompilationFailed:
		return "CompilationFailed"
	case BackendCrashed:
		return "BackendCrashed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// CompileError is the only error type returned by Compile
type CompileError struct {
	Kind Kind

	// Backend stderr, verbatim. Empty when the backend never ran.
	Diagnostics string

	Err error
}

func (e *CompileError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}

	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

func newError(kind Kind, format string, args ...any) *CompileError {
	return &CompileError{Kind: kind, Err: fmt.Errorf(format, args...)}
}
