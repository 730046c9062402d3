package artifact

import (
	"fmt"
)

// WarningNoEntryPoints is attached to the output of a build that declared nothing
const WarningNoEntryPoints = "no entry points"

// Entry is an entry point together with the binary that declares it
type Entry struct {
	EntryPoint
	Blob []byte
}

// DuplicateEntryPointError is returned when two modules declare the same
// entry point name in Combined mode
type DuplicateEntryPointError struct {
	Name string

	// Indexes of the modules that both declare Name
	First, Second int
}

func (e *DuplicateEntryPointError) Error() string {
	return fmt.Sprintf("entry point %q is declared by module %d and module %d; combined output needs unique names",
		e.Name, e.First, e.Second)
}

// Kind returns the error kind name
func (e *DuplicateEntryPointError) Kind() string {
	return "DuplicateEntryPoint"
}

// Output is a packaged build, ready to be written
type Output struct {
	Mode Mode

	// Set in Combined mode
	Combined *Container

	// Set in Multimodule mode, one per entry point in order
	Files []Entry

	Warnings []string
}

// Entries returns the packaged entries regardless of mode
func (o *Output) Entries() []Entry {
	if o.Mode == Combined && o.Combined != nil {
		return o.Combined.Entries
	}

	return o.Files
}

// Summaries describes every packaged entry point
func (o *Output) Summaries() []Summary {
	entries := o.Entries()

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, Summary{Name: e.Name, Stage: e.Stage, Size: len(e.Blob)})
	}

	return out
}

// Package arranges a build result for writing. In Combined mode entry point
// names must be unique across modules. In Multimodule mode every entry point
// becomes its own file and repeated names are allowed.
func Package(result *BuildResult, mode Mode) (*Output, error) {
	out := &Output{Mode: mode}

	switch mode {
	case Combined:
		container := &Container{}
		owner := make(map[string]int)

		for i, m := range result.Modules {
			for _, ep := range m.EntryPoints {
				if first, ok := owner[ep.Name]; ok {
					return nil, &DuplicateEntryPointError{Name: ep.Name, First: first, Second: i}
				}
				owner[ep.Name] = i

				container.Entries = append(container.Entries, Entry{EntryPoint: ep, Blob: m.Binary})
			}
		}

		out.Combined = container

	case Multimodule:
		for _, m := range result.Modules {
			for _, ep := range m.EntryPoints {
				out.Files = append(out.Files, Entry{EntryPoint: ep, Blob: m.Binary})
			}
		}

	default:
		return nil, fmt.Errorf("unknown packaging mode %v", mode)
	}

	if result.EntryPointCount() == 0 {
		out.Warnings = append(out.Warnings, WarningNoEntryPoints)
	}

	return out, nil
}
