package options

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultTarget is the rust-gpu target used when none is configured
const DefaultTarget = "spirv-unknown-spv1.3"

// MetadataLevel controls how much debug metadata the backend embeds in the module
type MetadataLevel int

const (
	MetadataNone MetadataLevel = iota
	MetadataNameVariables
	MetadataFull
)

var metadataNames = map[MetadataLevel]string{
	MetadataNone:          "none",
	MetadataNameVariables: "name-variables",
	MetadataFull:          "full",
}

func (m MetadataLevel) String() string {
	if name, ok := metadataNames[m]; ok {
		return name
	}

	return fmt.Sprintf("MetadataLevel(%d)", int(m))
}

// Valid reports whether m is one of the declared levels
func (m MetadataLevel) Valid() bool {
	_, ok := metadataNames[m]
	return ok
}

// ParseMetadataLevel parses the CLI/config spelling of a metadata level
func ParseMetadataLevel(s string) (MetadataLevel, error) {
	for level, name := range metadataNames {
		if strings.EqualFold(s, name) {
			return level, nil
		}
	}

	return MetadataNone, fmt.Errorf("invalid spirv metadata level %q (want none, name-variables or full)", s)
}

// CompileOptions is everything that influences what the backend produces.
// Capabilities and Extensions are sets: order and duplicates carry no meaning.
type CompileOptions struct {
	// rust-gpu target triple, e.g. spirv-unknown-vulkan1.1
	Target string

	DenyWarnings bool
	Debug        bool
	Multimodule  bool

	SpirvMetadata MetadataLevel

	RelaxStructStore            bool
	RelaxLogicalPointer         bool
	RelaxBlockLayout            bool
	UniformBufferStandardLayout bool
	ScalarBlockLayout           bool
	SkipBlockLayout             bool
	PreserveBindings            bool

	// SPIR-V capability names, e.g. Int8
	Capabilities []string

	// SPIR-V extension names, e.g. SPV_KHR_shader_clock
	Extensions []string
}

// Normalize returns a copy with the capability and extension sets sorted and
// de-duplicated. The receiver is not modified.
func (o CompileOptions) Normalize() CompileOptions {
	n := o
	n.Target = strings.TrimSpace(o.Target)
	n.Capabilities = normalizeSet(o.Capabilities)
	n.Extensions = normalizeSet(o.Extensions)

	return n
}

// Equal reports whether both option sets produce the same build
func (o CompileOptions) Equal(other CompileOptions) bool {
	a, b := o.Normalize(), other.Normalize()

	return a.Target == b.Target &&
		a.DenyWarnings == b.DenyWarnings &&
		a.Debug == b.Debug &&
		a.Multimodule == b.Multimodule &&
		a.SpirvMetadata == b.SpirvMetadata &&
		a.RelaxStructStore == b.RelaxStructStore &&
		a.RelaxLogicalPointer == b.RelaxLogicalPointer &&
		a.RelaxBlockLayout == b.RelaxBlockLayout &&
		a.UniformBufferStandardLayout == b.UniformBufferStandardLayout &&
		a.ScalarBlockLayout == b.ScalarBlockLayout &&
		a.SkipBlockLayout == b.SkipBlockLayout &&
		a.PreserveBindings == b.PreserveBindings &&
		slices.Equal(a.Capabilities, b.Capabilities) &&
		slices.Equal(a.Extensions, b.Extensions)
}

func normalizeSet(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}

	slices.Sort(out)
	return slices.Compact(out)
}
