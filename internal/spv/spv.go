// Package spv reads the parts of a SPIR-V binary the build pipeline cares
// about: the header, declared capabilities and extensions, and entry points
// with their execution models and workgroup sizes.
//
// It is not a validator of SPIR-V semantics. Validate only checks that the
// word stream is well formed and consistent with the build target.
package spv

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/naga/spirv"
)

const headerWords = 5

var (
	// ErrTooShort is returned for binaries smaller than a SPIR-V header
	ErrTooShort = errors.New("spirv: binary shorter than header")

	// ErrMisaligned is returned when the binary is not a whole number of words
	ErrMisaligned = errors.New("spirv: binary length is not a multiple of 4")

	// ErrBadMagic is returned when the first word is not the SPIR-V magic number
	ErrBadMagic = errors.New("spirv: bad magic number")
)

// EntryPoint is a single OpEntryPoint declaration
type EntryPoint struct {
	Name       string
	Model      spirv.ExecutionModel
	FunctionID uint32
	Interface  []uint32

	// Workgroup size from OpExecutionMode LocalSize, nil when not declared
	LocalSize *[3]uint32
}

// Info is the summary of a SPIR-V module
type Info struct {
	Version      spirv.Version
	Generator    uint32
	Bound        uint32
	Capabilities []spirv.Capability
	Extensions   []string
	EntryPoints  []EntryPoint

	memoryModels int
}

// EntryPointNames returns the declared entry point names in declaration order
func (i *Info) EntryPointNames() []string {
	names := make([]string, 0, len(i.EntryPoints))
	for _, ep := range i.EntryPoints {
		names = append(names, ep.Name)
	}

	return names
}

// EntryPoint returns the first declared entry point with the given name
func (i *Info) EntryPoint(name string) (EntryPoint, bool) {
	for _, ep := range i.EntryPoints {
		if ep.Name == name {
			return ep, true
		}
	}

	return EntryPoint{}, false
}

// Parse decodes the header and walks the instruction stream of a SPIR-V binary.
// Both byte orders are accepted.
func Parse(data []byte) (*Info, error) {
	if len(data)%4 != 0 {
		return nil, ErrMisaligned
	}

	if len(data) < headerWords*4 {
		return nil, ErrTooShort
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(data) == spirv.MagicNumber:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(data) == spirv.MagicNumber:
		order = binary.BigEndian
	default:
		return nil, ErrBadMagic
	}

	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = order.Uint32(data[i*4:])
	}

	info := &Info{
		Version:   spirv.Version{Major: uint8(words[1] >> 16), Minor: uint8(words[1] >> 8)},
		Generator: words[2],
		Bound:     words[3],
	}

	localSizes := make(map[uint32][3]uint32)

	for i := headerWords; i < len(words); {
		wordCount := int(words[i] >> 16)
		opcode := spirv.OpCode(words[i] & 0xffff)

		if wordCount == 0 || i+wordCount > len(words) {
			return nil, fmt.Errorf("spirv: instruction at word %d (opcode %d) has word count %d, module has %d words", i, opcode, wordCount, len(words))
		}

		operands := words[i+1 : i+wordCount]

		switch opcode {
		case spirv.OpCapability:
			if len(operands) < 1 {
				return nil, fmt.Errorf("spirv: OpCapability at word %d has no operand", i)
			}

			info.Capabilities = append(info.Capabilities, spirv.Capability(operands[0]))

		case spirv.OpExtension:
			name, _, err := decodeString(operands)
			if err != nil {
				return nil, fmt.Errorf("spirv: OpExtension at word %d: %w", i, err)
			}

			info.Extensions = append(info.Extensions, name)

		case spirv.OpMemoryModel:
			info.memoryModels++

		case spirv.OpEntryPoint:
			if len(operands) < 3 {
				return nil, fmt.Errorf("spirv: OpEntryPoint at word %d is truncated", i)
			}

			name, used, err := decodeString(operands[2:])
			if err != nil {
				return nil, fmt.Errorf("spirv: OpEntryPoint at word %d: %w", i, err)
			}

			info.EntryPoints = append(info.EntryPoints, EntryPoint{
				Name:       name,
				Model:      spirv.ExecutionModel(operands[0]),
				FunctionID: operands[1],
				Interface:  append([]uint32(nil), operands[2+used:]...),
			})

		case spirv.OpExecutionMode:
			if len(operands) >= 5 && spirv.ExecutionMode(operands[1]) == spirv.ExecutionModeLocalSize {
				localSizes[operands[0]] = [3]uint32{operands[2], operands[3], operands[4]}
			}
		}

		i += wordCount
	}

	for idx := range info.EntryPoints {
		if size, ok := localSizes[info.EntryPoints[idx].FunctionID]; ok {
			info.EntryPoints[idx].LocalSize = &size
		}
	}

	return info, nil
}

// decodeString reads a nul-terminated literal string packed into words.
// Returns the string and the number of words it occupied.
func decodeString(words []uint32) (string, int, error) {
	buf := make([]byte, 0, len(words)*4)

	for i, w := range words {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return string(buf), i + 1, nil
			}

			buf = append(buf, c)
		}
	}

	return "", 0, errors.New("unterminated literal string")
}

// Validate checks that a binary is a well formed SPIR-V module whose version
// does not exceed max. All problems found are returned together.
func Validate(data []byte, max spirv.Version) error {
	info, err := Parse(data)
	if err != nil {
		return err
	}

	var errs []error

	if compareVersion(info.Version, max) > 0 {
		errs = append(errs, fmt.Errorf("spirv: module version %d.%d exceeds target version %d.%d",
			info.Version.Major, info.Version.Minor, max.Major, max.Minor))
	}

	if info.Bound == 0 {
		errs = append(errs, errors.New("spirv: id bound is zero"))
	}

	if info.memoryModels != 1 {
		errs = append(errs, fmt.Errorf("spirv: expected exactly one OpMemoryModel, found %d", info.memoryModels))
	}

	seen := make(map[string]bool)
	for _, ep := range info.EntryPoints {
		if ep.FunctionID == 0 || ep.FunctionID >= info.Bound {
			errs = append(errs, fmt.Errorf("spirv: entry point %q references id %d outside bound %d", ep.Name, ep.FunctionID, info.Bound))
		}

		key := fmt.Sprintf("%d/%s", ep.Model, ep.Name)
		if seen[key] {
			errs = append(errs, fmt.Errorf("spirv: entry point %q declared twice for %s", ep.Name, StageName(ep.Model)))
		}

		seen[key] = true
	}

	return errors.Join(errs...)
}

func compareVersion(a, b spirv.Version) int {
	if a.Major != b.Major {
		return int(a.Major) - int(b.Major)
	}

	return int(a.Minor) - int(b.Minor)
}
