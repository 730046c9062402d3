package compiler

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/tombh/rust-gpu-cli/internal/spv"
	"github.com/tombh/rust-gpu-cli/internal/utils"
)

// Reflection is the metadata stored with every entry point. It is read from
// the compiled binary and encoded as deterministic CBOR.
type Reflection struct {
	Name           string   `cbor:"1,keyasint"`
	Stage          string   `cbor:"2,keyasint"`
	ExecutionModel uint32   `cbor:"3,keyasint"`
	FunctionID     uint32   `cbor:"4,keyasint"`
	Interface      []uint32 `cbor:"5,keyasint,omitempty"`
	LocalSize      []uint32 `cbor:"6,keyasint,omitempty"`
	Capabilities   []string `cbor:"7,keyasint,omitempty"`
	Extensions     []string `cbor:"8,keyasint,omitempty"`
	SpirvVersion   string   `cbor:"9,keyasint"`
}

var metadataEncMode cbor.EncMode

func init() {
	var err error

	metadataEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("compiler: CBOR encoder initialization failed: " + err.Error())
	}
}

// NewReflection describes one entry point of a parsed module
func NewReflection(info *spv.Info, ep spv.EntryPoint) Reflection {
	r := Reflection{
		Name:           ep.Name,
		Stage:          spv.StageName(ep.Model),
		ExecutionModel: uint32(ep.Model),
		FunctionID:     ep.FunctionID,
		Interface:      ep.Interface,
		Extensions:     info.Extensions,
		SpirvVersion:   utils.FormatVersion(info.Version),
	}

	if ep.LocalSize != nil {
		r.LocalSize = ep.LocalSize[:]
	}

	for _, c := range info.Capabilities {
		r.Capabilities = append(r.Capabilities, spv.CapabilityName(c))
	}

	return r
}

// EncodeMetadata returns the metadata blob for an entry point
func EncodeMetadata(info *spv.Info, ep spv.EntryPoint) ([]byte, error) {
	data, err := metadataEncMode.Marshal(NewReflection(info, ep))
	if err != nil {
		return nil, fmt.Errorf("encoding metadata for %s: %w", ep.Name, err)
	}

	return data, nil
}

// DecodeMetadata reads a blob written by EncodeMetadata
func DecodeMetadata(data []byte) (*Reflection, error) {
	var r Reflection
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}

	return &r, nil
}
