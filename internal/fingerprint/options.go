package fingerprint

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/tombh/rust-gpu-cli/internal/options"
)

// Bumped whenever optionsRecord changes shape, so old digests never match new ones
const optionsRecordVersion = 1

var encMode cbor.EncMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("fingerprint: CBOR encoder initialization failed: " + err.Error())
	}
}

// Output describes where and how a build is written. A change here forces a
// rebuild just like an option change does.
type Output struct {
	// Combined artifact path, or the per-entry path pattern in multimodule mode
	Path string

	// Index file path, multimodule mode only
	Index string

	// Packaging mode name
	Packaging string
}

type optionsRecord struct {
	Version                     int      `cbor:"1,keyasint"`
	Target                      string   `cbor:"2,keyasint"`
	DenyWarnings                bool     `cbor:"3,keyasint"`
	Debug                       bool     `cbor:"4,keyasint"`
	Multimodule                 bool     `cbor:"5,keyasint"`
	SpirvMetadata               int      `cbor:"6,keyasint"`
	RelaxStructStore            bool     `cbor:"7,keyasint"`
	RelaxLogicalPointer         bool     `cbor:"8,keyasint"`
	RelaxBlockLayout            bool     `cbor:"9,keyasint"`
	UniformBufferStandardLayout bool     `cbor:"10,keyasint"`
	ScalarBlockLayout           bool     `cbor:"11,keyasint"`
	SkipBlockLayout             bool     `cbor:"12,keyasint"`
	PreserveBindings            bool     `cbor:"13,keyasint"`
	Capabilities                []string `cbor:"14,keyasint"`
	Extensions                  []string `cbor:"15,keyasint"`
	OutputPath                  string   `cbor:"16,keyasint"`
	OutputIndex                 string   `cbor:"17,keyasint"`
	Packaging                   string   `cbor:"18,keyasint"`
}

// Options computes the option fingerprint. Options are normalized first, so
// capability and extension order never changes the digest.
func Options(opts options.CompileOptions, out Output) (Digest, error) {
	n := opts.Normalize()

	record := optionsRecord{
		Version:                     optionsRecordVersion,
		Target:                      n.Target,
		DenyWarnings:                n.DenyWarnings,
		Debug:                       n.Debug,
		Multimodule:                 n.Multimodule,
		SpirvMetadata:               int(n.SpirvMetadata),
		RelaxStructStore:            n.RelaxStructStore,
		RelaxLogicalPointer:         n.RelaxLogicalPointer,
		RelaxBlockLayout:            n.RelaxBlockLayout,
		UniformBufferStandardLayout: n.UniformBufferStandardLayout,
		ScalarBlockLayout:           n.ScalarBlockLayout,
		SkipBlockLayout:             n.SkipBlockLayout,
		PreserveBindings:            n.PreserveBindings,
		Capabilities:                n.Capabilities,
		Extensions:                  n.Extensions,
		OutputPath:                  out.Path,
		OutputIndex:                 out.Index,
		Packaging:                   out.Packaging,
	}

	data, err := encMode.Marshal(record)
	if err != nil {
		return Digest{}, fmt.Errorf("encoding options: %w", err)
	}

	return Digest(blake3.Sum256(data)), nil
}
