package spv

import (
	"fmt"

	"github.com/gogpu/naga/spirv"
)

var stageNames = map[spirv.ExecutionModel]string{
	spirv.ExecutionModelVertex:                 "vertex",
	spirv.ExecutionModelTessellationControl:    "tessellation-control",
	spirv.ExecutionModelTessellationEvaluation: "tessellation-evaluation",
	spirv.ExecutionModelGeometry:               "geometry",
	spirv.ExecutionModelFragment:               "fragment",
	spirv.ExecutionModelGLCompute:              "compute",
	spirv.ExecutionModelKernel:                 "kernel",
}

// StageName returns the stage tag for an execution model
func StageName(model spirv.ExecutionModel) string {
	if name, ok := stageNames[model]; ok {
		return name
	}

	return fmt.Sprintf("model-%d", uint32(model))
}

// Capability names as spelled in rust-gpu's target features
var capabilities = map[string]spirv.Capability{
	"Matrix":                             spirv.CapabilityMatrix,
	"Shader":                             spirv.CapabilityShader,
	"Geometry":                           spirv.CapabilityGeometry,
	"Float16":                            spirv.CapabilityFloat16,
	"Float64":                            spirv.CapabilityFloat64,
	"Int64":                              spirv.CapabilityInt64,
	"Int64Atomics":                       spirv.CapabilityInt64Atomics,
	"Int16":                              spirv.CapabilityInt16,
	"Int8":                               spirv.CapabilityInt8,
	"Linkage":                            spirv.CapabilityLinkage,
	"ImageGatherExtended":                spirv.CapabilityImageGatherExtended,
	"ClipDistance":                       spirv.CapabilityClipDistance,
	"ImageCubeArray":                     spirv.CapabilityImageCubeArray,
	"SampleRateShading":                  spirv.CapabilitySampleRateShading,
	"Sampled1D":                          spirv.CapabilitySampled1D,
	"Image1D":                            spirv.CapabilityImage1D,
	"SampledCubeArray":                   spirv.CapabilitySampledCubeArray,
	"StorageImageExtendedFormats":        spirv.CapabilityStorageImageExtendedFormats,
	"ImageQuery":                         spirv.CapabilityImageQuery,
	"DerivativeControl":                  spirv.CapabilityDerivativeControl,
	"StorageBuffer16BitAccess":           spirv.CapabilityStorageBuffer16BitAccess,
	"UniformAndStorageBuffer16BitAccess": spirv.CapabilityUniformAndStorageBuffer16BitAccess,
	"StorageInputOutput16":               spirv.CapabilityStorageInputOutput16,
	"MultiView":                          spirv.CapabilityMultiView,
	"FragmentBarycentricKHR":             spirv.CapabilityFragmentBarycentricKHR,
	"ShaderNonUniform":                   spirv.CapabilityShaderNonUniform,
	"AtomicFloat32AddEXT":                spirv.CapabilityAtomicFloat32AddEXT,
	"DotProductInput4x8BitPacked":        spirv.CapabilityDotProductInput4x8BitPacked,
	"DotProduct":                         spirv.CapabilityDotProduct,
	"GroupNonUniform":                    spirv.CapabilityGroupNonUniform,
	"GroupNonUniformVote":                spirv.CapabilityGroupNonUniformVote,
	"GroupNonUniformArithmetic":          spirv.CapabilityGroupNonUniformArithmetic,
	"GroupNonUniformBallot":              spirv.CapabilityGroupNonUniformBallot,
	"GroupNonUniformShuffle":             spirv.CapabilityGroupNonUniformShuffle,
	"GroupNonUniformShuffleRelative":     spirv.CapabilityGroupNonUniformShuffleRel,
	"GroupNonUniformQuad":                spirv.CapabilityGroupNonUniformQuad,
	"SubgroupBallotKHR":                  spirv.CapabilitySubgroupBallotKHR,
	"Int64ImageEXT":                      spirv.CapabilityInt64ImageEXT,
}

// CapabilityByName resolves a capability name
func CapabilityByName(name string) (spirv.Capability, bool) {
	c, ok := capabilities[name]
	return c, ok
}

// CapabilityName returns the name of a capability, or its number when unnamed
func CapabilityName(c spirv.Capability) string {
	for name, value := range capabilities {
		if value == c {
			return name
		}
	}

	return fmt.Sprintf("Capability(%d)", uint32(c))
}
