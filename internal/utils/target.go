package utils

import (
	"fmt"
	"strings"

	"github.com/gogpu/naga/spirv"
)

const targetPrefix = "spirv-unknown-"

// Target is a parsed rust-gpu target triple
type Target struct {
	// Full triple, e.g. spirv-unknown-vulkan1.1
	Triple string

	// Environment part of the triple, e.g. vulkan1.1
	Env string

	// Highest SPIR-V version a module built for this target may declare
	SpirvVersion spirv.Version
}

// Environments accepted by the rust-gpu backend, mapped to the SPIR-V version they imply
var targetEnvs = map[string]spirv.Version{
	"spv1.0":          spirv.Version1_0,
	"spv1.1":          spirv.Version1_1,
	"spv1.2":          spirv.Version1_2,
	"spv1.3":          spirv.Version1_3,
	"spv1.4":          spirv.Version1_4,
	"spv1.5":          spirv.Version1_5,
	"spv1.6":          spirv.Version1_6,
	"vulkan1.0":       spirv.Version1_0,
	"vulkan1.1":       spirv.Version1_3,
	"vulkan1.1spv1.4": spirv.Version1_4,
	"vulkan1.2":       spirv.Version1_5,
	"vulkan1.3":       spirv.Version1_6,
	"opengl4.0":       spirv.Version1_0,
	"opengl4.1":       spirv.Version1_0,
	"opengl4.2":       spirv.Version1_0,
	"opengl4.3":       spirv.Version1_0,
	"opengl4.5":       spirv.Version1_0,
	"webgpu0":         spirv.Version1_0,
}

// ParseTarget parses a rust-gpu target triple
func ParseTarget(t string) (Target, error) {
	t = strings.TrimSpace(t)
	if t == "" {
		return Target{}, fmt.Errorf("target not specified")
	}

	env, ok := strings.CutPrefix(t, targetPrefix)
	if !ok {
		return Target{}, fmt.Errorf("invalid target %q: must start with %q", t, targetPrefix)
	}

	version, ok := targetEnvs[env]
	if !ok {
		return Target{}, fmt.Errorf("invalid target %q: unknown environment %q", t, env)
	}

	return Target{
		Triple:       t,
		Env:          env,
		SpirvVersion: version,
	}, nil
}

// FormatVersion renders a SPIR-V version as major.minor
func FormatVersion(v spirv.Version) string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
