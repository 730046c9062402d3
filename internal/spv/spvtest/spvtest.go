// Package spvtest builds small but real SPIR-V modules for tests.
package spvtest

import (
	"github.com/gogpu/naga/spirv"
)

// Entry describes one entry point of a fixture module
type Entry struct {
	Name  string
	Model spirv.ExecutionModel

	// Workgroup size, only emitted for compute entries when non-zero
	LocalSize [3]uint32
}

// Fragment is shorthand for a fragment entry point
func Fragment(name string) Entry {
	return Entry{Name: name, Model: spirv.ExecutionModelFragment}
}

// Vertex is shorthand for a vertex entry point
func Vertex(name string) Entry {
	return Entry{Name: name, Model: spirv.ExecutionModelVertex}
}

// Compute is shorthand for a compute entry point with the given workgroup size
func Compute(name string, x, y, z uint32) Entry {
	return Entry{Name: name, Model: spirv.ExecutionModelGLCompute, LocalSize: [3]uint32{x, y, z}}
}

// Module returns a SPIR-V 1.3 module declaring one empty function per entry
func Module(entries ...Entry) []byte {
	return ModuleVersion(spirv.Version1_3, entries...)
}

// ModuleVersion is Module with an explicit SPIR-V version
func ModuleVersion(version spirv.Version, entries ...Entry) []byte {
	b := spirv.NewModuleBuilder(version)
	b.AddCapability(spirv.CapabilityShader)
	b.SetMemoryModel(spirv.AddressingModelLogical, spirv.MemoryModelGLSL450)

	voidType := b.AddTypeVoid()
	fnType := b.AddTypeFunction(voidType)

	for _, e := range entries {
		fn := b.AddFunction(fnType, voidType, spirv.FunctionControlNone)
		b.AddLabel()
		b.AddReturn()
		b.AddFunctionEnd()

		b.AddEntryPoint(e.Model, fn, e.Name, nil)
		b.AddName(fn, e.Name)

		switch {
		case e.Model == spirv.ExecutionModelFragment:
			b.AddExecutionMode(fn, spirv.ExecutionModeOriginUpperLeft)
		case e.Model == spirv.ExecutionModelGLCompute && e.LocalSize != [3]uint32{}:
			b.AddExecutionMode(fn, spirv.ExecutionModeLocalSize, e.LocalSize[0], e.LocalSize[1], e.LocalSize[2])
		}
	}

	return b.Build()
}
