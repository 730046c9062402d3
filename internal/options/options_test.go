package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileOptions_Equal_CapabilityOrder(t *testing.T) {
	a := CompileOptions{Target: DefaultTarget, Capabilities: []string{"Int8", "Int64"}}
	b := CompileOptions{Target: DefaultTarget, Capabilities: []string{"Int64", "Int8", "Int8"}}

	assert.True(t, a.Equal(b), "capability order and duplicates should not matter")
}

func TestCompileOptions_Equal_DetectsEveryField(t *testing.T) {
	base := CompileOptions{Target: DefaultTarget}

	tests := []struct {
		name   string
		mutate func(*CompileOptions)
	}{
		{"target", func(o *CompileOptions) { o.Target = "spirv-unknown-vulkan1.1" }},
		{"deny warnings", func(o *CompileOptions) { o.DenyWarnings = true }},
		{"debug", func(o *CompileOptions) { o.Debug = true }},
		{"multimodule", func(o *CompileOptions) { o.Multimodule = true }},
		{"metadata", func(o *CompileOptions) { o.SpirvMetadata = MetadataFull }},
		{"relax struct store", func(o *CompileOptions) { o.RelaxStructStore = true }},
		{"relax logical pointer", func(o *CompileOptions) { o.RelaxLogicalPointer = true }},
		{"relax block layout", func(o *CompileOptions) { o.RelaxBlockLayout = true }},
		{"uniform buffer standard layout", func(o *CompileOptions) { o.UniformBufferStandardLayout = true }},
		{"scalar block layout", func(o *CompileOptions) { o.ScalarBlockLayout = true }},
		{"skip block layout", func(o *CompileOptions) { o.SkipBlockLayout = true }},
		{"preserve bindings", func(o *CompileOptions) { o.PreserveBindings = true }},
		{"capabilities", func(o *CompileOptions) { o.Capabilities = []string{"Int8"} }},
		{"extensions", func(o *CompileOptions) { o.Extensions = []string{"SPV_KHR_shader_clock"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := base
			tt.mutate(&changed)
			assert.False(t, base.Equal(changed))
		})
	}
}

func TestCompileOptions_Normalize_DoesNotMutate(t *testing.T) {
	caps := []string{"Int64", " Int8 ", ""}
	o := CompileOptions{Capabilities: caps}

	n := o.Normalize()

	assert.Equal(t, []string{"Int64", "Int8"}, n.Capabilities)
	assert.Equal(t, []string{"Int64", " Int8 ", ""}, o.Capabilities)
}

func TestParseMetadataLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    MetadataLevel
		wantErr bool
	}{
		{"none", MetadataNone, false},
		{"name-variables", MetadataNameVariables, false},
		{"FULL", MetadataFull, false},
		{"verbose", MetadataNone, true},
		{"", MetadataNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMetadataLevel(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func TestMetadataLevel_Valid(t *testing.T) {
	assert.True(t, MetadataFull.Valid())
	assert.False(t, MetadataLevel(42).Valid())
	assert.Equal(t, "MetadataLevel(42)", MetadataLevel(42).String())
}

func mustParse(t *testing.T, s string) MetadataLevel {
	t.Helper()

	level, err := ParseMetadataLevel(s)
	require.NoError(t, err)
	return level
}
