package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookupByPath(t *testing.T) {
	r := New()
	p, err := r.Register(ModuleDAW, 1, "daw/vcf/cutoff", DataNumeric, ScopeLayer)
	require.NoError(t, err)
	require.NotNil(t, p)

	got, ok := r.LookupByPath("daw/vcf/cutoff")
	require.True(t, ok)
	assert.Equal(t, p.Handle, got.Handle)
}

func TestRegisterPathCollisionIsError(t *testing.T) {
	r := New()
	_, err := r.Register(ModuleDAW, 1, "daw/vcf/cutoff", DataNumeric, ScopeLayer)
	require.NoError(t, err)
	_, err = r.Register(ModuleDAW, 2, "daw/vcf/cutoff", DataNumeric, ScopeLayer)
	assert.Error(t, err)
}

func TestBlacklistedPathIsSilentlyDropped(t *testing.T) {
	r := New()
	r.Blacklist("daw/forbidden")
	p, err := r.Register(ModuleDAW, 1, "daw/forbidden", DataNumeric, ScopeLayer)
	require.NoError(t, err)
	assert.Nil(t, p)
	_, ok := r.LookupByPath("daw/forbidden")
	assert.False(t, ok)
}

func TestLookupByModuleID(t *testing.T) {
	r := New()
	p, err := r.Register(ModuleSeq, 5, "seq/num_steps", DataNumeric, ScopePatchCommon)
	require.NoError(t, err)

	got, ok := r.LookupByModuleID(ModuleSeq, 5)
	require.True(t, ok)
	assert.Equal(t, p.Handle, got.Handle)

	_, ok = r.LookupByModuleID(ModuleSeq, 999)
	assert.False(t, ok)
}

func TestLookupByRefTag(t *testing.T) {
	r := New()
	p, err := r.Register(ModuleDAW, 1, "daw/vco/pitch", DataNumeric, ScopeLayer)
	require.NoError(t, err)
	r.SetRefTag(p, "vco_pitch")

	got, ok := r.LookupByRef("vco_pitch")
	require.True(t, ok)
	assert.Equal(t, p.Handle, got.Handle)
}

func TestValueClampsToUnitRange(t *testing.T) {
	r := New()
	p, err := r.Register(ModuleDAW, 1, "daw/vcf/cutoff", DataNumeric, ScopeLayer)
	require.NoError(t, err)

	assert.Equal(t, 1.0, p.SetValue(0, 0, 5.0))
	assert.Equal(t, 0.0, p.SetValue(0, 0, -5.0))
	assert.Equal(t, 0.5, p.SetValue(0, 0, 0.5))
	assert.Equal(t, 0.5, p.Value(0, 0))
}

func TestStateAOnlyCollapsesStateIndex(t *testing.T) {
	r := New()
	p, err := r.Register(ModuleDAW, 1, "daw/vcf/cutoff", DataNumeric, ScopeLayer)
	require.NoError(t, err)
	p.StateAOnly = true

	p.SetValue(0, 0, 0.25)
	assert.Equal(t, 0.25, p.Value(0, 1), "state B should alias state A when StateAOnly is set")
}

func TestAddMappingIsSymmetric(t *testing.T) {
	r := New()
	a, err := r.Register(ModuleDAW, 1, "daw/a", DataNumeric, ScopeLayer)
	require.NoError(t, err)
	b, err := r.Register(ModuleDAW, 2, "daw/b", DataNumeric, ScopeLayer)
	require.NoError(t, err)

	r.AddMapping(a.Handle, b.Handle)
	assert.True(t, a.HasMapping(b.Handle))
	assert.True(t, b.HasMapping(a.Handle))
}

func TestPresetParamsOrderedByPath(t *testing.T) {
	r := New()
	pb, _ := r.Register(ModuleDAW, 2, "daw/b", DataNumeric, ScopeLayer)
	pa, _ := r.Register(ModuleDAW, 1, "daw/a", DataNumeric, ScopeLayer)
	pb.Flags.Preset = true
	pa.Flags.Preset = true

	out := r.PresetParams()
	require.Len(t, out, 2)
	assert.Equal(t, "daw/a", out[0].Path)
	assert.Equal(t, "daw/b", out[1].Path)
}

func TestModMatrixParamsFiltersByFlag(t *testing.T) {
	r := New()
	p1, _ := r.Register(ModuleDAW, 1, "daw/mod1", DataNumeric, ScopeLayer)
	p1.Flags.ModMatrix = true
	_, _ = r.Register(ModuleDAW, 2, "daw/plain", DataNumeric, ScopeLayer)

	out := r.ModMatrixParams()
	require.Len(t, out, 1)
	assert.Equal(t, "daw/mod1", out[0].Path)
}
