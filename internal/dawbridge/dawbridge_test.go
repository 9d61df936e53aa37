package dawbridge

import (
	"testing"

	"github.com/schollz/duovox/internal/events"
	"github.com/schollz/duovox/internal/paramgraph"
	"github.com/schollz/duovox/internal/registry"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T) (*Bridge, *registry.Registry, *paramgraph.Model) {
	t.Helper()
	reg := registry.New()
	router := events.NewRouter()
	model := paramgraph.New(reg, router)
	b := New("127.0.0.1", 9129, model)
	return b, reg, model
}

func TestSetParamSendsWithoutError(t *testing.T) {
	b, reg, model := newTestBridge(t)
	p, err := reg.Register(registry.ModuleDAW, 1, "daw/vcf/cutoff", registry.DataNumeric, registry.ScopeLayer)
	require.NoError(t, err)
	model.WriteNormalised(p, 0, 0, 0.5, events.ModuleDAW)

	require.NoError(t, b.SetParam(p))
}

func TestSetGlobalParamsBatchesMultipleParams(t *testing.T) {
	b, reg, _ := newTestBridge(t)
	p1, _ := reg.Register(registry.ModuleSystem, 1, "system/a", registry.DataNumeric, registry.ScopeGlobal)
	p2, _ := reg.Register(registry.ModuleSystem, 2, "system/b", registry.DataNumeric, registry.ScopeGlobal)

	require.NoError(t, b.SetGlobalParams([]*registry.Param{p1, p2}))
}

func TestSetLayerPatchStateParamsSendsAfterSettleDelay(t *testing.T) {
	b, reg, _ := newTestBridge(t)
	p, _ := reg.Register(registry.ModuleDAW, 1, "daw/vco/pitch", registry.DataNumeric, registry.ScopePatchState)

	require.NoError(t, b.SetLayerPatchStateParams(0, 1, []*registry.Param{p}))
}
