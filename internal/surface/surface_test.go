package surface

import (
	"testing"
	"time"

	"github.com/schollz/duovox/internal/events"
	"github.com/schollz/duovox/internal/paramgraph"
	"github.com/schollz/duovox/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T) (*Bridge, *registry.Registry, *paramgraph.Model, *events.Router) {
	t.Helper()
	reg := registry.New()
	router := events.NewRouter()
	model := paramgraph.New(reg, router)
	b := New(reg, model, router)
	return b, reg, model, router
}

func TestSelectMultifnSwitchWithResetClearsOthers(t *testing.T) {
	b, _, _, _ := newTestBridge(t)
	b.SelectMultifnSwitch(0, false)
	b.SelectMultifnSwitch(1, false)
	assert.True(t, b.IsSelected(0))
	assert.True(t, b.IsSelected(1))

	b.SelectMultifnSwitch(2, true)
	assert.False(t, b.IsSelected(0))
	assert.False(t, b.IsSelected(1))
	assert.True(t, b.IsSelected(2))
}

func TestSetMultifnStateClearsSelection(t *testing.T) {
	b, _, _, _ := newTestBridge(t)
	b.SelectMultifnSwitch(3, false)
	b.SetMultifnState(MultifnSeqRec)

	assert.False(t, b.IsSelected(3))
	assert.Equal(t, MultifnSeqRec, b.MultifnStateValue())
}

func TestStoreAndRestoreControlValuePerUIState(t *testing.T) {
	b, reg, model, _ := newTestBridge(t)
	p, err := reg.Register(registry.ModuleDAW, 1, "daw/osc/pitch", registry.DataNumeric, registry.ScopeLayer)
	require.NoError(t, err)

	b.StoreControlValue(p, 0, 0.2)
	b.StoreControlValue(p, 1, 0.8)

	v, ok := b.RestoreControlValue(p, 1)
	require.True(t, ok)
	assert.InDelta(t, 0.8, v, 1e-9)
	assert.InDelta(t, 0.8, model.ReadNormalised(p, 0, 0), 1e-9)

	_, ok = b.RestoreControlValue(p, 2)
	assert.False(t, ok)
}

func TestHandleSetSwitchValueWritesParam(t *testing.T) {
	b, reg, model, router := newTestBridge(t)
	p, err := reg.Register(registry.ModuleDAW, 1, "daw/switch/1", registry.DataNumeric, registry.ScopeLayer)
	require.NoError(t, err)

	b.Start()
	defer b.Stop()

	router.Emit(events.Event{
		Type:     events.TypeSfcFunc,
		Producer: events.ModuleParamGraph,
		SfcFunc:  &events.SfcFunc{Type: events.SfcSetSwitchValue, Param: "daw/switch/1", SwitchValue: 1.0},
	})

	require.Eventually(t, func() bool {
		return model.ReadNormalised(p, 0, 0) == 1.0
	}, time.Second, time.Millisecond)
}
