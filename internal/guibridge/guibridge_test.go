package guibridge

import (
	"testing"
	"time"

	"github.com/schollz/duovox/internal/events"
	"github.com/schollz/duovox/internal/paramgraph"
	"github.com/schollz/duovox/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T, capacity int) (*Bridge, *registry.Registry, *paramgraph.Model, *events.Router) {
	t.Helper()
	reg := registry.New()
	router := events.NewRouter()
	model := paramgraph.New(reg, router)
	b := New(reg, model, router, capacity)
	return b, reg, model, router
}

func TestPublishDropsOnOverrun(t *testing.T) {
	b, _, _, _ := newTestBridge(t, 2)
	assert.True(t, b.Publish(Message{Kind: MsgHomeRefresh}))
	assert.True(t, b.Publish(Message{Kind: MsgHomeRefresh}))
	assert.False(t, b.Publish(Message{Kind: MsgHomeRefresh}))
}

func TestShowParamSuppressesOtherParamWithinWindow(t *testing.T) {
	e := &EditState{}
	e.ShowParam("daw/vcf/cutoff", 0)

	assert.True(t, e.ShouldSuppressChange("daw/vco/pitch", time.Now()))
	assert.False(t, e.ShouldSuppressChange("daw/vcf/cutoff", time.Now()))
}

func TestShowParamStopsSuppressingAfterWindow(t *testing.T) {
	e := &EditState{}
	e.ShowParam("daw/vcf/cutoff", 0)

	future := time.Now().Add(100 * time.Millisecond)
	assert.False(t, e.ShouldSuppressChange("daw/vco/pitch", future))
}

func TestNewListFlagIsConsumedOnce(t *testing.T) {
	e := &EditState{}
	e.SetNewList(true)
	assert.True(t, e.ConsumeNewList())
	assert.False(t, e.ConsumeNewList())
}

func TestHandleParamChangeQueuesEnumUpdateForPositionalParam(t *testing.T) {
	b, reg, model, router := newTestBridge(t, 8)
	p, err := reg.Register(registry.ModuleSystem, 1, "system/seq_mode", registry.DataNumeric, registry.ScopePresetCommon)
	require.NoError(t, err)
	p.Display.NumPositions = 2
	model.WritePosition(p, 1, events.ModuleSystem)

	b.Start()
	defer b.Stop()

	router.Emit(events.Event{
		Type:     events.TypeParamChange,
		Producer: events.ModuleParamGraph,
		ParamChange: &events.ParamChange{ParamRef: "system/seq_mode", DisplayFlag: true},
	})

	select {
	case msg := <-b.Messages():
		assert.Equal(t, MsgEnumParamUpdate, msg.Kind)
		assert.Equal(t, "system/seq_mode", msg.ParamRef)
	case <-time.After(time.Second):
		t.Fatal("expected a queued enum param update")
	}
}

func TestReloadPresetsSetsNewListAndQueuesListUpdate(t *testing.T) {
	b, _, _, router := newTestBridge(t, 8)
	b.Start()
	defer b.Stop()

	router.Emit(events.Event{
		Type:          events.TypeReloadPresets,
		Producer:      events.ModulePreset,
		ReloadPresets: &events.ReloadPresets{},
	})

	select {
	case msg := <-b.Messages():
		assert.Equal(t, MsgListUpdate, msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a queued list update")
	}
	assert.True(t, b.Edit.ConsumeNewList())
}
