package midi

import (
	"testing"
	"time"

	"github.com/schollz/duovox/internal/events"
	"github.com/schollz/duovox/internal/paramgraph"
	"github.com/schollz/duovox/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNoteRouter struct {
	calls []string
}

func (f *fakeNoteRouter) RouteNote(kind string, channel, note, velocity uint8) {
	f.calls = append(f.calls, kind)
}

func newTestManager(t *testing.T) (*Manager, *registry.Registry, *paramgraph.Model, *fakeNoteRouter) {
	t.Helper()
	reg := registry.New()
	router := events.NewRouter()
	model := paramgraph.New(reg, router)
	fr := &fakeNoteRouter{}
	m := New(reg, model, router, fr)
	return m, reg, model, fr
}

func TestCoalesceEventKeepsOnlyNewestPerKey(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	m.coalesceEvent(coalesceKey{"cc", 0, 7}, events.MidiEvent{Kind: "CC", CCValue: 10})
	m.coalesceEvent(coalesceKey{"cc", 0, 7}, events.MidiEvent{Kind: "CC", CCValue: 90})

	assert.Len(t, m.coalesce, 1)
	assert.EqualValues(t, 90, m.coalesce[coalesceKey{"cc", 0, 7}].CCValue)
}

func TestEchoFilterSuppressesMatchingInboundWithinWindow(t *testing.T) {
	reg := registry.New()
	router := events.NewRouter()
	model := paramgraph.New(reg, router)
	p, err := reg.Register(registry.ModuleSystem, 1, "system/midi_echo_filter", registry.DataNumeric, registry.ScopeGlobal)
	require.NoError(t, err)
	reg.SetRefTag(p, "midi_echo_filter")
	p.Display.NumPositions = 3
	model.WritePosition(p, int(EchoFilterEcho), events.ModuleSystem)

	m := New(reg, model, router, &fakeNoteRouter{})
	m.logOutboundCC(0, 74)

	assert.True(t, m.ccIsEchoSuppressed(0, 74))
	assert.False(t, m.ccIsEchoSuppressed(0, 75))
}

func TestEchoFilterModeAllSuppressesEverything(t *testing.T) {
	reg := registry.New()
	router := events.NewRouter()
	model := paramgraph.New(reg, router)
	p, _ := reg.Register(registry.ModuleSystem, 1, "system/midi_echo_filter", registry.DataNumeric, registry.ScopeGlobal)
	reg.SetRefTag(p, "midi_echo_filter")
	p.Display.NumPositions = 3
	model.WritePosition(p, int(EchoFilterAll), events.ModuleSystem)

	m := New(reg, model, router, &fakeNoteRouter{})
	assert.True(t, m.ccIsEchoSuppressed(3, 99))
}

func TestEchoLogEntriesExpireAfterWindow(t *testing.T) {
	reg := registry.New()
	router := events.NewRouter()
	model := paramgraph.New(reg, router)
	p, _ := reg.Register(registry.ModuleSystem, 1, "system/midi_echo_filter", registry.DataNumeric, registry.ScopeGlobal)
	reg.SetRefTag(p, "midi_echo_filter")
	p.Display.NumPositions = 3
	model.WritePosition(p, int(EchoFilterEcho), events.ModuleSystem)

	m := New(reg, model, router, &fakeNoteRouter{})
	m.echoLog = append(m.echoLog, loggedCC{channel: 0, controller: 74, at: time.Now().Add(-time.Second)})

	assert.False(t, m.ccIsEchoSuppressed(0, 74))
}

func TestHandleClockComputesTempoAfterOneBeat(t *testing.T) {
	reg := registry.New()
	router := events.NewRouter()
	model := paramgraph.New(reg, router)
	p, _ := reg.Register(registry.ModuleSystem, 1, "system/tempo_bpm", registry.DataNumeric, registry.ScopeGlobal)
	reg.SetRefTag(p, "tempo_bpm")

	m := New(reg, model, router, &fakeNoteRouter{})
	m.handleClock() // first pulse just seeds clockCount
	for i := 1; i < NumMidiClockPulsesPerQtrNoteBeat; i++ {
		m.handleClock()
	}
	assert.Equal(t, 0, m.clockCount)
}

func TestHandleStartResetsClockCounter(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	m.clockCount = 5
	m.handleStart()
	assert.Equal(t, 0, m.clockCount)
}
