package arp

import (
	"testing"

	"github.com/schollz/duovox/internal/events"
	"github.com/schollz/duovox/internal/paramgraph"
	"github.com/schollz/duovox/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	onNotes  []uint8
	offNotes []uint8
}

func (f *fakeSink) ArpNoteOn(note, velocity uint8) { f.onNotes = append(f.onNotes, note) }
func (f *fakeSink) ArpNoteOff(note uint8)          { f.offNotes = append(f.offNotes, note) }

func newTestArp(t *testing.T) (*Arp, *fakeSink, *registry.Registry, *paramgraph.Model) {
	t.Helper()
	reg := registry.New()
	router := events.NewRouter()
	model := paramgraph.New(reg, router)
	sink := &fakeSink{}
	a := New(reg, model, router, sink)
	return a, sink, reg, model
}

func TestNoteOnWhenDisabledPassesThroughDirectly(t *testing.T) {
	a, sink, reg, model := newTestArp(t)
	p, err := reg.Register(registry.ModuleArp, 0, "arp/enable", registry.DataNumeric, registry.ScopePresetCommon)
	require.NoError(t, err)
	reg.SetRefTag(p, "arp_enable")
	a.enableParam = p
	model.WriteNormalised(p, 0, 0, 0, events.ModuleArp)

	a.NoteOn(60, 100)
	assert.Equal(t, []uint8{60}, sink.onNotes)
	assert.Zero(t, a.HeldCount())
}

func TestNoteOnAddsToHeldSetWhenEnabled(t *testing.T) {
	a, sink, _, _ := newTestArp(t)
	a.NoteOn(60, 100)
	a.NoteOn(64, 100)

	assert.Equal(t, 2, a.HeldCount())
	assert.Empty(t, sink.onNotes) // no direct passthrough; playback waits for Pulse
}

func TestNoteOffRemovesHeldNoteWithoutHold(t *testing.T) {
	a, _, _, _ := newTestArp(t)
	a.NoteOn(60, 100)
	a.NoteOff(60)
	assert.Zero(t, a.HeldCount())
}

func TestNoteOffIsIgnoredWhileHoldEngaged(t *testing.T) {
	a, _, reg, model := newTestArp(t)
	p, err := reg.Register(registry.ModuleArp, 3, "arp/hold", registry.DataNumeric, registry.ScopePresetCommon)
	require.NoError(t, err)
	reg.SetRefTag(p, "arp_hold")
	a.holdParam = p
	model.WriteNormalised(p, 0, 0, 1.0, events.ModuleArp)

	a.NoteOn(60, 100)
	a.NoteOff(60)
	assert.Equal(t, 1, a.HeldCount())
}

func TestPulseUpModePlaysAscendingOrder(t *testing.T) {
	a, sink, _, _ := newTestArp(t)
	a.NoteOn(67, 100)
	a.NoteOn(60, 100)
	a.NoteOn(64, 100)

	a.Pulse() // idle -> playing first note
	require.Len(t, sink.onNotes, 1)
	assert.EqualValues(t, 60, sink.onNotes[0])

	for i := 0; i < a.tp; i++ {
		a.Pulse()
	}
	require.Len(t, sink.onNotes, 2)
	assert.EqualValues(t, 64, sink.onNotes[1])
}

func TestPulseDownModePlaysDescendingOrder(t *testing.T) {
	a, sink, reg, model := newTestArp(t)
	p, err := reg.Register(registry.ModuleArp, 1, "arp/dir_mode", registry.DataNumeric, registry.ScopePresetCommon)
	require.NoError(t, err)
	reg.SetRefTag(p, "arp_dir_mode")
	p.Display.NumPositions = int(NumDirModes)
	a.dirModeParam = p
	model.WritePosition(p, int(DirDown), events.ModuleArp)

	a.NoteOn(60, 100)
	a.NoteOn(67, 100)

	a.Pulse()
	require.Len(t, sink.onNotes, 1)
	assert.EqualValues(t, 67, sink.onNotes[0])
}

func TestResetStopsPlayingNoteAndClearsHeld(t *testing.T) {
	a, sink, _, _ := newTestArp(t)
	a.NoteOn(60, 100)
	a.Pulse()
	require.Len(t, sink.onNotes, 1)

	a.Reset()
	assert.Equal(t, []uint8{60}, sink.offNotes)
	assert.Zero(t, a.HeldCount())
}
