// Package arp implements the arpeggiator. Its inputs are NoteOn/NoteOff,
// which the engine's note dispatcher calls for incoming MIDI notes; notes
// generated by the sequencer are not routed through the arp. The arp's
// output note sink is whatever sits downstream of it (the MIDI device
// manager / DAW bridge). It carries its
// own held-note set, tempo-pulse counting, and direction-mode cycling,
// mirroring the step sequencer's playback FSM in internal/sequencer.
package arp

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/schollz/duovox/internal/events"
	"github.com/schollz/duovox/internal/paramgraph"
	"github.com/schollz/duovox/internal/registry"
)

// DirMode selects the order the arp walks its held-note set.
type DirMode int

const (
	DirUp DirMode = iota
	DirDown
	DirUpDown
	DirRandom
	DirAssigned
	NumDirModes
)

// State is the arp's playback finite state machine.
type State int

const (
	StateDisabled State = iota
	StateIdle
	StatePlayingNoteOn
	StatePlayingNoteOff
)

// NoteSink is the destination for arp-generated notes.
type NoteSink interface {
	ArpNoteOn(note, velocity uint8)
	ArpNoteOff(note uint8)
}

type heldNote struct {
	note     uint8
	velocity uint8
}

// Arp is the arpeggiator. It is driven by the same tempo pulses as the
// sequencer (via Pulse, called from the MIDI clock slave) and fed notes the
// same way the sequencer is: NoteOn/NoteOff.
type Arp struct {
	reg    *registry.Registry
	model  *paramgraph.Model
	router *events.Router
	sink   NoteSink

	enableParam    *registry.Param
	dirModeParam   *registry.Param
	tempoNoteParam *registry.Param
	holdParam      *registry.Param
	runParam       *registry.Param

	mu sync.Mutex

	state State
	held  []heldNote // insertion order, for DirAssigned
	shuffle []int    // permutation of held indices, for DirRandom

	step        int
	upDownGoingUp bool

	pulseCounter int
	tp           int

	playing heldNote
	hasPlaying bool
}

// New constructs an Arp bound to its registered parameters. Any
// *registry.Param lookup may come back nil in a test harness that doesn't
// register every parameter; New tolerates that by falling back to
// reasonable defaults.
func New(reg *registry.Registry, model *paramgraph.Model, router *events.Router, sink NoteSink) *Arp {
	a := &Arp{reg: reg, model: model, router: router, sink: sink, state: StateIdle, upDownGoingUp: true}
	a.enableParam, _ = reg.LookupByRef("arp_enable")
	a.dirModeParam, _ = reg.LookupByRef("arp_dir_mode")
	a.tempoNoteParam, _ = reg.LookupByRef("arp_tempo_note_value")
	a.holdParam, _ = reg.LookupByRef("arp_hold")
	a.runParam, _ = reg.LookupByRef("arp_run")
	return a
}

func (a *Arp) enabled() bool {
	return a.enableParam == nil || a.model.ReadNormalised(a.enableParam, 0, 0) >= 0.5
}

func (a *Arp) holdEnabled() bool {
	return a.holdParam != nil && a.model.ReadNormalised(a.holdParam, 0, 0) >= 0.5
}

// running reports the playback FSM's run/pause state, distinct from
// enabled: enable gates whether the arp intercepts notes at all, while run
// gates whether an already-enabled arp is actively stepping through its
// rotation (mirrors the original engine's separate _enable/_fsm_running
// signals).
func (a *Arp) running() bool {
	return a.runParam == nil || a.model.ReadNormalised(a.runParam, 0, 0) >= 0.5
}

func (a *Arp) dirMode() DirMode {
	if a.dirModeParam == nil {
		return DirUp
	}
	return DirMode(a.model.ReadPosition(a.dirModeParam))
}

// tempoNoteValuePulses mirrors sequencer.tempoNoteValuePulses: a 96-PPQN
// tick span per the selected note-value position.
func tempoNoteValuePulses(pos int) int {
	table := []int{384, 192, 96, 48, 24, 128, 64, 32, 16}
	if pos < 0 || pos >= len(table) {
		return 96
	}
	return table[pos]
}

func (a *Arp) tempoPulseCount() int {
	pos := 4
	if a.tempoNoteParam != nil {
		pos = a.model.ReadPosition(a.tempoNoteParam)
	}
	return tempoNoteValuePulses(pos)
}

// NoteOn is the arp's MIDI entry point for held notes — the engine's note
// dispatcher calls this for incoming MIDI notes, instead of routing them
// directly to the audio engine, when the arp is enabled and the sequencer
// is neither recording nor running.
func (a *Arp) NoteOn(note, velocity uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.enabled() {
		if a.sink != nil {
			a.sink.ArpNoteOn(note, velocity)
		}
		return
	}
	for _, h := range a.held {
		if h.note == note {
			return
		}
	}
	a.held = append(a.held, heldNote{note: note, velocity: velocity})
	a.reshuffle()
	if a.state == StateIdle {
		a.state = StateIdle // first pulse will transition via Pulse
	}
}

// NoteOff releases a held note. With hold engaged the note stays in the
// arp's rotation: releasing hold later does not remove it, and a repeated
// NoteOn for it is ignored. Reset clears it.
func (a *Arp) NoteOff(note uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.enabled() {
		if a.sink != nil {
			a.sink.ArpNoteOff(note)
		}
		return
	}
	if a.holdEnabled() {
		return
	}
	a.removeHeld(note)
}

func (a *Arp) removeHeld(note uint8) {
	for i, h := range a.held {
		if h.note == note {
			a.held = append(a.held[:i], a.held[i+1:]...)
			break
		}
	}
	a.reshuffle()
	if len(a.held) == 0 {
		a.step = 0
		a.upDownGoingUp = true
	}
}

func (a *Arp) reshuffle() {
	a.shuffle = make([]int, len(a.held))
	for i := range a.shuffle {
		a.shuffle[i] = i
	}
	rand.Shuffle(len(a.shuffle), func(i, j int) { a.shuffle[i], a.shuffle[j] = a.shuffle[j], a.shuffle[i] })
}

func (a *Arp) sortedByPitch() []heldNote {
	out := append([]heldNote(nil), a.held...)
	sort.Slice(out, func(i, j int) bool { return out[i].note < out[j].note })
	return out
}

// nextNote picks the next note per the active direction mode. Callers
// must hold a.mu.
func (a *Arp) nextNote() (heldNote, bool) {
	if len(a.held) == 0 {
		return heldNote{}, false
	}
	switch a.dirMode() {
	case DirAssigned:
		n := a.held[a.step%len(a.held)]
		a.step++
		return n, true

	case DirRandom:
		idx := a.shuffle[a.step%len(a.shuffle)]
		a.step++
		return a.held[idx], true

	case DirDown:
		sorted := a.sortedByPitch()
		n := sorted[len(sorted)-1-(a.step%len(sorted))]
		a.step++
		return n, true

	case DirUpDown:
		sorted := a.sortedByPitch()
		if len(sorted) == 1 {
			return sorted[0], true
		}
		if a.upDownGoingUp {
			n := sorted[a.step]
			a.step++
			if a.step >= len(sorted) {
				a.step = len(sorted) - 2
				a.upDownGoingUp = false
			}
			return n, true
		}
		n := sorted[a.step]
		a.step--
		if a.step < 0 {
			a.step = 1
			a.upDownGoingUp = true
		}
		return n, true

	default: // DirUp
		sorted := a.sortedByPitch()
		n := sorted[a.step%len(sorted)]
		a.step++
		return n, true
	}
}

// Pulse advances the arp's playback FSM by one PPQN-scaled tick, as
// signalled by the MIDI clock slave (internal/midi). Arp does not itself
// implement midi.ClockSink; the engine subscribes it through an adapter
// that calls Pulse on every clock pulse and Reset on stop.
func (a *Arp) Pulse() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled() || !a.running() {
		return
	}

	switch a.state {
	case StateIdle:
		if len(a.held) == 0 {
			return
		}
		a.tp = a.tempoPulseCount()
		a.pulseCounter = 0
		a.playNext()

	case StatePlayingNoteOn:
		a.pulseCounter++
		if a.pulseCounter >= a.tp/2 {
			a.stopPlaying()
			a.pulseCounter = 0
			a.state = StatePlayingNoteOff
		}

	case StatePlayingNoteOff:
		a.pulseCounter++
		if a.pulseCounter < a.tp/2 {
			return
		}
		a.pulseCounter = 0
		if len(a.held) == 0 {
			a.state = StateIdle
			return
		}
		a.playNext()
	}
}

func (a *Arp) playNext() {
	n, ok := a.nextNote()
	if !ok {
		a.state = StateIdle
		return
	}
	a.playing = n
	a.hasPlaying = true
	if a.sink != nil {
		a.sink.ArpNoteOn(n.note, n.velocity)
	}
	a.state = StatePlayingNoteOn
}

func (a *Arp) stopPlaying() {
	if !a.hasPlaying {
		return
	}
	if a.sink != nil {
		a.sink.ArpNoteOff(a.playing.note)
	}
	a.hasPlaying = false
}

// Reset clears held notes and returns the arp to idle, e.g. on MIDI stop.
func (a *Arp) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hasPlaying && a.sink != nil {
		a.sink.ArpNoteOff(a.playing.note)
	}
	a.hasPlaying = false
	a.held = nil
	a.shuffle = nil
	a.step = 0
	a.upDownGoingUp = true
	a.state = StateIdle
}

// HeldCount reports how many notes are currently in the arp's rotation.
func (a *Arp) HeldCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.held)
}
