// Package sequencer implements the two-mode step/phrase sequencer: a
// preset-common Mode parameter selects between a 16-step note sequencer
// with tie/rest handling and a phrase looper that records a quantised
// event stream. Both state machines are driven by MIDI clock pulses
// (gitlab.com/gomidi/midi/v2 clock messages, relayed through
// internal/midi). No internal clock drives them: useInternalClock is never
// set, so the internal-clock scaling in tempoPulseCount is not applied.
package sequencer

import (
	"sync"
	"time"

	"github.com/schollz/duovox/internal/clock"
	"github.com/schollz/duovox/internal/convert"
	"github.com/schollz/duovox/internal/events"
	"github.com/schollz/duovox/internal/paramgraph"
	"github.com/schollz/duovox/internal/registry"
)

// StepSeqMaxSteps bounds the step sequencer's programmable length.
const StepSeqMaxSteps = convert.StepSeqMaxSteps

// MaxNotesPerStep bounds how many simultaneous notes one step can hold.
const MaxNotesPerStep = 12

// PhrasePPQN is the internal tick resolution of the phrase looper.
const PhrasePPQN = 96

// Mode selects which FSM is live.
type Mode int

const (
	ModeStep Mode = iota
	ModePhraseLooper
)

// StepSeqState is the step sequencer's finite state machine state.
type StepSeqState int

const (
	StepIdle StepSeqState = iota
	StepProgramming
	StepStartPlaying
	StepPlayingNoteOn
	StepPlayingNoteOff
	StepPlayingLastNoteOff
)

// LooperSeqState is the phrase looper's finite state machine state.
type LooperSeqState int

const (
	LooperIdle LooperSeqState = iota
	LooperStartPlaying
	LooperPlaying
)

// StepType classifies one programmed step.
type StepType int

const (
	StepNormal StepType = iota
	StepStartTie
	StepTie
	StepEndTie
	StepRest
)

// SeqStep is one programmed step: its type plus up to MaxNotesPerStep
// note offsets (signed, relative to the sequence's base note).
type SeqStep struct {
	Type        StepType
	NoteOffsets []int8
}

// NoteSink is the destination for generated note-on/note-off events. The
// engine wires it to an emitter of outgoing MIDI events on the event bus;
// step and phrase notes do not pass through the arpeggiator.
type NoteSink interface {
	SeqNoteOn(note, velocity uint8)
	SeqNoteOff(note uint8)
}

// Sequencer is the combined step/phrase sequencer manager.
type Sequencer struct {
	reg    *registry.Registry
	model  *paramgraph.Model
	router *events.Router
	sink   NoteSink

	modeParam      *registry.Param
	recParam       *registry.Param
	runParam       *registry.Param
	numStepsParam  *registry.Param
	tempoNoteParam *registry.Param
	holdParam      *registry.Param
	bpbParam       *registry.Param
	qntParam       *registry.Param

	mu sync.Mutex

	mode Mode

	step   stepState
	phrase phraseState

	useInternalClock bool
	internalTimer    *clock.Timer

	saveWorker *clock.Timer
}

// phraseSaveInterval is how often the save worker checks the phrase
// looper's dirty flag and flushes recorded events to chunk parameters.
const phraseSaveInterval = time.Second

// New constructs a sequencer bound to the given parameters. Any of the
// *registry.Param arguments may be nil in a test harness that only
// exercises one mode.
func New(reg *registry.Registry, model *paramgraph.Model, router *events.Router, sink NoteSink) *Sequencer {
	s := &Sequencer{reg: reg, model: model, router: router, sink: sink}
	s.modeParam, _ = reg.LookupByRef("seq_mode")
	s.recParam, _ = reg.LookupByRef("seq_rec")
	s.runParam, _ = reg.LookupByRef("seq_run")
	s.numStepsParam, _ = reg.LookupByRef("seq_num_steps")
	s.tempoNoteParam, _ = reg.LookupByRef("seq_tempo_note_value")
	s.holdParam, _ = reg.LookupByRef("seq_hold")
	s.bpbParam, _ = reg.LookupByRef("seq_phrase_beats_per_bar")
	s.qntParam, _ = reg.LookupByRef("seq_phrase_quantisation")
	s.step.init()
	s.phrase.init()
	return s
}

func (s *Sequencer) currentMode() Mode {
	if s.modeParam == nil {
		return s.mode
	}
	if s.model.ReadPosition(s.modeParam) == int(ModePhraseLooper) {
		return ModePhraseLooper
	}
	return ModeStep
}

// tempoPulseCount returns Tp, the number of 96-PPQN ticks one "note" of
// the tempo-note-value grid spans, scaled up when the internal clock
// (rather than MIDI clock) is driving the sequencer.
func (s *Sequencer) tempoPulseCount() int {
	noteValue := 4 // quarter note fallback
	if s.tempoNoteParam != nil {
		noteValue = s.model.ReadPosition(s.tempoNoteParam)
	}
	tp := tempoNoteValuePulses(noteValue)
	if s.useInternalClock {
		tp *= 4 // PPQNClockPulsesPerMidiClock, mirrored from internal/midi
	}
	return tp
}

// tempoNoteValuePulses maps a tempo-note-value position to a 96-PPQN tick
// span: index 0 is a whole note (384 ticks at 96 PPQN), each subsequent
// index halves the duration, with the last few positions being triplet
// variants of the dotted family.
func tempoNoteValuePulses(pos int) int {
	table := []int{384, 192, 96, 48, 24, 128, 64, 32, 16}
	if pos < 0 || pos >= len(table) {
		return 96
	}
	return table[pos]
}

// MidiPulse advances whichever FSM is live by one MIDI-clock-scaled tick.
// It implements midi.ClockSink.
func (s *Sequencer) MidiPulse() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.currentMode() {
	case ModeStep:
		s.stepTick()
	case ModePhraseLooper:
		s.phraseTick()
	}
}

// MidiStart resets and starts whichever FSM is live. It implements
// midi.ClockSink.
func (s *Sequencer) MidiStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step.state = StepStartPlaying
	s.phrase.state = LooperStartPlaying
	if s.runParam != nil {
		s.model.WriteNormalised(s.runParam, 0, 0, 1.0, events.ModuleSeq)
	}
}

// MidiStop stops whichever FSM is live. It implements midi.ClockSink.
func (s *Sequencer) MidiStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step.state = StepIdle
	s.phrase.state = LooperIdle
	if s.runParam != nil {
		s.model.WriteNormalised(s.runParam, 0, 0, 0.0, events.ModuleSeq)
	}
}

// NoteOn feeds an incoming note-on from the MIDI device manager into the
// sequencer. Behaviour depends on the live mode and on whether recording
// is active.
func (s *Sequencer) NoteOn(note, velocity uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recording := s.recParam != nil && s.model.ReadNormalised(s.recParam, 0, 0) >= 0.5
	switch s.currentMode() {
	case ModeStep:
		if recording {
			s.step.recordNoteOn(note)
		} else {
			s.step.heldNotes[note] = true
		}
	case ModePhraseLooper:
		if recording {
			s.phrase.recordNoteOn(note, velocity)
		}
	}
}

// NoteOff feeds an incoming note-off into the sequencer.
func (s *Sequencer) NoteOff(note uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.currentMode() {
	case ModeStep:
		delete(s.step.heldNotes, note)
		if len(s.step.heldNotes) == 0 {
			s.step.advanceOnEmptyHeld()
		}
	case ModePhraseLooper:
		recording := s.recParam != nil && s.model.ReadNormalised(s.recParam, 0, 0) >= 0.5
		if recording {
			s.phrase.recordNoteOff(note)
		}
	}
}

// MultifnSwitch is the entry point for the control surface's
// multifunction-switch-during-REC interaction: pressed at the current
// step index inserts a rest; pressed at a later index schedules (or, on
// a repeat press, cancels) a tie to that index.
func (s *Sequencer) MultifnSwitch(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step.multifnSwitch(index)
}

// ExitRec leaves recording mode: writes the step-count parameter and
// broadcasts a SysFuncSeqRec event with value 0. It does not reset the
// multifunction switch bank, and the surface bridge does not listen for
// that broadcast.
func (s *Sequencer) ExitRec() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.numStepsParam != nil {
		s.model.WritePosition(s.numStepsParam, s.step.programmed, events.ModuleSeq)
	}
	s.router.Emit(events.Event{
		Type:       events.TypeSystemFunc,
		Producer:   events.ModuleSeq,
		SystemFunc: &events.SystemFunc{Type: events.SysFuncSeqRec, Value: 0},
	})
}

// Reset implements SEQ_RESET: walks chunk parameters in order, resetting
// every non-reset chunk and emitting a non-displaying param change so it
// drops out of the persisted preset.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phrase.reset()
	for i, ch := range s.phrase.chunkParams {
		if ch == nil {
			continue
		}
		if s.model.ReadString(ch, 0, 0) == resetChunkValue {
			continue
		}
		s.model.WriteString(ch, 0, 0, resetChunkValue, events.ModuleSeq)
		s.router.Emit(events.Event{
			Type:     events.TypeParamChange,
			Producer: events.ModuleSeq,
			ParamChange: &events.ParamChange{
				ParamRef:    ch.Path,
				FromModule:  events.ModuleSeq,
				DisplayFlag: false,
			},
		})
		_ = i
	}
}

// SetChunkParams wires up the registered CHUNK_PARAM_ID parameters used
// for phrase-event persistence, in storage order.
func (s *Sequencer) SetChunkParams(chunks []*registry.Param) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phrase.chunkParams = chunks
}

// Start launches the phrase-save worker: a 1s poll that flushes the
// recorded event stream into chunk parameters whenever the phrase has
// changed since the last flush.
func (s *Sequencer) Start() {
	s.saveWorker = clock.StartPeriodic(phraseSaveInterval, s.savePhraseChunks)
}

// Stop halts the phrase-save worker.
func (s *Sequencer) Stop() {
	if s.saveWorker != nil {
		s.saveWorker.Stop()
	}
}

// savePhraseChunks is the save worker's periodic callback. It is a no-op
// unless the phrase has new events since the last flush.
func (s *Sequencer) savePhraseChunks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.phrase.dirty || len(s.phrase.chunkParams) == 0 {
		return
	}
	s.phrase.dirty = false
	groups := chunkPhraseEvents(s.phrase.events, s.phrase.loopLen, len(s.phrase.chunkParams))
	for i, chunkStr := range groups {
		p := s.phrase.chunkParams[i]
		if p == nil {
			continue
		}
		s.model.WriteString(p, 0, 0, chunkStr, events.ModuleSeq)
	}
}

// LoadPhraseFromChunks reconstructs the phrase event stream from the
// currently-loaded preset's chunk parameter values — called after a
// preset reload so a phrase recorded in a previous session resumes
// playback on RUN.
func (s *Sequencer) LoadPhraseFromChunks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phrase.reset()
	var evs []phraseEvent
	var loopLen uint32
	for _, p := range s.phrase.chunkParams {
		if p == nil {
			continue
		}
		str := s.model.ReadString(p, 0, 0)
		chunkEvs, endTick, hasEnd := decodeChunkFull(str)
		evs = append(evs, chunkEvs...)
		if hasEnd {
			loopLen = endTick
		}
	}
	s.phrase.events = evs
	s.phrase.loopLen = loopLen
	s.phrase.dirty = false
}
