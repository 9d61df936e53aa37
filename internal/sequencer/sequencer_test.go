package sequencer

import (
	"testing"

	"github.com/schollz/duovox/internal/events"
	"github.com/schollz/duovox/internal/paramgraph"
	"github.com/schollz/duovox/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	onCalls  []uint8
	offCalls []uint8
}

func (f *fakeSink) SeqNoteOn(note, velocity uint8) { f.onCalls = append(f.onCalls, note) }
func (f *fakeSink) SeqNoteOff(note uint8)           { f.offCalls = append(f.offCalls, note) }

func newTestSequencer(t *testing.T) (*Sequencer, *fakeSink) {
	t.Helper()
	reg := registry.New()
	router := events.NewRouter()
	model := paramgraph.New(reg, router)
	sink := &fakeSink{}
	s := New(reg, model, router, sink)
	return s, sink
}

func TestRecordNoteOnEstablishesBaseAndOffset(t *testing.T) {
	s, _ := newTestSequencer(t)
	s.step.recordNoteOn(60)
	s.step.recordNoteOn(64)

	require.Len(t, s.step.steps[0].NoteOffsets, 2)
	assert.EqualValues(t, 0, s.step.steps[0].NoteOffsets[0])
	assert.EqualValues(t, 4, s.step.steps[0].NoteOffsets[1])
}

func TestAdvanceOnEmptyHeldMovesToNextStep(t *testing.T) {
	s, _ := newTestSequencer(t)
	s.step.state = StepProgramming
	s.step.recordNoteOn(60)
	delete(s.step.heldNotes, 60)

	s.step.advanceOnEmptyHeld()
	assert.Equal(t, 1, s.step.recIndex)
}

func TestMultifnSwitchAtCurrentIndexInsertsRest(t *testing.T) {
	s, _ := newTestSequencer(t)
	s.step.multifnSwitch(0)
	assert.Equal(t, StepRest, s.step.steps[0].Type)
}

func TestMultifnSwitchSchedulesAndCancelsTie(t *testing.T) {
	s, _ := newTestSequencer(t)
	s.step.multifnSwitch(2)
	assert.Equal(t, StepStartTie, s.step.steps[0].Type)
	assert.Equal(t, StepTie, s.step.steps[1].Type)
	assert.Equal(t, StepEndTie, s.step.steps[2].Type)

	s.step.multifnSwitch(2) // repeat press cancels
	assert.Equal(t, StepNormal, s.step.steps[0].Type)
	assert.Equal(t, StepNormal, s.step.steps[2].Type)
}

func TestStepPlaybackEmitsNoteOnThenNoteOff(t *testing.T) {
	s, sink := newTestSequencer(t)
	s.step.recordNoteOn(60)
	delete(s.step.heldNotes, 60)
	s.step.programmed = 0
	s.step.selected = 1

	s.step.state = StepStartPlaying
	s.stepTick() // StartPlaying -> fires note-on, state NoteOn
	require.Len(t, sink.onCalls, 1)
	assert.EqualValues(t, 60, sink.onCalls[0])

	tp := s.tempoPulseCount()
	for i := 0; i < tp/2; i++ {
		s.stepTick()
	}
	require.Len(t, sink.offCalls, 1)
	assert.EqualValues(t, 60, sink.offCalls[0])
}

func TestEncodeDecodeStepRoundTrips(t *testing.T) {
	st := SeqStep{Type: StepStartTie, NoteOffsets: []int8{0, 4, 7}}
	s := EncodeStep(st)
	assert.Len(t, s, 2+2*MaxNotesPerStep)

	out, err := DecodeStep(s)
	require.NoError(t, err)
	assert.Equal(t, StepStartTie, out.Type)
	assert.Equal(t, []int8{0, 4, 7}, out.NoteOffsets)
}

func TestPhraseRecordNoteOnThenOffProducesPairedEvents(t *testing.T) {
	s, _ := newTestSequencer(t)
	s.phrase.recordNoteOn(60, 100)
	s.phrase.ticks += s.phrase.quantumTicks() * 2
	s.phrase.recordNoteOff(60)

	require.Len(t, s.phrase.events, 2)
	assert.Equal(t, phraseNoteOn, s.phrase.events[0].Type)
	assert.Equal(t, phraseNoteOff, s.phrase.events[1].Type)
	assert.Greater(t, s.phrase.events[1].Tick, s.phrase.events[0].Tick)
}

func TestEncodeDecodeChunkRoundTrips(t *testing.T) {
	ev := phraseEvent{Tick: 192, Type: phraseNoteOn, Note: 64, Velocity: 90}
	encoded := EncodeChunk(ev)

	decoded, ok, err := DecodeChunk(encoded)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ev, decoded)
}

func TestDecodeChunkRecognisesEndOfPhraseSentinel(t *testing.T) {
	_, ok, err := DecodeChunk("00000000 FE 00 00")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResetSkipsChunksAlreadyAtSentinel(t *testing.T) {
	reg := registry.New()
	router := events.NewRouter()
	model := paramgraph.New(reg, router)
	s := New(reg, model, router, &fakeSink{})

	p, err := reg.Register(registry.ModuleSeq, 1, "seq/chunk0", registry.DataString, registry.ScopePresetCommon)
	require.NoError(t, err)
	model.WriteString(p, 0, 0, resetChunkValue, events.ModuleSeq)
	s.SetChunkParams([]*registry.Param{p})

	l := router.Subscribe("watch", events.ModuleSeq, events.TypeParamChange, 4)
	s.Reset()

	select {
	case <-l.Events():
		t.Fatal("expected no param change for a chunk already at the reset value")
	default:
	}
}

func TestExitRecWritesNumStepsAndEmitsSysFunc(t *testing.T) {
	reg := registry.New()
	router := events.NewRouter()
	model := paramgraph.New(reg, router)

	numSteps, err := reg.Register(registry.ModuleSeq, 1, "seq/num_steps", registry.DataNumeric, registry.ScopePresetCommon)
	require.NoError(t, err)
	numSteps.Display.NumPositions = StepSeqMaxSteps
	reg.SetRefTag(numSteps, "seq_num_steps")

	s := New(reg, model, router, &fakeSink{})
	s.step.programmed = 5

	l := router.Subscribe("watch", events.ModuleSeq, events.TypeSystemFunc, 4)
	s.ExitRec()

	assert.Equal(t, 5, model.ReadPosition(numSteps))
	select {
	case ev := <-l.Events():
		assert.Equal(t, events.SysFuncSeqRec, ev.SystemFunc.Type)
	default:
		t.Fatal("expected a SysFuncSeqRec broadcast")
	}
}
