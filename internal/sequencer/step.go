package sequencer

import (
	"fmt"
)

// stepState holds all step-sequencer data. Logic that needs to emit notes
// lives on *Sequencer (stepTick, recordNoteOn wrappers) so it can reach
// the NoteSink; this type is the FSM's pure data.
type stepState struct {
	state   StepSeqState
	steps   [StepSeqMaxSteps]SeqStep
	baseNote int
	baseSet  bool

	programmed int // highest index with programmed data
	selected   int // NUM_STEPS_PARAM_ID position: how many steps play back

	heldNotes map[uint8]bool // keys currently down, for both REC and play

	recIndex     int // step currently being programmed
	pendingTieTo int // -1 when no tie is pending

	playIndex    int
	pulseCounter int
	tp           int // current Tp for this playback pass
	playingNotes map[uint8]bool
}

func (s *stepState) init() {
	s.state = StepIdle
	s.heldNotes = make(map[uint8]bool)
	s.playingNotes = make(map[uint8]bool)
	s.pendingTieTo = -1
	s.selected = StepSeqMaxSteps
	for i := range s.steps {
		s.steps[i] = SeqStep{Type: StepNormal}
	}
}

// recordNoteOn appends note to the step currently being programmed. The
// very first note of step 0 establishes the base note; every note
// (including later notes of step 0) is stored as a signed offset from it.
func (s *stepState) recordNoteOn(note uint8) {
	s.state = StepProgramming
	s.heldNotes[note] = true

	if !s.baseSet {
		s.baseNote = int(note)
		s.baseSet = true
	}

	step := &s.steps[s.recIndex]
	if len(step.NoteOffsets) >= MaxNotesPerStep {
		return
	}
	offset := int8(int(note) - s.baseNote)
	step.NoteOffsets = append(step.NoteOffsets, offset)
	step.Type = StepNormal
	if s.recIndex > s.programmed {
		s.programmed = s.recIndex
	}
}

// advanceOnEmptyHeld moves recIndex forward once every held note during
// REC has been released.
func (s *stepState) advanceOnEmptyHeld() {
	if s.state != StepProgramming {
		return
	}
	if len(s.heldNotes) > 0 {
		return
	}
	if s.recIndex < StepSeqMaxSteps-1 {
		s.recIndex++
	}
}

// multifnSwitch implements the REC-time rest/tie gesture: pressed at the
// current index inserts a rest; pressed beyond it schedules a tie run
// from the current index through the pressed index; pressing the same
// end index again cancels the scheduled tie.
func (s *stepState) multifnSwitch(index int) {
	if index < 0 || index >= StepSeqMaxSteps {
		return
	}
	if index == s.recIndex {
		s.steps[index].Type = StepRest
		if index > s.programmed {
			s.programmed = index
		}
		return
	}
	if index < s.recIndex {
		return
	}
	if s.pendingTieTo == index {
		// Repeat press on the same end index cancels the tie.
		for i := s.recIndex; i <= index; i++ {
			s.steps[i].Type = StepNormal
		}
		s.pendingTieTo = -1
		return
	}
	s.pendingTieTo = index
	s.steps[s.recIndex].Type = StepStartTie
	for i := s.recIndex + 1; i < index; i++ {
		s.steps[i].Type = StepTie
	}
	s.steps[index].Type = StepEndTie
	if index > s.programmed {
		s.programmed = index
	}
}

func (s *stepState) activeSteps() int {
	n := s.programmed + 1
	if s.selected < n {
		n = s.selected
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (s *stepState) notesAt(index int) []uint8 {
	step := s.steps[index]
	out := make([]uint8, 0, len(step.NoteOffsets))
	for _, off := range step.NoteOffsets {
		out = append(out, uint8(s.baseNote+int(off)))
	}
	return out
}

// stepTick advances the step sequencer playback FSM by one Tp-scaled
// pulse (already accounting for internal-vs-MIDI-clock scaling via
// Sequencer.tempoPulseCount).
func (s *Sequencer) stepTick() {
	st := &s.step
	switch st.state {
	case StepIdle, StepProgramming:
		return
	case StepStartPlaying:
		st.tp = s.tempoPulseCount()
		st.pulseCounter = 0
		st.playIndex = 0
		s.playStepNoteOn(st.playIndex)
		st.state = StepPlayingNoteOn

	case StepPlayingNoteOn:
		st.pulseCounter++
		if st.pulseCounter >= st.tp/2 {
			s.playStepNoteOff(st.playIndex)
			st.pulseCounter = 0
			st.state = StepPlayingNoteOff
		}

	case StepPlayingNoteOff:
		st.pulseCounter++
		if st.pulseCounter < st.tp/2 {
			return
		}
		st.pulseCounter = 0
		active := st.activeSteps()
		hold := s.holdParam == nil || s.model.ReadNormalised(s.holdParam, 0, 0) >= 0.5
		if !hold && len(st.heldNotes) == 0 {
			st.state = StepPlayingLastNoteOff
			return
		}
		st.playIndex = (st.playIndex + 1) % active
		if st.playIndex == 0 {
			// Wrap-around: flush any note still sounding from a tie so it
			// doesn't hang across the loop boundary.
			for note := range st.playingNotes {
				if s.sink != nil {
					s.sink.SeqNoteOff(note)
				}
			}
			st.playingNotes = make(map[uint8]bool)
		}
		s.playStepNoteOn(st.playIndex)
		st.state = StepPlayingNoteOn

	case StepPlayingLastNoteOff:
		st.state = StepStartPlaying
	}
}

func (s *Sequencer) playStepNoteOn(index int) {
	st := &s.step
	switch st.steps[index].Type {
	case StepRest, StepTie:
		return // no new note-on for a rest or a continuing tie
	}
	for _, note := range st.notesAt(index) {
		st.playingNotes[note] = true
		if s.sink != nil {
			s.sink.SeqNoteOn(note, 100)
		}
	}
}

func (s *Sequencer) playStepNoteOff(index int) {
	st := &s.step
	t := st.steps[index].Type
	if t == StepStartTie || t == StepTie {
		return // note-off deferred until END_TIE or a NORMAL step
	}
	for note := range st.playingNotes {
		if s.sink != nil {
			s.sink.SeqNoteOff(note)
		}
	}
	st.playingNotes = make(map[uint8]bool)
}

// EncodeStep renders one step into the 26-hex-character persistence
// string: a leading attribute byte (START_TIE=0x80, TIE=0x40, END_TIE=0x20,
// REST=0x10) followed by twelve note bytes, 0xFF where unused.
func EncodeStep(st SeqStep) string {
	var attr byte
	switch st.Type {
	case StepStartTie:
		attr = 0x80
	case StepTie:
		attr = 0x40
	case StepEndTie:
		attr = 0x20
	case StepRest:
		attr = 0x10
	}
	out := fmt.Sprintf("%02X", attr)
	for i := 0; i < MaxNotesPerStep; i++ {
		if i < len(st.NoteOffsets) {
			out += fmt.Sprintf("%02X", byte(st.NoteOffsets[i]))
		} else {
			out += "FF"
		}
	}
	return out
}

// DecodeStep parses EncodeStep's output back into a SeqStep.
func DecodeStep(s string) (SeqStep, error) {
	if len(s) != 2+2*MaxNotesPerStep {
		return SeqStep{}, fmt.Errorf("sequencer: step string has wrong length %d", len(s))
	}
	var attr byte
	if _, err := fmt.Sscanf(s[0:2], "%02X", &attr); err != nil {
		return SeqStep{}, err
	}
	var typ StepType
	switch attr {
	case 0x80:
		typ = StepStartTie
	case 0x40:
		typ = StepTie
	case 0x20:
		typ = StepEndTie
	case 0x10:
		typ = StepRest
	default:
		typ = StepNormal
	}
	out := SeqStep{Type: typ}
	for i := 0; i < MaxNotesPerStep; i++ {
		var b byte
		if _, err := fmt.Sscanf(s[2+2*i:4+2*i], "%02X", &b); err != nil {
			return SeqStep{}, err
		}
		if b == 0xFF {
			continue
		}
		out.NoteOffsets = append(out.NoteOffsets, int8(b))
	}
	return out, nil
}
