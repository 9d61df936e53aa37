package sequencer

import (
	"fmt"
	"strings"

	"github.com/schollz/duovox/internal/registry"
)

// resetChunkValue is the persisted sentinel for an unused chunk slot.
const resetChunkValue = "FFFFFFFF FE 00 00"

// eventsPerChunk bounds how many encoded events one chunk parameter holds.
const eventsPerChunk = 10

// phraseEventType classifies one recorded phrase event.
type phraseEventType int

const (
	phraseNoteOn phraseEventType = iota
	phraseNoteOff
)

// phraseEvent is one quantised event in the phrase event stream, storing
// its tick offset from the top of the loop at PhrasePPQN resolution.
type phraseEvent struct {
	Tick     uint32
	Type     phraseEventType
	Note     uint8
	Velocity uint8
}

// phraseState holds all phrase-looper data.
type phraseState struct {
	state LooperSeqState

	ticks      uint32 // current position, 0..loopLen-1
	loopLen    uint32 // recorded loop length in PhrasePPQN ticks
	beatsPerBar int
	quantise    int // PhraseQuantisation position: ticks per quantum

	events []phraseEvent
	held   map[uint8]uint32 // note -> tick of its pending note-on, for overdub note-off pairing

	overdub bool
	dirty   bool // set on every event recorded; cleared once the save worker flushes

	chunkParams []*registry.Param
}

func (p *phraseState) init() {
	p.state = LooperIdle
	p.held = make(map[uint8]uint32)
	p.beatsPerBar = 4
	p.quantise = 4 // sixteenth-note default
}

func (p *phraseState) reset() {
	p.state = LooperIdle
	p.ticks = 0
	p.loopLen = 0
	p.events = nil
	p.held = make(map[uint8]uint32)
	p.overdub = false
	p.dirty = false
}

// quantumTicks returns the tick span of one quantisation unit: a whole
// note (384 ticks at 96 PPQN) divided by 2^quantise.
func (p *phraseState) quantumTicks() uint32 {
	q := p.quantise
	if q < 0 {
		q = 0
	}
	div := uint32(1) << uint(q)
	return 384 / div
}

func (p *phraseState) quantiseTick(t uint32) uint32 {
	q := p.quantumTicks()
	if q == 0 {
		return t
	}
	return ((t + q/2) / q) * q
}

// recordNoteOn appends a quantised note-on to the event stream. The very
// first note-on of a fresh (non-overdub) recording defines loop start;
// while the loop is still open (loopLen == 0) ticks accumulate freely.
func (p *phraseState) recordNoteOn(note, velocity uint8) {
	if p.state == LooperIdle {
		p.state = LooperStartPlaying
	}
	tick := p.quantiseTick(p.ticks)
	if p.loopLen > 0 {
		tick %= p.loopLen
	}
	p.events = append(p.events, phraseEvent{Tick: tick, Type: phraseNoteOn, Note: note, Velocity: velocity})
	p.held[note] = tick
	p.dirty = true
}

// recordNoteOff closes out the matching note-on, quantising to at least
// one quantum after its note-on so zero-length notes can't occur.
func (p *phraseState) recordNoteOff(note uint8) {
	onTick, ok := p.held[note]
	if !ok {
		return
	}
	delete(p.held, note)
	tick := p.quantiseTick(p.ticks)
	if p.loopLen > 0 {
		tick %= p.loopLen
	}
	if tick == onTick {
		tick += p.quantumTicks()
	}
	p.events = append(p.events, phraseEvent{Tick: tick, Type: phraseNoteOff, Note: note})
	p.dirty = true
}

// phraseTick advances the phrase looper by one 96-PPQN tick, firing any
// events scheduled at the current position and closing the loop the
// first time ticks wraps with recorded content.
func (s *Sequencer) phraseTick() {
	p := &s.phrase
	switch p.state {
	case LooperIdle:
		return
	case LooperStartPlaying:
		p.ticks = 0
		p.state = LooperPlaying
	case LooperPlaying:
		for _, ev := range p.events {
			if ev.Tick != p.ticks {
				continue
			}
			switch ev.Type {
			case phraseNoteOn:
				if s.sink != nil {
					s.sink.SeqNoteOn(ev.Note, ev.Velocity)
				}
			case phraseNoteOff:
				if s.sink != nil {
					s.sink.SeqNoteOff(ev.Note)
				}
			}
		}
		p.ticks++
		if p.loopLen == 0 && len(p.held) == 0 && len(p.events) > 0 {
			// First full pass without an explicit bar closed the loop at
			// the nearest bar boundary once recording has produced content.
			bar := uint32(p.beatsPerBar) * 96
			if p.ticks >= bar {
				p.loopLen = bar
			}
		}
		if p.loopLen > 0 && p.ticks >= p.loopLen {
			p.ticks = 0
		}
	}
}

// EncodeChunk renders one phrase event into the persisted
// "TTTTTTTT CH NN VV" hex chunk form, with channel 0xFE reserved as the
// end-of-phrase sentinel (handled by the caller, not emitted here).
func EncodeChunk(ev phraseEvent) string {
	ch := byte(0)
	if ev.Type == phraseNoteOff {
		ch = 1
	}
	return fmt.Sprintf("%08X %02X %02X %02X", ev.Tick, ch, ev.Note, ev.Velocity)
}

// DecodeChunk parses EncodeChunk's output. A channel byte of 0xFE marks
// end-of-phrase and decodes to the zero phraseEvent with ok=false.
func DecodeChunk(s string) (ev phraseEvent, ok bool, err error) {
	var tick uint32
	var ch, note, vel byte
	n, err := fmt.Sscanf(s, "%08X %02X %02X %02X", &tick, &ch, &note, &vel)
	if err != nil || n != 4 {
		return phraseEvent{}, false, fmt.Errorf("sequencer: malformed chunk %q", s)
	}
	if ch == 0xFE {
		return phraseEvent{}, false, nil
	}
	t := phraseNoteOn
	if ch == 1 {
		t = phraseNoteOff
	}
	return phraseEvent{Tick: tick, Type: t, Note: note, Velocity: vel}, true, nil
}

// chunkPhraseEvents packs evs into numChunks chunk strings, eventsPerChunk
// events per chunk, appending the end-of-phrase sentinel after the last
// recorded event (in its own chunk if the preceding one is full). Unused
// chunks are set to resetChunkValue.
func chunkPhraseEvents(evs []phraseEvent, loopLen uint32, numChunks int) []string {
	out := make([]string, numChunks)
	for i := range out {
		out[i] = resetChunkValue
	}
	idx, chunkIdx := 0, 0
	for idx < len(evs) && chunkIdx < numChunks {
		end := idx + eventsPerChunk
		if end > len(evs) {
			end = len(evs)
		}
		out[chunkIdx] = encodeChunkString(evs[idx:end])
		idx = end
		chunkIdx++
	}
	if loopLen == 0 {
		return out
	}
	sentinel := endOfPhraseChunk(loopLen)
	lastFull := chunkIdx > 0 && len(evs)%eventsPerChunk == 0
	switch {
	case chunkIdx > 0 && !lastFull:
		out[chunkIdx-1] += " " + sentinel
	case chunkIdx < numChunks:
		out[chunkIdx] = sentinel
	}
	return out
}

// endOfPhraseChunk encodes the end-of-phrase sentinel at the given tick.
func endOfPhraseChunk(tick uint32) string {
	return fmt.Sprintf("%08X FE 00 00", tick)
}

// encodeChunkString packs up to eventsPerChunk events into one chunk
// parameter's space-separated string form.
func encodeChunkString(evs []phraseEvent) string {
	parts := make([]string, len(evs))
	for i, ev := range evs {
		parts[i] = EncodeChunk(ev)
	}
	s := ""
	for i, part := range parts {
		if i > 0 {
			s += " "
		}
		s += part
	}
	return s
}

// decodeChunkFull unpacks one chunk parameter's string form back into its
// events plus its end-of-phrase sentinel, if it carries one. A reset chunk
// or an empty string decodes to no events and no sentinel.
func decodeChunkFull(s string) (evs []phraseEvent, endTick uint32, hasEnd bool) {
	if s == "" || s == resetChunkValue {
		return nil, 0, false
	}
	fields := strings.Fields(s)
	for i := 0; i+4 <= len(fields); i += 4 {
		entry := strings.Join(fields[i:i+4], " ")
		ev, ok, err := DecodeChunk(entry)
		if err != nil {
			continue
		}
		if !ok {
			var tick uint32
			var ch byte
			fmt.Sscanf(entry, "%08X %02X", &tick, &ch)
			if ch == 0xFE {
				endTick, hasEnd = tick, true
			}
			continue
		}
		evs = append(evs, ev)
	}
	return evs, endTick, hasEnd
}
