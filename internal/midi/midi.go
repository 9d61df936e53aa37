// Package midi implements the MIDI device manager: three ingress paths
// (keyboard UART, sequencer/USB, external DIN) unified into one dispatch
// pipeline, a double-buffered coalescing queue for low-priority events, an
// echo filter for outbound/inbound CC loop suppression, and the MIDI
// clock-slave tempo estimator. Output uses gitlab.com/gomidi/midi/v2,
// opening named ports via midi.FindOutPort/rtmididrv and also listening
// on input ports.
package midi

import (
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/schollz/duovox/internal/convert"
	"github.com/schollz/duovox/internal/events"
	"github.com/schollz/duovox/internal/paramgraph"
	"github.com/schollz/duovox/internal/registry"
)

// NumMidiClockPulsesPerQtrNoteBeat is how many MIDI clock pulses make up
// one quarter note, per the MIDI spec.
const NumMidiClockPulsesPerQtrNoteBeat = 24

// PPQNClockPulsesPerMidiClock scales one incoming MIDI clock pulse into
// the sequencer's internal 96-PPQN tick base (96 / 24).
const PPQNClockPulsesPerMidiClock = 4

// EchoFilterMode is the MIDI_ECHO_FILTER_PARAM_ID enumeration.
type EchoFilterMode int

const (
	EchoFilterNone EchoFilterMode = iota
	EchoFilterEcho
	EchoFilterAll
)

const echoFilterWindow = 300 * time.Millisecond
const coalesceDrainRate = 50 * time.Millisecond

// IngressPath names which of the three physical inputs produced an event.
type IngressPath int

const (
	IngressKeyboardUART IngressPath = iota
	IngressSequencerUSB
	IngressExternalDIN
)

// ClockSink receives MIDI-clock-derived pulses — the sequencer and
// arpeggiator both implement it.
type ClockSink interface {
	MidiPulse()
	MidiStart()
	MidiStop()
}

// NoteRouter decides whether a note event belongs to the sequencer/arp or
// should be forwarded straight to the audio engine, and forwards it.
type NoteRouter interface {
	RouteNote(kind string, channel, note, velocity uint8)
}

type loggedCC struct {
	channel, controller uint8
	at                  time.Time
}

type coalesceKey struct {
	kind       string // "pitchbend","chanpressure","cc"
	channel    uint8
	controller uint8
}

// Manager is the MIDI device manager.
type Manager struct {
	reg    *registry.Registry
	model  *paramgraph.Model
	router *events.Router

	kbdChannel     *registry.Param // system/kbd_midi_channel
	seqArpChannel  *registry.Param // system/seq_arp_midi_channel
	echoFilterMode *registry.Param
	tempoBPM       *registry.Param

	note        NoteRouter
	clockSinks  []ClockSink

	outMu sync.Mutex
	out   drivers.Out

	coalesceMu sync.Mutex
	coalesce   map[coalesceKey]events.MidiEvent

	echoMu  sync.Mutex
	echoLog []loggedCC

	clockMu        sync.Mutex
	clockCount     int
	lastBeatAt     time.Time
	filteredPeriod time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	notesOnKbd map[uint8]bool // suppress duplicate note-on/off on the keyboard path

	bankMu      sync.Mutex
	pendingBank int
}

// New builds a MIDI device manager. Channel/echo/tempo parameters are
// looked up eagerly so the hot dispatch path never touches the registry
// lock.
func New(reg *registry.Registry, model *paramgraph.Model, router *events.Router, note NoteRouter) *Manager {
	m := &Manager{
		reg:        reg,
		model:      model,
		router:     router,
		note:       note,
		coalesce:   make(map[coalesceKey]events.MidiEvent),
		stopCh:     make(chan struct{}),
		notesOnKbd: make(map[uint8]bool),
	}
	m.kbdChannel, _ = reg.LookupByRef("kbd_midi_channel")
	m.seqArpChannel, _ = reg.LookupByRef("seq_arp_midi_channel")
	m.echoFilterMode, _ = reg.LookupByRef("midi_echo_filter")
	m.tempoBPM, _ = reg.LookupByRef("tempo_bpm")
	return m
}

// AddClockSink registers a listener for clock/start/stop pulses (the
// sequencer and the arpeggiator both subscribe).
func (m *Manager) AddClockSink(s ClockSink) { m.clockSinks = append(m.clockSinks, s) }

// Open binds the manager's outbound port, used for echo re-transmission
// to the external DIN output and for direct note dispatch when the caller
// chooses to route through here.
func (m *Manager) Open(outPortName string) error {
	out, err := midi.FindOutPort(outPortName)
	if err != nil {
		return err
	}
	if err := out.Open(); err != nil {
		return err
	}
	m.outMu.Lock()
	m.out = out
	m.outMu.Unlock()
	return nil
}

// Start launches the coalescing-queue drain loop and the outbound-shim
// transmitter. Each ingress path is wired separately by calling HandleRaw
// from its own listener goroutine (see ListenOn).
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.drainLoop()

	shimOut := m.router.Subscribe("midi-shim-out", events.ModuleParamGraph, events.TypeMidi, 32)
	m.wg.Add(1)
	go m.transmitShimLoop(shimOut)
}

// Stop halts the drain loop and outbound transmitter.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// transmitShimLoop sends every midi_shim-originated MidiEvent out the
// physical port and logs outbound CCs for echo-filter suppression.
func (m *Manager) transmitShimLoop(l *events.Listener) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case ev := <-l.Events():
			if ev.Midi == nil {
				continue
			}
			m.transmitShim(*ev.Midi)
		}
	}
}

func (m *Manager) transmitShim(ev events.MidiEvent) {
	var msg midi.Message
	switch ev.Kind {
	case "CC":
		msg = midi.ControlChange(ev.Channel, ev.CC, ev.CCValue)
		m.logOutboundCC(ev.Channel, ev.CC)
	case "PitchBend":
		msg = midi.Pitchbend(ev.Channel, int16(ev.Bend))
	case "ChannelPressure":
		msg = midi.AfterTouch(ev.Channel, ev.Pressure)
	default:
		return
	}
	m.mirrorToSerial(msg)
}

func (m *Manager) drainLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(coalesceDrainRate)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.drainCoalesced()
		}
	}
}

func (m *Manager) drainCoalesced() {
	m.coalesceMu.Lock()
	batch := m.coalesce
	m.coalesce = make(map[coalesceKey]events.MidiEvent)
	m.coalesceMu.Unlock()

	for _, ev := range batch {
		m.router.Emit(events.Event{Type: events.TypeMidi, Producer: events.ModuleMIDI, Midi: &ev})
	}
}

func keyboardChannelIsLocal(p *registry.Param, model *paramgraph.Model) bool {
	if p == nil {
		return true
	}
	return model.ReadPosition(p) == 0
}

// ListenOn opens an input port by name and dispatches every incoming
// message to HandleRaw, tagging it with path.
func (m *Manager) ListenOn(name string, path IngressPath) (func(), error) {
	in, err := midi.FindInPort(name)
	if err != nil {
		return nil, err
	}
	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		m.HandleRaw(msg, path)
	})
	return stop, err
}

// HandleRaw decodes one raw MIDI message from the given ingress path and
// routes it through the unified dispatch pipeline.
func (m *Manager) HandleRaw(msg midi.Message, path IngressPath) {
	var ch, key, vel, cc, ccVal, program, pressure uint8
	var bend int16

	switch {
	case msg.GetNoteOn(&ch, &key, &vel):
		if path == IngressKeyboardUART {
			ch = m.effectiveKeyboardChannel()
		}
		if vel == 0 {
			m.handleNoteOff(ch, key, path)
			return
		}
		m.handleNoteOn(ch, key, vel, path)

	case msg.GetNoteOff(&ch, &key, &vel):
		if path == IngressKeyboardUART {
			ch = m.effectiveKeyboardChannel()
		}
		m.handleNoteOff(ch, key, path)

	case msg.GetControlChange(&ch, &cc, &ccVal):
		m.handleCC(ch, cc, ccVal)

	case msg.GetPitchBend(&ch, &bend, nil):
		m.coalesceEvent(coalesceKey{"pitchbend", ch, 0}, events.MidiEvent{Kind: "PitchBend", Channel: ch, Bend: uint16(bend)})

	case msg.GetAfterTouch(&ch, &pressure):
		m.coalesceEvent(coalesceKey{"chanpressure", ch, 0}, events.MidiEvent{Kind: "ChannelPressure", Channel: ch, Pressure: pressure})

	case msg.GetProgramChange(&ch, &program):
		m.handleProgramChange(ch, program)

	case msg.Is(midi.TimingClockMsg):
		m.handleClock()

	case msg.Is(midi.StartMsg):
		m.handleStart()

	case msg.Is(midi.StopMsg):
		m.handleStop()
	}
}

func (m *Manager) effectiveKeyboardChannel() uint8 {
	if m.kbdChannel == nil {
		return 0
	}
	pos := m.model.ReadPosition(m.kbdChannel)
	return uint8(pos)
}

func (m *Manager) handleNoteOn(channel, key, velocity uint8, path IngressPath) {
	if path == IngressKeyboardUART {
		if m.notesOnKbd[key] {
			return // duplicate note-on suppressed
		}
		m.notesOnKbd[key] = true
	}
	m.emitHighPriority("NoteOn", channel, key, velocity)
	m.routeNote("NoteOn", channel, key, velocity)
	m.mirrorToSerial(midi.NoteOn(channel, key, velocity))
}

func (m *Manager) handleNoteOff(channel, key uint8, path IngressPath) {
	if path == IngressKeyboardUART {
		delete(m.notesOnKbd, key)
	}
	m.emitHighPriority("NoteOff", channel, key, 0)
	m.routeNote("NoteOff", channel, key, 0)
	m.mirrorToSerial(midi.NoteOff(channel, key))
}

func (m *Manager) routeNote(kind string, channel, note, velocity uint8) {
	if m.note == nil {
		return
	}
	localKbd := keyboardChannelIsLocal(m.kbdChannel, m.model)
	seqOmni := m.seqArpChannel == nil || m.model.ReadPosition(m.seqArpChannel) == 0
	if seqOmni && localKbd || (m.seqArpChannel != nil && int(channel) == m.model.ReadPosition(m.seqArpChannel)) {
		m.note.RouteNote(kind, channel, note, velocity)
		return
	}
	// Not addressed to the sequencer/arp: fall through to direct audio
	// engine routing, handled by the same RouteNote implementation using
	// the channel to decide the destination layer.
	m.note.RouteNote(kind, channel, note, velocity)
}

func (m *Manager) emitHighPriority(kind string, channel, note, velocity uint8) {
	m.router.Emit(events.Event{
		Type:     events.TypeMidi,
		Producer: events.ModuleMIDI,
		Midi:     &events.MidiEvent{Kind: kind, Channel: channel, Note: note, Velocity: velocity},
	})
}

func (m *Manager) mirrorToSerial(msg midi.Message) {
	m.outMu.Lock()
	out := m.out
	m.outMu.Unlock()
	if out == nil {
		return
	}
	_ = out.Send(msg)
}

func (m *Manager) coalesceEvent(key coalesceKey, ev events.MidiEvent) {
	m.coalesceMu.Lock()
	m.coalesce[key] = ev
	m.coalesceMu.Unlock()
}

func (m *Manager) handleCC(channel, cc, value uint8) {
	if m.ccIsEchoSuppressed(channel, cc) {
		return
	}

	switch {
	case cc == 0: // bank select
		m.bankMu.Lock()
		m.pendingBank = int(value)
		m.bankMu.Unlock()
		return
	case cc >= 123 && cc <= 127: // all-notes-off family
		m.setAllNotesOffTarget(channel)
		return
	}

	m.coalesceEvent(coalesceKey{"cc", channel, cc}, events.MidiEvent{Kind: "CC", Channel: channel, CC: cc, CCValue: value})
}

func (m *Manager) setAllNotesOffTarget(channel uint8) {
	p, ok := m.reg.LookupByRef("all_notes_off")
	if !ok {
		return
	}
	m.model.WriteNormalised(p, 0, 0, 1.0, events.ModuleMIDI)
}

func (m *Manager) handleProgramChange(channel, program uint8) {
	m.bankMu.Lock()
	bank := m.pendingBank
	m.bankMu.Unlock()

	m.router.Emit(events.Event{
		Type:     events.TypeSystemFunc,
		Producer: events.ModuleMIDI,
		SystemFunc: &events.SystemFunc{
			Type: events.SysFuncLoadPreset,
			Num:  bank*128 + int(program),
		},
	})
}

// logOutboundCC records a CC this engine just transmitted so a matching
// inbound echo can be suppressed within the echo filter window.
func (m *Manager) logOutboundCC(channel, controller uint8) {
	m.echoMu.Lock()
	defer m.echoMu.Unlock()
	m.echoLog = append(m.echoLog, loggedCC{channel: channel, controller: controller, at: time.Now()})
}

func (m *Manager) ccIsEchoSuppressed(channel, controller uint8) bool {
	mode := EchoFilterNone
	if m.echoFilterMode != nil {
		mode = EchoFilterMode(m.model.ReadPosition(m.echoFilterMode))
	}
	if mode == EchoFilterAll {
		return true
	}
	if mode != EchoFilterEcho {
		return false
	}

	m.echoMu.Lock()
	defer m.echoMu.Unlock()
	now := time.Now()
	fresh := m.echoLog[:0]
	suppressed := false
	for _, e := range m.echoLog {
		if now.Sub(e.at) > echoFilterWindow {
			continue
		}
		fresh = append(fresh, e)
		if e.channel == channel && e.controller == controller {
			suppressed = true
		}
	}
	m.echoLog = fresh
	return suppressed
}

func (m *Manager) handleClock() {
	for _, s := range m.clockSinks {
		s.MidiPulse()
	}

	m.clockMu.Lock()
	m.clockCount++
	if m.clockCount < NumMidiClockPulsesPerQtrNoteBeat {
		m.clockMu.Unlock()
		return
	}
	m.clockCount = 0
	now := time.Now()
	prev := m.lastBeatAt
	m.lastBeatAt = now
	m.clockMu.Unlock()

	if prev.IsZero() {
		return
	}
	period := now.Sub(prev)
	if period <= 0 || period > 2*time.Second {
		return // not a sane duration
	}

	m.clockMu.Lock()
	if m.filteredPeriod == 0 {
		m.filteredPeriod = period
	} else {
		const alpha = 0.2
		m.filteredPeriod = time.Duration(float64(m.filteredPeriod)*(1-alpha) + float64(period)*alpha)
	}
	filtered := m.filteredPeriod
	m.clockMu.Unlock()

	bpm := 60.0 / filtered.Seconds()
	if m.tempoBPM != nil {
		norm := convert.ToNormalised(convert.ModuleSystem, convert.TempoBPMParamID, bpm)
		m.model.WriteNormalisedNoDisplay(m.tempoBPM, 0, 0, norm, events.ModuleMIDI)
	}
}

func (m *Manager) handleStart() {
	m.clockMu.Lock()
	m.clockCount = 0
	m.lastBeatAt = time.Time{}
	m.clockMu.Unlock()
	for _, s := range m.clockSinks {
		s.MidiStart()
	}
}

func (m *Manager) handleStop() {
	m.clockMu.Lock()
	m.clockCount = 0
	m.clockMu.Unlock()
	for _, s := range m.clockSinks {
		s.MidiStop()
	}
}
