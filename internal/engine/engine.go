// Package engine wires every manager into one running instrument: the
// parameter registry and graph, the event router, the file/preset
// manager, the MIDI device manager, the sequencer, the arpeggiator, the
// DAW and GUI bridges, and the control-surface bridge. It constructs every
// collaborator once, in dependency order, and holds the goroutines that
// keep them running — several independently-started managers sharing a
// registry and router rather than one monolithic struct's fields.
package engine

import (
	"fmt"
	"log"

	"github.com/schollz/duovox/internal/arp"
	"github.com/schollz/duovox/internal/dawbridge"
	"github.com/schollz/duovox/internal/events"
	"github.com/schollz/duovox/internal/guibridge"
	"github.com/schollz/duovox/internal/guiterm"
	"github.com/schollz/duovox/internal/midi"
	"github.com/schollz/duovox/internal/paramgraph"
	"github.com/schollz/duovox/internal/preset"
	"github.com/schollz/duovox/internal/registry"
	"github.com/schollz/duovox/internal/sequencer"
	"github.com/schollz/duovox/internal/surface"
)

// numPhraseChunkParams bounds how many persisted phrase-event chunks the
// sequencer's phrase looper can store; chosen as a plausible few bars at
// the loop's finest quantisation rather than derived from any spec value.
const numPhraseChunkParams = 64

// Config holds everything New needs that isn't itself a built-in default:
// where preset/config files live, which MIDI ports to open, and where the
// DAW-side DSP engine is listening for OSC.
type Config struct {
	PresetDir string

	KeyboardPortName string // empty disables the keyboard ingress path
	SequencerPortName string // empty disables the sequencer/USB ingress path
	ExternalPortName  string // empty disables the external DIN ingress path
	OutPortName       string // empty disables echo/mirror output

	DawHost string
	DawPort int

	GUIQueueCapacity int

	// ReferenceTempoWAV optionally seeds the default tempo from a WAV
	// file's duration the first time the instrument boots with no saved
	// preset; see internal/tempoestimate.
	ReferenceTempoWAV string
}

func (c Config) withDefaults() Config {
	if c.DawHost == "" {
		c.DawHost = "127.0.0.1"
	}
	if c.DawPort == 0 {
		c.DawPort = 57120
	}
	if c.GUIQueueCapacity == 0 {
		c.GUIQueueCapacity = 64
	}
	return c
}

// Engine owns every manager's instance for the process lifetime.
type Engine struct {
	cfg Config

	Registry *registry.Registry
	Model    *paramgraph.Model
	Router   *events.Router

	Preset  *preset.Manager
	Midi    *midi.Manager
	Seq     *sequencer.Sequencer
	Arp     *arp.Arp
	Daw     *dawbridge.Bridge
	GUI     *guibridge.Bridge
	Term    *guiterm.Model
	Surface *surface.Bridge

	dawListener    *events.Listener
	dirtyListener  *events.Listener
	reloadListener *events.Listener
	stop           chan struct{}
}

// noteSink fans sequencer/arp-generated notes back out onto the event bus
// as outgoing MIDI events, the way the audio DSP engine (out of scope
// here) would consume them for playback.
type noteSink struct {
	router   *events.Router
	producer events.Module
}

func (s noteSink) emit(kind string, note, velocity uint8) {
	s.router.Emit(events.Event{
		Type:     events.TypeMidi,
		Producer: s.producer,
		Midi:     &events.MidiEvent{Kind: kind, Note: note, Velocity: velocity},
	})
}

func (s noteSink) SeqNoteOn(note, velocity uint8)  { s.emit("NoteOn", note, velocity) }
func (s noteSink) SeqNoteOff(note uint8)           { s.emit("NoteOff", note, 0) }
func (s noteSink) ArpNoteOn(note, velocity uint8)  { s.emit("NoteOn", note, velocity) }
func (s noteSink) ArpNoteOff(note uint8)           { s.emit("NoteOff", note, 0) }

// dispatcher implements midi.NoteRouter: it decides, per incoming note,
// whether the sequencer (while recording or running) or the arpeggiator
// (while enabled) should own the note, falling through to a direct
// outgoing MIDI event for whatever's listening downstream otherwise.
type dispatcher struct {
	model *paramgraph.Model
	seq   *sequencer.Sequencer
	arp   *arp.Arp

	router      *events.Router
	seqRec      *registry.Param
	seqRun      *registry.Param
	arpEnable   *registry.Param
}

func (d *dispatcher) RouteNote(kind string, channel, note, velocity uint8) {
	seqActive := d.seqRec != nil && d.model.ReadNormalised(d.seqRec, 0, 0) >= 0.5
	seqRunning := d.seqRun != nil && d.model.ReadNormalised(d.seqRun, 0, 0) >= 0.5
	arpOn := d.arpEnable != nil && d.model.ReadNormalised(d.arpEnable, 0, 0) >= 0.5

	switch {
	case seqActive || seqRunning:
		if kind == "NoteOn" {
			d.seq.NoteOn(note, velocity)
		} else {
			d.seq.NoteOff(note)
		}
	case arpOn:
		if kind == "NoteOn" {
			d.arp.NoteOn(note, velocity)
		} else {
			d.arp.NoteOff(note)
		}
	default:
		d.router.Emit(events.Event{
			Type:     events.TypeMidi,
			Producer: events.ModuleMIDI,
			Midi:     &events.MidiEvent{Kind: kind, Channel: channel, Note: note, Velocity: velocity},
		})
	}
}

// New constructs every manager and wires them together. It does not open
// any MIDI ports or start any goroutines — call Start for that.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	reg := registry.New()
	router := events.NewRouter()
	model := paramgraph.New(reg, router)

	if err := registerParams(reg); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, Registry: reg, Model: model, Router: router}

	e.Preset = preset.NewManager(cfg.PresetDir, reg, model, router)
	e.Preset.ReferenceTempoWAV = cfg.ReferenceTempoWAV

	d := &dispatcher{model: model, router: router}
	d.seqRec, _ = reg.LookupByRef("seq_rec")
	d.seqRun, _ = reg.LookupByRef("seq_run")
	d.arpEnable, _ = reg.LookupByRef("arp_enable")

	e.Midi = midi.New(reg, model, router, d)

	e.Seq = sequencer.New(reg, model, router, noteSink{router: router, producer: events.ModuleSeq})
	e.Arp = arp.New(reg, model, router, noteSink{router: router, producer: events.ModuleArp})
	d.seq = e.Seq
	d.arp = e.Arp

	e.Seq.SetChunkParams(registerPhraseChunks(reg))

	e.Midi.AddClockSink(e.Seq)
	e.Midi.AddClockSink(arpClockSink{e.Arp})

	e.Daw = dawbridge.New(cfg.DawHost, cfg.DawPort, model)
	e.GUI = guibridge.New(reg, model, router, cfg.GUIQueueCapacity)
	e.Term = guiterm.New(e.GUI)
	e.Surface = surface.New(reg, model, router)

	return e, nil
}

// registerPhraseChunks registers the phrase looper's persisted event-chunk
// string parameters, in storage order.
func registerPhraseChunks(reg *registry.Registry) []*registry.Param {
	chunks := make([]*registry.Param, numPhraseChunkParams)
	for i := 0; i < numPhraseChunkParams; i++ {
		p, err := reg.Register(registry.ModuleSeq, 100+i, fmt.Sprintf("seq/phrase/chunk_%02d", i), registry.DataString, registry.ScopePresetCommon)
		if err != nil {
			log.Printf("engine: phrase chunk %d already registered: %v", i, err)
			continue
		}
		p.Flags.SeqChunk = true
		p.Flags.Preset = true
		chunks[i] = p
	}
	return chunks
}

// arpClockSink adapts *arp.Arp's Pulse/Reset pair to midi.ClockSink's
// Pulse/Start/Stop shape; the arpeggiator has no distinct start behaviour
// beyond resuming on the next pulse.
type arpClockSink struct{ a *arp.Arp }

func (s arpClockSink) MidiPulse() { s.a.Pulse() }
func (s arpClockSink) MidiStart() {}
func (s arpClockSink) MidiStop()  { s.a.Reset() }

// Start opens the configured MIDI ports, runs the preset manager's boot
// sequence, and launches every manager's background goroutines. Port
// names left empty in Config are skipped rather than treated as errors,
// so the engine still runs headless (e.g. under test, or with only a
// DAW/OSC connection and no physical MIDI hardware attached).
func (e *Engine) Start() error {
	if err := e.Preset.Startup(); err != nil {
		return fmt.Errorf("engine: preset startup: %w", err)
	}

	if e.cfg.OutPortName != "" {
		if err := e.Midi.Open(e.cfg.OutPortName); err != nil {
			log.Printf("engine: midi out port %q unavailable: %v", e.cfg.OutPortName, err)
		}
	}
	e.Midi.Start()

	for name, path := range map[string]midi.IngressPath{
		e.cfg.KeyboardPortName:  midi.IngressKeyboardUART,
		e.cfg.SequencerPortName: midi.IngressSequencerUSB,
		e.cfg.ExternalPortName:  midi.IngressExternalDIN,
	} {
		if name == "" {
			continue
		}
		if _, err := e.Midi.ListenOn(name, path); err != nil {
			log.Printf("engine: midi in port %q unavailable: %v", name, err)
		}
	}

	e.GUI.Start()
	e.Surface.Start()
	e.Seq.Start()

	e.dawListener = e.Router.Subscribe("engine-daw-forward", events.ModuleParamGraph, events.TypeParamChange, 128)
	e.dirtyListener = e.Router.Subscribe("engine-dirty-tracker", events.ModuleParamGraph, events.TypeParamChange, 128)
	e.reloadListener = e.Router.Subscribe("engine-seq-reload", events.ModulePreset, events.TypeReloadPresets, 8)
	e.stop = make(chan struct{})
	go e.forwardDawParams()
	go e.trackDirtyParams()
	go e.watchPresetReload()
	go e.dispatchSystemFuncs()

	return nil
}

// Stop ends every manager's background goroutines. MIDI ports opened by
// Start are not explicitly closed — the process exiting reclaims them.
func (e *Engine) Stop() {
	if e.stop != nil {
		close(e.stop)
	}
	e.Midi.Stop()
	e.GUI.Stop()
	e.Surface.Stop()
	e.Seq.Stop()
}

// watchPresetReload reloads the phrase looper's event stream from its
// chunk parameters whenever a preset (re)load lands, so a phrase recorded
// in a previous session resumes playback without needing RUN to be
// toggled twice.
func (e *Engine) watchPresetReload() {
	for {
		select {
		case <-e.stop:
			return
		case _, ok := <-e.reloadListener.Events():
			if !ok {
				return
			}
			e.Seq.LoadPhraseFromChunks()
		}
	}
}

// forwardDawParams relays every DAW-scoped parameter change out over OSC,
// the way the control surface and GUI bridges each relay the same
// ParamChange stream to their own destinations.
func (e *Engine) forwardDawParams() {
	for {
		select {
		case <-e.stop:
			return
		case ev, ok := <-e.dawListener.Events():
			if !ok {
				return
			}
			p, found := e.Registry.LookupByPath(ev.ParamChange.ParamRef)
			if !found || p.Module != registry.ModuleDAW {
				continue
			}
			if err := e.Daw.SetParam(p); err != nil {
				log.Printf("engine: daw bridge send failed for %s: %v", p.Path, err)
			}
		}
	}
}

// trackDirtyParams restarts the preset manager's debounced save timers on
// every parameter write, regardless of origin (MIDI CC, a knob, the GUI, or
// an internal mapping). A PresetCommon- or Layer-scoped write restarts the
// preset-document timer; a Global-scoped write restarts the global-params
// timer; writes of any other scope restart neither.
func (e *Engine) trackDirtyParams() {
	for {
		select {
		case <-e.stop:
			return
		case ev, ok := <-e.dirtyListener.Events():
			if !ok {
				return
			}
			p, found := e.Registry.LookupByPath(ev.ParamChange.ParamRef)
			if !found {
				continue
			}
			switch p.Scope {
			case registry.ScopeGlobal:
				e.Preset.MarkGlobalDirty()
			case registry.ScopePresetCommon, registry.ScopeLayer:
				e.Preset.MarkDirty()
			}
		}
	}
}

// dispatchSystemFuncs subscribes to every SystemFunc-producing source and
// invokes the matching preset/sequencer operation. Commands this engine
// has no direct single-parameter mapping for (load a specific layer or
// sound document, which need a document the event itself doesn't carry)
// are left to whatever higher-level caller drives LoadLayer/LoadSound
// directly — logged here rather than silently dropped.
func (e *Engine) dispatchSystemFuncs() {
	sources := []events.Module{events.ModuleParamGraph, events.ModuleMIDI, events.ModulePreset, events.ModuleSeq}
	listeners := make([]*events.Listener, len(sources))
	cases := make(chan events.Event)
	for i, src := range sources {
		listeners[i] = e.Router.Subscribe(fmt.Sprintf("engine-sysfunc-%s", src), src, events.TypeSystemFunc, 32)
		go func(l *events.Listener) {
			for ev := range l.Events() {
				select {
				case cases <- ev:
				case <-e.stop:
					return
				}
			}
		}(listeners[i])
	}

	for {
		select {
		case <-e.stop:
			return
		case ev := <-cases:
			e.handleSystemFunc(ev.SystemFunc)
		}
	}
}

func (e *Engine) handleSystemFunc(f *events.SystemFunc) {
	if f == nil {
		return
	}
	switch f.Type {
	case events.SysFuncLoadPreset:
		if f.PresetID == "" {
			log.Printf("engine: load-preset by bank/program number (%d) needs a patch-directory lookup not wired here", f.Num)
			return
		}
		if err := e.Preset.LoadPreset(f.PresetID, e.cfg.PresetDir); err != nil {
			log.Printf("engine: load preset %q failed: %v", f.PresetID, err)
		}
	case events.SysFuncSavePreset:
		e.Preset.MarkDirty()
	case events.SysFuncInitPreset:
		if err := e.Preset.InitPreset([2]string{"D0", "D1"}); err != nil {
			log.Printf("engine: init preset failed: %v", err)
		}
	case events.SysFuncToggleLayerState:
		morphTag := fmt.Sprintf("morph_d%d", f.SrcLayer)
		morph, ok := e.Registry.LookupByRef(morphTag)
		if !ok {
			log.Printf("engine: toggle-patch-state: no morph param for layer %d", f.SrcLayer)
			return
		}
		e.Preset.TogglePatchState(f.SrcLayer, f.Value >= 0.5, morph)
	case events.SysFuncRestorePrevious:
		if err := e.Preset.RestorePrevious(); err != nil {
			log.Printf("engine: restore previous failed: %v", err)
		}
	case events.SysFuncUndoLastLoad:
		if err := e.Preset.UndoLastLoad(e.cfg.PresetDir); err != nil {
			log.Printf("engine: undo last load failed: %v", err)
		}
	case events.SysFuncRenameBank:
		if err := e.Preset.RenameBank(f.StrValue, f.StrValue2); err != nil {
			log.Printf("engine: rename bank failed: %v", err)
		}
	case events.SysFuncRenamePatch:
		if err := e.Preset.RenamePatch(f.PresetID, f.StrValue, f.StrValue2); err != nil {
			log.Printf("engine: rename patch failed: %v", err)
		}
	case events.SysFuncSeqRec, events.SysFuncSeqRun, events.SysFuncSeqReset:
		// Emitted BY the sequencer to announce its own state transitions;
		// ignored here. The GUI bridge's SystemFunc listener does not see
		// them either: it subscribes to parameter-graph events only.
	case events.SysFuncMultifnSwitch:
		e.Seq.MultifnSwitch(f.Num)
	case events.SysFuncLoadLayer, events.SysFuncLoadSound:
		log.Printf("engine: %v needs a source document the event doesn't carry; wire LoadLayer/LoadSound directly from the GUI/bank-browser flow", f.Type)
	case events.SysFuncVcfCutoffLink, events.SysFuncVcfLpSlope, events.SysFuncBankRenamed, events.SysFuncPatchRenamed:
		// Informational — already applied at the source; nothing further
		// to do downstream of the event bus today.
	default:
		log.Printf("engine: unhandled system function %v", f.Type)
	}
}
