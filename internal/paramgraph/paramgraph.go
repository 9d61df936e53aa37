// Package paramgraph implements parameter value read/write semantics on
// top of a registry.Registry: clamped reads/writes of the normalised,
// human-readable, positional, and string forms of a value; the mapping
// fanout that propagates one write across a parameter's peer set; and the
// per-layer morph interpolator that blends a PatchState parameter's A and
// B endpoints.
package paramgraph

import (
	"math"
	"sync"

	"github.com/schollz/duovox/internal/convert"
	"github.com/schollz/duovox/internal/events"
	"github.com/schollz/duovox/internal/registry"
)

// Model is the shared parameter-value engine. One Model wraps one
// Registry and one Router and is used by every manager that reads or
// writes parameter values.
type Model struct {
	reg    *registry.Registry
	router *events.Router

	mu          sync.Mutex
	morph       [2]float64 // morph position per layer, 0=A .. 1=B
	morphLocked [2]bool
}

// New builds a Model over an already-populated registry.
func New(reg *registry.Registry, router *events.Router) *Model {
	return &Model{reg: reg, router: router}
}

// LockMorph suspends the morph interpolator for a layer while a preset or
// sound load is in flight, so state writes move only the endpoint and
// never the blended output mid-load.
func (m *Model) LockMorph(layer int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.morphLocked[layer] = true
}

// UnlockMorph re-enables the morph interpolator for a layer.
func (m *Model) UnlockMorph(layer int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.morphLocked[layer] = false
}

// MorphValue returns a layer's current morph position.
func (m *Model) MorphValue(layer int) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.morph[layer]
}

// SetMorphValue writes a layer's morph position. It does not itself emit
// anything, and WriteNormalised does not call it: writing a morph
// parameter through WriteNormalised stores only that parameter's cell, so
// callers that move the morph position call this as well.
func (m *Model) SetMorphValue(layer int, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.morph[layer] = clamp01(v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// EffectiveValue returns the value a PatchState parameter should present
// downstream: lerp(A, B, morph) while the morph lock is released, or the
// state-A cell's raw value while locked. Any other scope returns its
// state-A cell unchanged.
func (m *Model) EffectiveValue(p *registry.Param, layer int) float64 {
	m.mu.Lock()
	locked := m.morphLocked[layer]
	morph := m.morph[layer]
	m.mu.Unlock()

	if p.Scope != registry.ScopePatchState || locked {
		return p.Value(layer, 0)
	}
	a := p.Value(layer, 0)
	b := p.Value(layer, 1)
	return a + (b-a)*morph
}

// ReadNormalised returns the raw stored normalised value of a cell.
func (m *Model) ReadNormalised(p *registry.Param, layer, state int) float64 {
	return p.Value(layer, state)
}

// ReadHuman returns the human-readable (physical unit) value of a cell.
func (m *Model) ReadHuman(p *registry.Param, layer, state int) float64 {
	n := p.Value(layer, state)
	lo, hi := p.Display.MinValue, p.Display.MaxValue
	if lo == 0 && hi == 0 {
		return n
	}
	return lo + n*(hi-lo)
}

// ReadPosition returns the quantised integer position of an enumerated
// parameter (0..NumPositions-1).
func (m *Model) ReadPosition(p *registry.Param) int {
	if p.Display.NumPositions <= 1 {
		return 0
	}
	n := p.Value(0, 0)
	pos := int(math.Round(n * float64(p.Display.NumPositions-1)))
	if pos < 0 {
		pos = 0
	}
	if pos > p.Display.NumPositions-1 {
		pos = p.Display.NumPositions - 1
	}
	return pos
}

// ReadString returns the stored string form of a cell.
func (m *Model) ReadString(p *registry.Param, layer, state int) string {
	return p.Str(layer, state)
}

// WriteNormalised clamps and stores newValue into (layer, state), emits a
// ParamChange with DisplayFlag set, and propagates mapping fanout to every
// peer of p. fromModule identifies the originating subsystem for
// filtering/logging purposes.
func (m *Model) WriteNormalised(p *registry.Param, layer, state int, newValue float64, fromModule events.Module) {
	m.writeNormalised(p, layer, state, newValue, fromModule, true)
}

// WriteNormalisedNoDisplay is WriteNormalised with the emitted ParamChange's
// DisplayFlag cleared, for writes that should update state and still fan
// out to mapped peers without refreshing any on-screen/haptic display —
// the MIDI clock slave's running tempo estimate being the motivating case.
func (m *Model) WriteNormalisedNoDisplay(p *registry.Param, layer, state int, newValue float64, fromModule events.Module) {
	m.writeNormalised(p, layer, state, newValue, fromModule, false)
}

func (m *Model) writeNormalised(p *registry.Param, layer, state int, newValue float64, fromModule events.Module, display bool) {
	old := p.Value(layer, state)
	clamped := p.SetValue(layer, state, newValue)
	delta := clamped - old

	m.emitParamChange(p, fromModule, display)
	if delta != 0 {
		cause := map[registry.Handle]bool{p.Handle: true}
		m.fanout(p, layer, state, delta, cause, fromModule)
	}
}

// WritePosition sets an enumerated parameter from its integer position.
func (m *Model) WritePosition(p *registry.Param, pos int, fromModule events.Module) {
	if p.Display.NumPositions <= 1 {
		return
	}
	n := float64(pos) / float64(p.Display.NumPositions-1)
	m.WriteNormalised(p, 0, 0, n, fromModule)
}

// WriteString stores a string value directly; parameters whose DataType is
// DataString do not participate in numeric mapping fanout, but still emit
// a ParamChange so listeners (e.g. the sequencer's chunk storage) observe
// the mutation.
func (m *Model) WriteString(p *registry.Param, layer, state int, s string, fromModule events.Module) {
	p.SetStr(layer, state, s)
	m.emitParamChange(p, fromModule, true)
}

// SetValueFromParam copies src's normalised value into dst, at the same
// (layer, state) pair, re-quantising through the position if dst is an
// enumerated parameter.
func (m *Model) SetValueFromParam(dst, src *registry.Param, layer, state int, fromModule events.Module) {
	v := src.Value(layer, state)
	if dst.Display.NumPositions > 1 {
		pos := int(math.Round(v * float64(dst.Display.NumPositions-1)))
		m.WritePosition(dst, pos, fromModule)
		return
	}
	m.WriteNormalised(dst, layer, state, v, fromModule)
}

func (m *Model) emitParamChange(p *registry.Param, fromModule events.Module, display bool) {
	m.router.Emit(events.Event{
		Type:     events.TypeParamChange,
		Producer: events.ModuleParamGraph,
		ParamChange: &events.ParamChange{
			ParamRef:    p.Path,
			FromModule:  fromModule,
			LayerMask:   p.LayerMask,
			DisplayFlag: display,
		},
	})
}

// fanout implements the mapping fanout algorithm: for every peer of p not
// already in cause, classify the peer by module/scope and either
// translate the write into an outbound MIDI/system-function emission, or
// apply it (differentially, for linked-params pairs) and recurse.
func (m *Model) fanout(p *registry.Param, layer, state int, delta float64, cause map[registry.Handle]bool, fromModule events.Module) {
	for _, peerHandle := range p.Mappings() {
		if cause[peerHandle] {
			continue
		}
		peer, ok := m.reg.LookupByHandle(peerHandle)
		if !ok {
			continue
		}

		nextCause := make(map[registry.Handle]bool, len(cause)+1)
		for h := range cause {
			nextCause[h] = true
		}
		nextCause[p.Handle] = true

		if p.Control.LinkedParam && peer.Control.LinkedParam {
			if !p.Control.LinkedParamEnable && !peer.Control.LinkedParamEnable {
				continue
			}
			applied := peer.SetValue(layer, state, peer.Value(layer, state)+delta)
			m.emitParamChange(peer, fromModule, true)
			m.fanout(peer, layer, state, applied-peer.Value(layer, state)+delta, nextCause, fromModule)
			continue
		}

		switch {
		case peer.MidiShim != nil:
			m.emitMidiShim(peer, p.Value(layer, state), fromModule)
			// MIDI shim targets never recurse further (spec: classify, then
			// translate to an outbound message, no onward propagation).

		case peer.SysFunc != nil:
			m.router.Emit(events.Event{
				Type:     events.TypeSystemFunc,
				Producer: events.ModuleParamGraph,
				SystemFunc: &events.SystemFunc{
					Type:  events.SystemFuncType(peer.SysFunc.FuncType),
					Value: peer.Value(layer, state),
				},
			})
			// System-function targets do not recurse either.

		case peer.Control.ControlType != registry.ControlNone:
			peer.SetValue(layer, state, p.Value(layer, state))
			m.router.Emit(events.Event{
				Type:     events.TypeParamChange,
				Producer: events.ModuleParamGraph,
				ParamChange: &events.ParamChange{
					ParamRef:    peer.Path,
					FromModule:  fromModule,
					DisplayFlag: false,
				},
			})
			m.fanout(peer, layer, state, delta, nextCause, fromModule)

		case peer.Scope == registry.ScopeGlobal:
			peer.SetValue(0, 0, peer.Value(0, 0)+delta)
			m.emitParamChange(peer, fromModule, true)
			m.fanout(peer, 0, 0, delta, nextCause, fromModule)

		default: // Layer, PatchCommon, PatchState
			mask := peer.LayerMask
			if mask == 0 {
				mask = 1 << uint(layer)
			}
			for l := 0; l < 2; l++ {
				if mask&(1<<uint(l)) == 0 {
					continue
				}
				peer.SetValue(l, state, peer.Value(l, state)+delta)
			}
			m.emitParamChange(peer, fromModule, true)
			m.fanout(peer, layer, state, delta, nextCause, fromModule)
		}
	}
}

func (m *Model) emitMidiShim(p *registry.Param, v float64, fromModule events.Module) {
	ev := events.MidiEvent{}
	switch p.MidiShim.Kind {
	case registry.MidiShimPitchBend:
		ev.Kind = "PitchBend"
		ev.Bend = uint16(convert.PitchBendFromNormalised(v))
	case registry.MidiShimChannelPressure:
		ev.Kind = "ChannelPressure"
		ev.Pressure = uint8(convert.ChanPressureFromNormalised(v))
	default:
		ev.Kind = "CC"
		ev.CC = p.MidiShim.CCNumber
		ev.CCValue = uint8(convert.CCFromNormalised(v))
	}
	m.router.Emit(events.Event{
		Type:     events.TypeMidi,
		Producer: events.ModuleParamGraph,
		Midi:     &ev,
	})
}
