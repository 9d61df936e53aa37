// Package surface implements the control surface bridge: it accepts
// outgoing SfcFunc commands over the event router, owns the
// multifunction switch bank (whose active "state" selects what a switch
// press means — default, sequencer-record, mod-matrix source select),
// and gives physical-control parameters per-control-state storage so one
// knob can present a different stored value depending on which UI state
// is showing, the way the sequencer's step/tie gesture and the
// mod-matrix source selector both reuse the same physical row of
// switches for different purposes.
package surface

import (
	"sync"

	"github.com/schollz/duovox/internal/events"
	"github.com/schollz/duovox/internal/paramgraph"
	"github.com/schollz/duovox/internal/registry"
)

// MultifnState names what the multifunction switch bank currently means.
type MultifnState int

const (
	MultifnDefault MultifnState = iota
	MultifnSeqRec
	MultifnModMatrixSourceSelect
)

// controlStateKey identifies one physical control's stored value under
// one UI state.
type controlStateKey struct {
	handle registry.Handle
	state  int
}

// Bridge owns the multifunction switch bank and per-control-state value
// storage, and relays outgoing commands to the control surface firmware
// (out of scope here; Sender is the seam).
type Bridge struct {
	reg    *registry.Registry
	model  *paramgraph.Model
	router *events.Router

	mu sync.Mutex

	multifnState MultifnState
	selected     map[int]bool // switch index -> lit

	controlValues map[controlStateKey]float64

	listener *events.Listener
	stop     chan struct{}
}

// New constructs a surface bridge and subscribes it to outgoing SfcFunc
// commands.
func New(reg *registry.Registry, model *paramgraph.Model, router *events.Router) *Bridge {
	return &Bridge{
		reg:           reg,
		model:         model,
		router:        router,
		selected:      make(map[int]bool),
		controlValues: make(map[controlStateKey]float64),
	}
}

// Start subscribes to the router's SfcFunc stream and processes commands
// until Stop is called.
func (b *Bridge) Start() {
	b.listener = b.router.Subscribe("surface", events.ModuleParamGraph, events.TypeSfcFunc, 32)
	b.stop = make(chan struct{})
	go b.run(b.listener)
}

// Stop ends command processing.
func (b *Bridge) Stop() {
	if b.stop != nil {
		close(b.stop)
	}
}

func (b *Bridge) run(l *events.Listener) {
	for {
		select {
		case <-b.stop:
			return
		case ev, ok := <-l.Events():
			if !ok {
				return
			}
			if ev.SfcFunc != nil {
				b.handle(*ev.SfcFunc)
			}
		}
	}
}

func (b *Bridge) handle(f events.SfcFunc) {
	switch f.Type {
	case events.SfcSetSwitchValue:
		if p, ok := b.reg.LookupByPath(f.Param); ok {
			b.model.WriteNormalised(p, 0, 0, f.SwitchValue, events.ModuleSurface)
		}
	case events.SfcSelectMultifnSwitch:
		// Param carries the index as a path-less numeric string in this
		// command's narrow use; real wiring is via SelectMultifnSwitch below.
	case events.SfcResetMultifnSwitches:
		b.ResetMultifnSwitches()
	}
}

// SelectMultifnSwitch lights switch index and, when resetOther is set,
// clears every other switch in the bank — used by the sequencer's REC
// tie/rest gesture and by the mod-matrix source selector, which both
// drive the same physical row under different MultifnState values.
func (b *Bridge) SelectMultifnSwitch(index int, resetOther bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if resetOther {
		b.selected = make(map[int]bool)
	}
	b.selected[index] = true
}

// ResetMultifnSwitches clears every switch in the bank.
func (b *Bridge) ResetMultifnSwitches() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selected = make(map[int]bool)
}

// IsSelected reports whether switch index is currently lit.
func (b *Bridge) IsSelected(index int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selected[index]
}

// SetMultifnState changes what the switch bank means. Existing selections
// are cleared: a lit switch under one meaning should not appear lit under
// another.
func (b *Bridge) SetMultifnState(state MultifnState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.multifnState = state
	b.selected = make(map[int]bool)
}

// MultifnStateValue reports the switch bank's current meaning.
func (b *Bridge) MultifnStateValue() MultifnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.multifnState
}

// StoreControlValue remembers p's value for a given UI state (e.g. "osc
// 1/2" vs "osc 3/4" sharing one physical knob) without touching the
// parameter's live cell.
func (b *Bridge) StoreControlValue(p *registry.Param, uiState int, value float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.controlValues[controlStateKey{p.Handle, uiState}] = value
}

// RestoreControlValue pushes a previously stored value for p back through
// the parameter model under the given UI state, the way switching UI
// state pushes the stored value back through the haptic controller. It
// reports whether a stored value existed.
func (b *Bridge) RestoreControlValue(p *registry.Param, uiState int) (float64, bool) {
	b.mu.Lock()
	v, ok := b.controlValues[controlStateKey{p.Handle, uiState}]
	b.mu.Unlock()
	if !ok {
		return 0, false
	}
	b.model.WriteNormalised(p, 0, 0, v, events.ModuleSurface)
	return v, true
}
