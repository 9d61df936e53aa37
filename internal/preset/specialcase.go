package preset

import (
	"github.com/schollz/duovox/internal/events"
)

// The special-case reconciliation passes run, in this fixed order, after
// every document load. Each one is a narrow fix-up for a parameter
// relationship that the mapping graph alone cannot express because it
// depends on another parameter's current value rather than a static peer
// list. Every pass is a no-op when its ref tags aren't registered, so a
// partially-built registry (as in tests) never breaks a load.

func applyLFOTempoSync(m *Manager) error {
	sync, ok := m.reg.LookupByRef("lfo_tempo_sync")
	if !ok {
		return nil
	}
	rate, ok := m.reg.LookupByRef("lfo_rate")
	if !ok {
		return nil
	}
	noteValue, ok := m.reg.LookupByRef("lfo_tempo_note_value")
	if !ok {
		return nil
	}
	for layer := 0; layer < 2; layer++ {
		if m.model.ReadNormalised(sync, layer, 0) < 0.5 {
			continue
		}
		// Tempo-synced: the note-value selector drives the rate directly,
		// overriding whatever free-running rate was loaded from disk.
		m.model.WriteNormalised(rate, layer, 0, m.model.ReadNormalised(noteValue, layer, 0), events.ModulePreset)
	}
	return nil
}

func applyVCFCutoffLink(m *Manager) error {
	link, ok := m.reg.LookupByRef("vcf_cutoff_link")
	if !ok {
		return nil
	}
	cutoffD0, ok := m.reg.LookupByRef("vcf_cutoff_d0")
	if !ok {
		return nil
	}
	cutoffD1, ok := m.reg.LookupByRef("vcf_cutoff_d1")
	if !ok {
		return nil
	}
	if m.model.ReadNormalised(link, 0, 0) < 0.5 {
		return nil
	}
	cutoffD0.Control.LinkedParam = true
	cutoffD1.Control.LinkedParam = true
	cutoffD0.Control.LinkedParamEnable = true
	cutoffD1.Control.LinkedParamEnable = true
	m.router.Emit(events.Event{
		Type:       events.TypeSystemFunc,
		Producer:   events.ModulePreset,
		SystemFunc: &events.SystemFunc{Type: events.SysFuncVcfCutoffLink, Value: 1},
	})
	return nil
}

func applyVCFLPSlope(m *Manager) error {
	slope, ok := m.reg.LookupByRef("vcf_lp_slope")
	if !ok {
		return nil
	}
	if slope.Display.NumPositions <= 1 {
		return nil
	}
	// Clamp a loaded value onto the nearest valid slope position; older
	// preset files may carry a continuous value from before the control
	// became a fixed enumeration.
	pos := m.model.ReadPosition(slope)
	m.model.WritePosition(slope, pos, events.ModulePreset)
	return nil
}

func applyVCFResonanceHPLP(m *Manager) error {
	hp, ok := m.reg.LookupByRef("vcf_resonance_hp")
	if !ok {
		return nil
	}
	lp, ok := m.reg.LookupByRef("vcf_resonance_lp")
	if !ok {
		return nil
	}
	link, ok := m.reg.LookupByRef("vcf_resonance_link")
	if !ok || m.model.ReadNormalised(link, 0, 0) < 0.5 {
		return nil
	}
	for layer := 0; layer < 2; layer++ {
		v := m.model.ReadNormalised(hp, layer, 0)
		m.model.WriteNormalised(lp, layer, 0, v, events.ModulePreset)
	}
	return nil
}

func applyFXMacroSelect(m *Manager) error {
	sel, ok := m.reg.LookupByRef("fx_macro_select")
	if !ok {
		return nil
	}
	if sel.SysFunc == nil {
		return nil
	}
	m.router.Emit(events.Event{
		Type:     events.TypeSystemFunc,
		Producer: events.ModulePreset,
		SystemFunc: &events.SystemFunc{
			Type:  events.SystemFuncType(sel.SysFunc.FuncType),
			Value: m.model.ReadNormalised(sel, 0, 0),
		},
	})
	return nil
}
