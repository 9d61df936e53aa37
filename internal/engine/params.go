package engine

import (
	"fmt"

	"github.com/schollz/duovox/internal/events"
	"github.com/schollz/duovox/internal/registry"
)

// paramSpec is one line of the built-in parameter set this instrument
// ships with. In deployment, internal/preset's param_map.json and
// param_attributes.json files can enrich or override anything registered
// here (control grouping, haptic mode, value strings); registerParams
// only has to establish enough of a registry for every manager's
// LookupByRef calls to succeed on a from-scratch boot with no files on
// disk yet, shipping sane zero-config defaults.
type paramSpec struct {
	module       registry.Module
	id           int
	path         string
	refTag       string
	dataType     registry.DataType
	scope        registry.Scope
	numPositions int
	min, max     float64
	decimals     int
	controlType  registry.ControlType
	morphable    bool
	sysFunc      *registry.SysFuncMeta
	preset       bool // persisted in the preset document's top-level Params
	save         bool // persisted to global_params.json
}

func registerParams(reg *registry.Registry) error {
	specs := []paramSpec{
		{module: registry.ModuleSystem, id: 1, path: "system/tempo_bpm", refTag: "tempo_bpm",
			scope: registry.ScopeGlobal, min: 30, max: 250, decimals: 1, controlType: registry.ControlKnob, save: true},
		{module: registry.ModuleSystem, id: 2, path: "system/seq_arp_midi_channel", refTag: "seq_arp_midi_channel",
			scope: registry.ScopeGlobal, numPositions: 17, save: true},
		{module: registry.ModuleSystem, id: 3, path: "system/kbd_midi_channel", refTag: "kbd_midi_channel",
			scope: registry.ScopeGlobal, numPositions: 17, save: true},
		{module: registry.ModuleSystem, id: 4, path: "system/midi_echo_filter", refTag: "midi_echo_filter",
			scope: registry.ScopeGlobal, numPositions: 3, save: true},
		{module: registry.ModuleSystem, id: 5, path: "system/all_notes_off", refTag: "all_notes_off",
			scope: registry.ScopeGlobal, controlType: registry.ControlSwitch},

		{module: registry.ModuleSeq, id: 1, path: "seq/mode", refTag: "seq_mode",
			scope: registry.ScopePresetCommon, numPositions: 2, preset: true},
		{module: registry.ModuleSeq, id: 2, path: "seq/rec", refTag: "seq_rec",
			scope: registry.ScopePresetCommon, controlType: registry.ControlSwitch, preset: true},
		{module: registry.ModuleSeq, id: 3, path: "seq/run", refTag: "seq_run",
			scope: registry.ScopePresetCommon, controlType: registry.ControlSwitch, preset: true},
		{module: registry.ModuleSeq, id: 4, path: "seq/num_steps", refTag: "seq_num_steps",
			scope: registry.ScopePresetCommon, numPositions: 16, preset: true},
		{module: registry.ModuleSeq, id: 5, path: "seq/tempo_note_value", refTag: "seq_tempo_note_value",
			scope: registry.ScopePresetCommon, numPositions: 9, preset: true},
		{module: registry.ModuleSeq, id: 6, path: "seq/hold", refTag: "seq_hold",
			scope: registry.ScopePresetCommon, controlType: registry.ControlSwitch, preset: true},
		{module: registry.ModuleSeq, id: 7, path: "seq/phrase_beats_per_bar", refTag: "seq_phrase_beats_per_bar",
			scope: registry.ScopePresetCommon, numPositions: 5, preset: true},
		{module: registry.ModuleSeq, id: 8, path: "seq/phrase_quantisation", refTag: "seq_phrase_quantisation",
			scope: registry.ScopePresetCommon, numPositions: 9, preset: true},

		{module: registry.ModuleArp, id: 1, path: "arp/enable", refTag: "arp_enable",
			scope: registry.ScopePresetCommon, controlType: registry.ControlSwitch, preset: true},
		{module: registry.ModuleArp, id: 2, path: "arp/dir_mode", refTag: "arp_dir_mode",
			scope: registry.ScopePresetCommon, numPositions: 5, preset: true},
		{module: registry.ModuleArp, id: 3, path: "arp/hold", refTag: "arp_hold",
			scope: registry.ScopePresetCommon, controlType: registry.ControlSwitch, preset: true},
		{module: registry.ModuleArp, id: 4, path: "arp/run", refTag: "arp_run",
			scope: registry.ScopePresetCommon, controlType: registry.ControlSwitch, preset: true},
		{module: registry.ModuleArp, id: 5, path: "arp/tempo_note_value", refTag: "arp_tempo_note_value",
			scope: registry.ScopePresetCommon, numPositions: 9, preset: true},

		{module: registry.ModuleDAW, id: 1, path: "daw/vco/pitch", refTag: "vco_pitch",
			scope: registry.ScopeLayer, controlType: registry.ControlKnob, morphable: true},
		{module: registry.ModuleDAW, id: 2, path: "daw/vcf/resonance_hp", refTag: "vcf_resonance_hp",
			scope: registry.ScopeLayer, controlType: registry.ControlKnob, morphable: true},
		{module: registry.ModuleDAW, id: 3, path: "daw/vcf/resonance_lp", refTag: "vcf_resonance_lp",
			scope: registry.ScopeLayer, controlType: registry.ControlKnob, morphable: true},
		{module: registry.ModuleDAW, id: 4, path: "daw/vcf/resonance_link", refTag: "vcf_resonance_link",
			scope: registry.ScopeGlobal, controlType: registry.ControlSwitch, save: true},
		{module: registry.ModuleDAW, id: 5, path: "daw/vcf/lp_slope", refTag: "vcf_lp_slope",
			scope: registry.ScopeLayer, numPositions: 3},
		{module: registry.ModuleDAW, id: 6, path: "daw/d0/vcf/cutoff", refTag: "vcf_cutoff_d0",
			scope: registry.ScopeGlobal, controlType: registry.ControlKnob, save: true},
		{module: registry.ModuleDAW, id: 7, path: "daw/d1/vcf/cutoff", refTag: "vcf_cutoff_d1",
			scope: registry.ScopeGlobal, controlType: registry.ControlKnob, save: true},
		{module: registry.ModuleDAW, id: 8, path: "daw/vcf/cutoff_link", refTag: "vcf_cutoff_link",
			scope: registry.ScopeGlobal, controlType: registry.ControlSwitch, save: true},
		{module: registry.ModuleDAW, id: 9, path: "daw/lfo/rate", refTag: "lfo_rate",
			scope: registry.ScopeLayer, controlType: registry.ControlKnob},
		{module: registry.ModuleDAW, id: 10, path: "daw/lfo/tempo_sync", refTag: "lfo_tempo_sync",
			scope: registry.ScopeLayer, controlType: registry.ControlSwitch},
		{module: registry.ModuleDAW, id: 11, path: "daw/lfo/tempo_note_value", refTag: "lfo_tempo_note_value",
			scope: registry.ScopeLayer, numPositions: 9},
		{module: registry.ModuleDAW, id: 12, path: "daw/fx/macro_select", refTag: "fx_macro_select",
			scope: registry.ScopeGlobal, numPositions: 8, save: true,
			sysFunc: &registry.SysFuncMeta{FuncType: int(events.SysFuncLoadSound)}},
		{module: registry.ModuleDAW, id: 13, path: "daw/d0/morph", refTag: "morph_d0",
			scope: registry.ScopeGlobal, controlType: registry.ControlKnob, save: true},
		{module: registry.ModuleDAW, id: 14, path: "daw/d1/morph", refTag: "morph_d1",
			scope: registry.ScopeGlobal, controlType: registry.ControlKnob, save: true},
	}

	for _, s := range specs {
		p, err := reg.Register(s.module, s.id, s.path, s.dataType, s.scope)
		if err != nil {
			return fmt.Errorf("engine: register %s: %w", s.path, err)
		}
		if p == nil { // blacklisted — never true on a fresh registry, but Register's contract allows it
			continue
		}
		reg.SetRefTag(p, s.refTag)
		p.Display.MinValue = s.min
		p.Display.MaxValue = s.max
		p.Display.DecimalPlaces = s.decimals
		p.Display.NumPositions = s.numPositions
		p.Control.ControlType = s.controlType
		p.Control.Morphable = s.morphable
		p.SysFunc = s.sysFunc
		p.Flags.Preset = s.preset
		p.Flags.Save = s.save
	}
	return nil
}
