// Package preset implements the file/preset manager: the startup sequence
// that loads config, blacklist, parameter map, attribute, and global-value
// files; the two-shadow-file preset persistence protocol; and the preset,
// layer, and sound load/save/init/rename operations built on top of it.
// Saves are debounced with clock.Debouncer.
package preset

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/schollz/duovox/internal/clock"
	"github.com/schollz/duovox/internal/convert"
	"github.com/schollz/duovox/internal/events"
	"github.com/schollz/duovox/internal/paramgraph"
	"github.com/schollz/duovox/internal/registry"
	"github.com/schollz/duovox/internal/tempoestimate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const saveDebounce = 2 * time.Second

// ParamEntry is one (path, value) pair as it appears on disk. Exactly one
// of Value or StrValue is populated, matching the parameter's DataType.
type ParamEntry struct {
	Path     string   `json:"path"`
	Value    *float64 `json:"value,omitempty"`
	StrValue *string  `json:"str_value,omitempty"`
}

// PatchDoc is the per-layer patch sub-document: a name plus the
// common/state-A/state-B parameter arrays.
type PatchDoc struct {
	Name   string       `json:"name"`
	Common []ParamEntry `json:"common"`
	StateA []ParamEntry `json:"state_a"`
	StateB []ParamEntry `json:"state_b"`
}

// LayerDoc is one layer's sub-document within a preset.
type LayerDoc struct {
	LayerID string       `json:"layer_id"`
	Params  []ParamEntry `json:"params"`
	Patch   PatchDoc     `json:"patch"`
}

// Document is the full shape of one preset file.
type Document struct {
	Version  int          `json:"version"`
	Revision int          `json:"revision"`
	Params   []ParamEntry `json:"params"`
	Layers   []LayerDoc   `json:"layers"`
}

// GlobalConfig is the global config file's shape (startup step 1).
type GlobalConfig struct {
	PresetID         string `json:"preset_id"`
	PreviousPresetID string `json:"previous_preset_id"`
	ModSourceSelector int   `json:"mod_source_selector"`
	DemoMode         bool   `json:"demo_mode"`
	DemoTimeoutSec   int    `json:"demo_timeout_sec"`
	SystemColour     string `json:"system_colour"`
}

func defaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		PresetID:       "factory/basic",
		DemoTimeoutSec: 300,
		SystemColour:   "blue",
	}
}

// mapEntry is one line of the parameter map file (startup step 3).
type mapEntry struct {
	PathA            string `json:"path_a"`
	PathB            string `json:"path_b"`
	HapticMode       string `json:"haptic_mode"`
	GroupName        string `json:"group_name"`
	GroupValue       int    `json:"group_value"`
	Morphable        bool   `json:"morphable"`
	MultifnSwitchIdx int    `json:"multifn_switch_idx"`
}

// attributeEntry is one line of the parameter attribute file (startup step 4).
type attributeEntry struct {
	Path          string   `json:"path"`
	RefTag        string   `json:"ref_tag"`
	Name          string   `json:"name"`
	Min           float64  `json:"min"`
	Max           float64  `json:"max"`
	DecimalPlaces int      `json:"decimal_places"`
	NumPositions  int      `json:"num_positions"`
	ValueStrings  []string `json:"value_strings"`
	ValueTag      string   `json:"value_tag"`
	ValueTags     []string `json:"value_tags"`
	LinkedParam   bool     `json:"linked_param"`
	StateAOnly    bool     `json:"state_a_only"`
	AsNumeric     bool     `json:"as_numeric"`
	Preset        bool     `json:"preset"`
	Save          bool     `json:"save"`
}

// hapticProfile is one named haptic-mode entry (startup step 7).
type hapticProfile struct {
	Name   string  `json:"name"`
	Detent bool    `json:"detent"`
	Ramp   float64 `json:"ramp"`
}

// specialCase is one of the fixed-order post-load reconciliation passes
// named in the load-preset operation (LFO tempo-sync, VCF cutoff link, VCF
// LP slope, VCF resonance HP/LP, FX macro select).
type specialCase struct {
	name string
	fn   func(m *Manager) error
}

// Manager implements the file/preset manager.
type Manager struct {
	dir    string
	reg    *registry.Registry
	model  *paramgraph.Model
	router *events.Router

	// mu serialises every load/save/init/toggle/rename operation end to
	// end (not just the Config/nextShadow/prevDocPath field accesses
	// inside them), so two such operations never interleave their file
	// writes or registry mutations.
	mu           sync.Mutex
	Config       GlobalConfig
	nextShadow   int // 0 or 1: which shadow file the next shadow save writes to
	prevDocPath  string

	presetDebounce *clock.Debouncer
	globalDebounce *clock.Debouncer
	configDebounce *clock.Debouncer

	specialCases []specialCase

	// ReferenceTempoWAV, when set, names a WAV file whose estimated tempo
	// seeds the tempo parameter the first time the instrument boots with
	// no saved preset (factory-fallback path only). Left empty, the
	// factory preset's own tempo value stands.
	ReferenceTempoWAV string
	tempoParam        *registry.Param
}

// NewManager constructs a preset manager rooted at dir. The registry and
// model must already have every manager's parameters registered; this
// manager only enriches metadata and loads/stores values.
func NewManager(dir string, reg *registry.Registry, model *paramgraph.Model, router *events.Router) *Manager {
	m := &Manager{
		dir:    dir,
		reg:    reg,
		model:  model,
		router: router,
		Config: defaultGlobalConfig(),
	}
	m.presetDebounce = clock.NewDebouncer(saveDebounce, m.saveCurrentShadow)
	m.globalDebounce = clock.NewDebouncer(saveDebounce, m.saveGlobalParams)
	m.configDebounce = clock.NewDebouncer(saveDebounce, m.saveConfig)
	m.specialCases = []specialCase{
		{"lfo_tempo_sync", applyLFOTempoSync},
		{"vcf_cutoff_link", applyVCFCutoffLink},
		{"vcf_lp_slope", applyVCFLPSlope},
		{"vcf_resonance_hp_lp", applyVCFResonanceHPLP},
		{"fx_macro_select", applyFXMacroSelect},
	}
	m.tempoParam, _ = reg.LookupByRef("tempo_bpm")
	return m
}

func (m *Manager) path(name string) string { return filepath.Join(m.dir, name) }

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Startup runs the boot sequence: config, blacklist, parameter map,
// parameter attributes, global parameter values, haptic modes, then the
// startup preset via the shadow-file protocol. No parameter-list file is
// read.
func (m *Manager) Startup() error {
	if err := m.loadConfig(); err != nil {
		return fmt.Errorf("preset: load config: %w", err)
	}
	if err := m.loadBlacklist(); err != nil {
		return fmt.Errorf("preset: load blacklist: %w", err)
	}
	if err := m.loadParamMap(); err != nil {
		return fmt.Errorf("preset: load parameter map: %w", err)
	}
	if err := m.loadParamAttributes(); err != nil {
		return fmt.Errorf("preset: load parameter attributes: %w", err)
	}
	if err := m.loadGlobalParamValues(); err != nil {
		return fmt.Errorf("preset: load global parameter values: %w", err)
	}
	if err := m.loadHapticModes(); err != nil {
		return fmt.Errorf("preset: load haptic modes: %w", err)
	}
	if err := m.loadStartupPreset(); err != nil {
		return fmt.Errorf("preset: load startup preset: %w", err)
	}
	return nil
}

// loadConfig opens the global config file, creating it with defaults if
// absent (startup step 1).
func (m *Manager) loadConfig() error {
	var cfg GlobalConfig
	err := readJSON(m.path("config.json"), &cfg)
	if os.IsNotExist(err) {
		m.mu.Lock()
		m.Config = defaultGlobalConfig()
		m.mu.Unlock()
		return writeJSON(m.path("config.json"), m.Config)
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.Config = cfg
	m.mu.Unlock()
	return nil
}

func (m *Manager) saveConfig() {
	m.mu.Lock()
	cfg := m.Config
	m.mu.Unlock()
	if err := writeJSON(m.path("config.json"), cfg); err != nil {
		log.Printf("preset: config save failed: %v", err)
	}
}

// loadBlacklist opens the parameter blacklist file and passes every listed
// path to Registry.Blacklist (startup step 2). That only affects later
// Register calls: a parameter already registered under a listed path
// stays registered.
func (m *Manager) loadBlacklist() error {
	var paths []string
	err := readJSON(m.path("blacklist.json"), &paths)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, p := range paths {
		m.reg.Blacklist(p)
	}
	return nil
}

// loadParamMap opens the parameter map file; for each entry it registers a
// bidirectional mapping and enriches surface-control metadata (startup
// step 3). Entries naming an unregistered path are skipped.
func (m *Manager) loadParamMap() error {
	var entries []mapEntry
	err := readJSON(m.path("param_map.json"), &entries)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		pa, aok := m.reg.LookupByPath(e.PathA)
		pb, bok := m.reg.LookupByPath(e.PathB)
		if !aok || !bok {
			continue
		}
		m.reg.AddMapping(pa.Handle, pb.Handle)
		for _, p := range []*registry.Param{pa, pb} {
			if p.Control.ControlType == registry.ControlNone {
				p.Control.ControlType = registry.ControlKnob
			}
			p.Control.HapticMode = e.HapticMode
			p.Control.GroupName = e.GroupName
			p.Control.GroupValue = e.GroupValue
			p.Control.Morphable = e.Morphable
			p.Control.MultifnSwitchIdx = e.MultifnSwitchIdx
		}
	}
	return nil
}

// loadParamAttributes opens the parameter attribute file; for each entry
// it sets display metadata, ref tag, position count, enumerated strings,
// and the linked-param/state-A-only flags (startup step 4).
func (m *Manager) loadParamAttributes() error {
	var entries []attributeEntry
	err := readJSON(m.path("param_attributes.json"), &entries)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		p, ok := m.reg.LookupByPath(e.Path)
		if !ok {
			continue
		}
		p.Display = registry.DisplayMeta{
			Name:          e.Name,
			MinValue:      e.Min,
			MaxValue:      e.Max,
			DecimalPlaces: e.DecimalPlaces,
			NumPositions:  e.NumPositions,
			ValueStrings:  e.ValueStrings,
			ValueTag:      e.ValueTag,
			ValueTags:     e.ValueTags,
			AsNumeric:     e.AsNumeric,
		}
		p.Control.LinkedParam = e.LinkedParam
		p.StateAOnly = e.StateAOnly
		p.Flags.Preset = p.Flags.Preset || e.Preset
		p.Flags.Save = p.Flags.Save || e.Save
		if e.RefTag != "" {
			m.reg.SetRefTag(p, e.RefTag)
		}
	}
	return nil
}

// loadGlobalParamValues opens the global parameter values file and
// restores each saved value (startup step 6).
func (m *Manager) loadGlobalParamValues() error {
	var entries []ParamEntry
	err := readJSON(m.path("global_params.json"), &entries)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	m.applyEntries(entries, 0, 0, events.ModulePreset)
	return nil
}

func (m *Manager) saveGlobalParams() {
	entries := entriesFromParams(m.model, m.reg.GlobalSaveParams(), 0, 0)
	if err := writeJSON(m.path("global_params.json"), entries); err != nil {
		log.Printf("preset: global params save failed: %v", err)
	}
}

// loadHapticModes opens and parses the haptic mode file (startup step 7).
// The parsed profiles are neither stored nor checked against any
// parameter: controls keep the haptic_mode string that loadParamMap set.
// An absent file is not an error.
func (m *Manager) loadHapticModes() error {
	var profiles []hapticProfile
	err := readJSON(m.path("haptic_modes.json"), &profiles)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func shadowPath(dir string, idx int) string {
	name := "preset_a.json"
	if idx == 1 {
		name = "preset_b.json"
	}
	return filepath.Join(dir, name)
}

// loadStartupPreset implements the two-shadow-file protocol: pick the
// newer of C_A/C_B; if it fails validation try the other; else fall back
// to the permanent (factory) preset. Whichever shadow is NOT loaded from
// becomes the next write target.
func (m *Manager) loadStartupPreset() error {
	infoA, errA := os.Stat(shadowPath(m.dir, 0))
	infoB, errB := os.Stat(shadowPath(m.dir, 1))

	order := []int{0, 1}
	if errA != nil && errB == nil {
		order = []int{1, 0}
	} else if errA == nil && errB == nil && infoB.ModTime().After(infoA.ModTime()) {
		order = []int{1, 0}
	}

	for _, idx := range order {
		var doc Document
		if err := readJSON(shadowPath(m.dir, idx), &doc); err == nil {
			if err := validateDocument(&doc); err == nil {
				m.applyDocument(&doc)
				m.mu.Lock()
				m.nextShadow = 1 - idx
				m.mu.Unlock()
				return nil
			}
		}
	}

	doc, err := parseBasicPreset()
	if err != nil {
		return err
	}
	m.applyDocument(doc)
	m.mu.Lock()
	m.nextShadow = 0
	m.mu.Unlock()
	m.maybeEstimateDefaultTempo()
	return nil
}

// maybeEstimateDefaultTempo seeds the tempo parameter from ReferenceTempoWAV
// on a fresh (no-shadow-files) boot. Any failure to read or estimate the
// file is silently ignored: the factory preset's own tempo value is a
// perfectly good fallback.
func (m *Manager) maybeEstimateDefaultTempo() {
	if m.ReferenceTempoWAV == "" || m.tempoParam == nil {
		return
	}
	bpm, err := tempoestimate.EstimateFile(m.ReferenceTempoWAV)
	if err != nil {
		log.Printf("preset: reference tempo estimate skipped: %v", err)
		return
	}
	norm := convert.ToNormalised(convert.ModuleSystem, convert.TempoBPMParamID, bpm)
	m.model.WriteNormalised(m.tempoParam, 0, 0, norm, events.ModulePreset)
}

func validateDocument(doc *Document) error {
	if doc.Version == 0 {
		return fmt.Errorf("preset: missing version")
	}
	if len(doc.Layers) == 0 {
		return fmt.Errorf("preset: no layers")
	}
	return nil
}

func (m *Manager) applyEntries(entries []ParamEntry, layer, state int, from events.Module) {
	for _, e := range entries {
		p, ok := m.reg.LookupByPath(e.Path)
		if !ok {
			continue
		}
		if p.DataType == registry.DataString && e.StrValue != nil {
			m.model.WriteString(p, layer, state, *e.StrValue, from)
		} else if e.Value != nil {
			m.model.WriteNormalised(p, layer, state, *e.Value, from)
		}
	}
}

func entriesFromParams(model *paramgraph.Model, params []*registry.Param, layer, state int) []ParamEntry {
	out := make([]ParamEntry, 0, len(params))
	for _, p := range params {
		if p.DataType == registry.DataString {
			s := model.ReadString(p, layer, state)
			out = append(out, ParamEntry{Path: p.Path, StrValue: &s})
		} else {
			v := model.ReadNormalised(p, layer, state)
			out = append(out, ParamEntry{Path: p.Path, Value: &v})
		}
	}
	return out
}

// applyDocument writes a parsed preset document into the live registry and
// runs the fixed-order special-case reconciliation passes.
func (m *Manager) applyDocument(doc *Document) {
	m.applyEntries(doc.Params, 0, 0, events.ModulePreset)
	for i, ld := range doc.Layers {
		layer := i
		m.applyEntries(ld.Params, layer, 0, events.ModulePreset)
		m.applyEntries(ld.Patch.Common, layer, 0, events.ModulePreset)
		m.applyEntries(ld.Patch.StateA, layer, 0, events.ModulePreset)
		m.applyEntries(ld.Patch.StateB, layer, 1, events.ModulePreset)
	}
	for _, sc := range m.specialCases {
		if err := sc.fn(m); err != nil {
			log.Printf("preset: special case %s failed: %v", sc.name, err)
		}
	}
}

// buildDocument snapshots the live registry into a Document, path-ordered
// within each section for reproducible diffs.
func (m *Manager) buildDocument(patchNames [2]string) *Document {
	doc := &Document{Version: 1, Revision: 1, Params: entriesFromParams(m.model, m.reg.PresetParams(), 0, 0)}
	for layer := 0; layer < 2; layer++ {
		ld := LayerDoc{
			LayerID: fmt.Sprintf("d%d", layer),
			Params:  entriesFromParams(m.model, m.reg.LayerParams(), layer, 0),
			Patch: PatchDoc{
				Name:   patchNames[layer],
				Common: entriesFromParams(m.model, m.reg.ParamsOfModule(registry.ModuleDAW), layer, 0),
				StateA: entriesFromParams(m.model, m.reg.ParamsOfModule(registry.ModuleDAW), layer, 0),
				StateB: entriesFromParams(m.model, m.reg.ParamsOfModule(registry.ModuleDAW), layer, 1),
			},
		}
		doc.Layers = append(doc.Layers, ld)
	}
	return doc
}

// saveCurrentShadow is the debounced shadow-save entry point; it holds m.mu
// for its entire duration, matching every other load/save/init/toggle/
// rename operation.
func (m *Manager) saveCurrentShadow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCurrentShadowLocked()
}

// saveCurrentShadowLocked is saveCurrentShadow's body; callers must already
// hold m.mu (e.g. InitPreset, which writes both shadows as one operation).
func (m *Manager) saveCurrentShadowLocked() {
	idx := m.nextShadow
	doc := m.buildDocument([2]string{"patch_d0", "patch_d1"})
	if err := writeJSON(shadowPath(m.dir, idx), doc); err != nil {
		log.Printf("preset: shadow save failed: %v", err)
		return
	}
	m.nextShadow = 1 - idx
}

// MarkDirty restarts the debounced preset-save timer; every mutation of a
// preset-scoped parameter should call this.
func (m *Manager) MarkDirty() { m.presetDebounce.Kick() }

// MarkGlobalDirty restarts the debounced global-parameter-save timer.
func (m *Manager) MarkGlobalDirty() { m.globalDebounce.Kick() }

// MarkConfigDirty restarts the debounced config-save timer.
func (m *Manager) MarkConfigDirty() { m.configDebounce.Kick() }

// LoadPreset loads a preset document by id, broadcasting ReloadPresets.
// The currently-active shadow image is preserved as PREV before the new
// document is applied, so RestorePrevious can undo the load.
func (m *Manager) LoadPreset(id string, patchDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadPresetLocked(id, patchDir)
}

// loadPresetLocked is LoadPreset's body; callers must already hold m.mu
// (UndoLastLoad reuses it directly instead of recursing into LoadPreset).
func (m *Manager) loadPresetLocked(id string, patchDir string) error {
	prevIdx := 1 - m.nextShadow
	if data, err := os.ReadFile(shadowPath(m.dir, prevIdx)); err == nil {
		prevPath := filepath.Join(m.dir, "preset_prev.json")
		if err := os.WriteFile(prevPath, data, 0o644); err == nil {
			m.prevDocPath = prevPath
		}
	}

	var doc Document
	if err := readJSON(filepath.Join(patchDir, id+".json"), &doc); err != nil {
		return err
	}
	if err := validateDocument(&doc); err != nil {
		return err
	}

	m.model.LockMorph(0)
	m.model.LockMorph(1)
	defer m.model.UnlockMorph(0)
	defer m.model.UnlockMorph(1)

	m.applyDocument(&doc)
	for l := 0; l < 2; l++ {
		m.model.UnlockMorph(l)
		m.model.SetMorphValue(l, 0)
	}

	m.Config.PreviousPresetID = m.Config.PresetID
	m.Config.PresetID = id
	m.MarkConfigDirty()

	m.router.Emit(events.Event{
		Type:          events.TypeReloadPresets,
		Producer:      events.ModulePreset,
		ReloadPresets: &events.ReloadPresets{},
	})
	return nil
}

// LoadLayer copies a source layer sub-document into destination layer dst.
// If dst is layer 1 (D1) and the incoming layer carries zero voices, voice
// counts are redistributed so D0 keeps the remainder and D1 takes exactly
// one voice.
func (m *Manager) LoadLayer(src LayerDoc, dst int, voiceCountParam, otherVoiceCountParam *registry.Param, maxVoices int) {
	m.applyEntries(src.Params, dst, 0, events.ModulePreset)
	m.applyEntries(src.Patch.Common, dst, 0, events.ModulePreset)
	m.applyEntries(src.Patch.StateA, dst, 0, events.ModulePreset)
	m.applyEntries(src.Patch.StateB, dst, 1, events.ModulePreset)

	if dst == 1 && voiceCountParam != nil {
		if m.model.ReadPosition(voiceCountParam) == 0 {
			m.model.WritePosition(voiceCountParam, 1, events.ModulePreset)
			if otherVoiceCountParam != nil {
				m.model.WritePosition(otherVoiceCountParam, maxVoices-1, events.ModulePreset)
			}
		}
	}

	m.router.Emit(events.Event{
		Type:          events.TypeReloadPresets,
		Producer:      events.ModulePreset,
		ReloadPresets: &events.ReloadPresets{FromLayerToggle: true},
	})
	m.MarkDirty()
}

// LoadSound copies only the source state_a array into the destination
// (layer, state) cell and broadcasts an A/B-toggle reload. It does not
// switch any live layer/state selector and does not touch the morph
// position.
func (m *Manager) LoadSound(src PatchDoc, layer, state int) {
	m.applyEntries(src.StateA, layer, state, events.ModulePreset)
	m.router.Emit(events.Event{
		Type:          events.TypeReloadPresets,
		Producer:      events.ModulePreset,
		ReloadPresets: &events.ReloadPresets{FromABToggle: true},
	})
	m.MarkDirty()
}

// InitPreset replaces the working document with the embedded factory
// preset, then shadow-saves twice so both files are immediately
// consistent. patchNames are set on the factory document's layers before
// it is applied, but the Manager keeps no patch names: both shadow files
// record the fixed names "patch_d0" and "patch_d1".
func (m *Manager) InitPreset(patchNames [2]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := parseBasicPreset()
	if err != nil {
		return err
	}
	for i := range doc.Layers {
		if i < len(patchNames) {
			doc.Layers[i].Patch.Name = patchNames[i]
		}
	}
	m.applyDocument(doc)
	m.saveCurrentShadowLocked()
	m.saveCurrentShadowLocked()
	m.router.Emit(events.Event{
		Type:          events.TypeReloadPresets,
		Producer:      events.ModulePreset,
		ReloadPresets: &events.ReloadPresets{},
	})
	return nil
}

// TogglePatchState writes the morph parameter to 0.0 (state A) or 1.0
// (state B), and sets the layer's morph position to match, after a 5ms
// settling delay so the audio engine can flush whatever buffer depends on
// the old morph. It broadcasts an A/B-toggle reload and marks the preset
// dirty. It keeps no live state selector and does not re-read any state
// parameters.
func (m *Manager) TogglePatchState(layer int, toB bool, morphParam *registry.Param) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := 0.0
	if toB {
		target = 1.0
	}
	clock.StartOneShot(5*time.Millisecond, func() {
		m.model.WriteNormalised(morphParam, layer, 0, target, events.ModulePreset)
		m.model.SetMorphValue(layer, target)
	})
	m.router.Emit(events.Event{
		Type:          events.TypeReloadPresets,
		Producer:      events.ModulePreset,
		ReloadPresets: &events.ReloadPresets{FromABToggle: true},
	})
	m.MarkDirty()
}

// RenameBank renames a bank directory on disk and emits BankRenamed,
// updating the current/previous preset id if either referenced it.
func (m *Manager) RenameBank(oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Rename(filepath.Join(m.dir, "banks", oldName), filepath.Join(m.dir, "banks", newName)); err != nil {
		return err
	}
	for _, id := range []*string{&m.Config.PresetID, &m.Config.PreviousPresetID} {
		if *id == oldName {
			*id = newName
		} else if strings.HasPrefix(*id, oldName+"/") {
			*id = newName + strings.TrimPrefix(*id, oldName)
		}
	}
	m.MarkConfigDirty()
	m.router.Emit(events.Event{
		Type:       events.TypeSystemFunc,
		Producer:   events.ModulePreset,
		SystemFunc: &events.SystemFunc{Type: events.SysFuncBankRenamed, StrValue: oldName, StrValue2: newName},
	})
	return nil
}

// RenamePatch is RenameBank's patch-scoped counterpart.
func (m *Manager) RenamePatch(bank, oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Join(m.dir, "banks", bank)
	if err := os.Rename(filepath.Join(dir, oldName+".json"), filepath.Join(dir, newName+".json")); err != nil {
		return err
	}
	m.router.Emit(events.Event{
		Type:       events.TypeSystemFunc,
		Producer:   events.ModulePreset,
		SystemFunc: &events.SystemFunc{Type: events.SysFuncPatchRenamed, StrValue: oldName, StrValue2: newName},
	})
	return nil
}

// RestorePrevious reloads the preserved PREV shadow file.
func (m *Manager) RestorePrevious() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.prevDocPath == "" {
		return fmt.Errorf("preset: no previous preset available")
	}
	var doc Document
	if err := readJSON(m.prevDocPath, &doc); err != nil {
		return err
	}
	m.applyDocument(&doc)
	m.router.Emit(events.Event{
		Type:          events.TypeReloadPresets,
		Producer:      events.ModulePreset,
		ReloadPresets: &events.ReloadPresets{},
	})
	return nil
}

// UndoLastLoad re-invokes LoadPreset against the previous preset id, as one
// operation under m.mu.
func (m *Manager) UndoLastLoad(patchDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.Config.PreviousPresetID
	if id == "" {
		return fmt.Errorf("preset: no previous preset id recorded")
	}
	return m.loadPresetLocked(id, patchDir)
}
