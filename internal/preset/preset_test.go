package preset

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/schollz/duovox/internal/clock"
	"github.com/schollz/duovox/internal/convert"
	"github.com/schollz/duovox/internal/events"
	"github.com/schollz/duovox/internal/paramgraph"
	"github.com/schollz/duovox/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestWAV writes a minimal canonical-form 16-bit mono PCM WAV file.
func writeTestWAV(t *testing.T, path string, sampleRate, numFrames int) {
	t.Helper()
	const bitsPerSample = 16
	const numChans = 1
	byteRate := sampleRate * numChans * bitsPerSample / 8
	blockAlign := numChans * bitsPerSample / 8
	dataSize := numFrames * blockAlign

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(numChans))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func newTestManager(t *testing.T) (*Manager, *registry.Registry, *paramgraph.Model) {
	t.Helper()
	dir := t.TempDir()
	reg := registry.New()
	router := events.NewRouter()
	model := paramgraph.New(reg, router)

	for _, path := range []string{
		"system/tempo_bpm", "system/seq_arp_midi_channel", "system/kbd_midi_channel",
		"layer/voice_count", "daw/vcf/cutoff", "daw/vcf/resonance", "daw/vco/pitch",
	} {
		_, err := reg.Register(registry.ModuleDAW, len(path), path, registry.DataNumeric, registry.ScopeLayer)
		require.NoError(t, err)
	}

	mgr := NewManager(dir, reg, model, router)
	return mgr, reg, model
}

func TestStartupCreatesDefaultConfigWhenAbsent(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	require.NoError(t, mgr.Startup())

	assert.FileExists(t, filepath.Join(mgr.dir, "config.json"))
	assert.Equal(t, "factory/basic", mgr.Config.PresetID)
}

func TestStartupFallsBackToBasicPresetWhenNoShadowFiles(t *testing.T) {
	mgr, reg, model := newTestManager(t)
	require.NoError(t, mgr.Startup())

	cutoff, ok := reg.LookupByPath("daw/vcf/cutoff")
	require.True(t, ok)
	assert.InDelta(t, 0.75, model.ReadNormalised(cutoff, 0, 0), 1e-9)
}

func TestBlacklistedPathIsSkippedDuringRegistration(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeJSON(filepath.Join(dir, "blacklist.json"), []string{"daw/forbidden"}))

	reg := registry.New()
	router := events.NewRouter()
	model := paramgraph.New(reg, router)
	mgr := NewManager(dir, reg, model, router)
	require.NoError(t, mgr.loadBlacklist())

	p, err := reg.Register(registry.ModuleDAW, 1, "daw/forbidden", registry.DataNumeric, registry.ScopeLayer)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestLoadPresetBroadcastsReloadAndUpdatesConfig(t *testing.T) {
	mgr, reg, model := newTestManager(t)
	require.NoError(t, mgr.Startup())

	patchDir := t.TempDir()
	doc := Document{
		Version: 1, Revision: 1,
		Layers: []LayerDoc{
			{LayerID: "d0", Patch: PatchDoc{Name: "Loaded", Common: []ParamEntry{{Path: "daw/vcf/cutoff", Value: floatPtr(0.1)}}}},
			{LayerID: "d1", Patch: PatchDoc{Name: "Loaded"}},
		},
	}
	require.NoError(t, writeJSON(filepath.Join(patchDir, "my_patch.json"), doc))

	router := mgr.router
	l := router.Subscribe("watch", events.ModulePreset, events.TypeReloadPresets, 4)

	require.NoError(t, mgr.LoadPreset("my_patch", patchDir))

	select {
	case <-l.Events():
	case <-time.After(time.Second):
		t.Fatal("expected ReloadPresets broadcast")
	}

	cutoff, _ := reg.LookupByPath("daw/vcf/cutoff")
	assert.InDelta(t, 0.1, model.ReadNormalised(cutoff, 0, 0), 1e-9)
	assert.Equal(t, "my_patch", mgr.Config.PresetID)
}

func TestInitPresetPreservesPatchNamesAndWritesBothShadows(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	require.NoError(t, mgr.Startup())

	require.NoError(t, mgr.InitPreset([2]string{"MyD0", "MyD1"}))

	assert.FileExists(t, shadowPath(mgr.dir, 0))
	assert.FileExists(t, shadowPath(mgr.dir, 1))
}

func TestMarkDirtyEventuallyPersistsShadow(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	require.NoError(t, mgr.Startup())

	mgr.presetDebounce = clock.NewDebouncer(5*time.Millisecond, mgr.saveCurrentShadow)
	mgr.MarkDirty()
	time.Sleep(30 * time.Millisecond)

	_, errA := os.Stat(shadowPath(mgr.dir, 0))
	_, errB := os.Stat(shadowPath(mgr.dir, 1))
	assert.True(t, errA == nil || errB == nil)
}

func TestStartupSeedsTempoFromReferenceWAVOnFactoryFallback(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New()
	router := events.NewRouter()
	model := paramgraph.New(reg, router)

	p, err := reg.Register(registry.ModuleSystem, 1, "system/tempo_bpm", registry.DataNumeric, registry.ScopeGlobal)
	require.NoError(t, err)
	reg.SetRefTag(p, "tempo_bpm")

	mgr := NewManager(dir, reg, model, router)
	wavPath := filepath.Join(dir, "ref.wav")
	writeTestWAV(t, wavPath, 8000, 16000) // 2 seconds at 8kHz -> 120 BPM / 4 beats
	mgr.ReferenceTempoWAV = wavPath

	require.NoError(t, mgr.Startup())

	bpm := convert.FromNormalised(convert.ModuleSystem, convert.TempoBPMParamID, model.ReadNormalised(p, 0, 0))
	assert.InDelta(t, 120.0, bpm, 2.0)
}

func floatPtr(v float64) *float64 { return &v }
