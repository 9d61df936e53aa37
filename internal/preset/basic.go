package preset

// basicPresetJSON is the factory "BASIC" preset embedded into the binary
// so init_preset and the shadow-file fallback never depend on the
// filesystem holding a valid starting point.
const basicPresetJSON = `{
  "version": 1,
  "revision": 1,
  "params": [
    {"path": "system/tempo_bpm", "value": 0.2986},
    {"path": "system/seq_arp_midi_channel", "value": 0.0},
    {"path": "system/kbd_midi_channel", "value": 0.0667}
  ],
  "layers": [
    {
      "layer_id": "d0",
      "params": [
        {"path": "layer/voice_count", "value": 0.9333}
      ],
      "patch": {
        "name": "Basic",
        "common": [
          {"path": "daw/vcf/cutoff", "value": 0.75},
          {"path": "daw/vcf/resonance", "value": 0.0}
        ],
        "state_a": [
          {"path": "daw/vco/pitch", "value": 0.5}
        ],
        "state_b": [
          {"path": "daw/vco/pitch", "value": 0.5}
        ]
      }
    },
    {
      "layer_id": "d1",
      "params": [
        {"path": "layer/voice_count", "value": 0.0667}
      ],
      "patch": {
        "name": "Basic",
        "common": [
          {"path": "daw/vcf/cutoff", "value": 0.75},
          {"path": "daw/vcf/resonance", "value": 0.0}
        ],
        "state_a": [
          {"path": "daw/vco/pitch", "value": 0.5}
        ],
        "state_b": [
          {"path": "daw/vco/pitch", "value": 0.5}
        ]
      }
    }
  ]
}`

func parseBasicPreset() (*Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(basicPresetJSON), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
