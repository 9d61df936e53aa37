// Package dawbridge sends parameter writes out over OSC to the external
// DSP/DAW engine: a long-lived osc.Client plus small per-call
// osc.NewMessage/Append/Send sequences. Batched variants exist because the
// preset manager writes many parameters per load and wants a
// deterministic, glitch-free order rather than a storm of independent
// single-parameter messages.
package dawbridge

import (
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/schollz/duovox/internal/paramgraph"
	"github.com/schollz/duovox/internal/registry"
)

// settleDelay is paused before state-sensitive batched writes, mirroring
// the patch-state toggle's own settle delay in internal/preset.
const settleDelay = 5 * time.Millisecond

// Bridge owns the OSC client the DAW-side DSP engine listens on.
type Bridge struct {
	client *osc.Client
	model  *paramgraph.Model
}

// New dials an OSC client at host:port. No network I/O happens until the
// first Send.
func New(host string, port int, model *paramgraph.Model) *Bridge {
	return &Bridge{client: osc.NewClient(host, port), model: model}
}

// SetParam sends a single parameter's current normalised value.
func (b *Bridge) SetParam(p *registry.Param) error {
	msg := osc.NewMessage("/set_param")
	msg.Append(p.Path)
	msg.Append(float32(b.model.ReadNormalised(p, 0, 0)))
	return b.client.Send(msg)
}

// SetGlobalParams sends a batch of global-scope parameters in the given
// order.
func (b *Bridge) SetGlobalParams(params []*registry.Param) error {
	return b.sendBatch("/set_global_params", params)
}

// SetPresetCommonParams sends a batch of preset-common-scope parameters.
func (b *Bridge) SetPresetCommonParams(params []*registry.Param) error {
	return b.sendBatch("/set_preset_common_params", params)
}

// SetLayerParams sends a batch of layer-scope parameters for one layer.
func (b *Bridge) SetLayerParams(layer int, params []*registry.Param) error {
	msg := osc.NewMessage("/set_layer_params")
	msg.Append(int32(layer))
	for _, p := range params {
		msg.Append(p.Path)
		msg.Append(float32(b.model.ReadNormalised(p, layer, 0)))
	}
	return b.client.Send(msg)
}

// SetLayerPatchStateParams sends every PatchState-scope parameter of one
// layer/state pair, after the fixed settle delay required before a
// state-sensitive batch write so the DSP engine doesn't glitch mid-load.
func (b *Bridge) SetLayerPatchStateParams(layer, state int, params []*registry.Param) error {
	time.Sleep(settleDelay)
	msg := osc.NewMessage("/set_layer_patch_state_params")
	msg.Append(int32(layer))
	msg.Append(int32(state))
	for _, p := range params {
		msg.Append(p.Path)
		msg.Append(float32(b.model.ReadNormalised(p, layer, state)))
	}
	return b.client.Send(msg)
}

func (b *Bridge) sendBatch(address string, params []*registry.Param) error {
	msg := osc.NewMessage(address)
	for _, p := range params {
		msg.Append(p.Path)
		msg.Append(float32(b.model.ReadNormalised(p, 0, 0)))
	}
	return b.client.Send(msg)
}
