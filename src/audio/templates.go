package audio

import (
	"fmt"

	"github.com/pkg/errors"
)

// ----- Instrument ----- //

const maxLayers = 8

// Instrument is an output channel fed by one channel per oscillator layer.
type Instrument struct {
	Output *Channel
	Layers []*Channel
}

// newInstrument builds the channels of an instrument and attaches their
// templates. Layer synths are children of the output's play recall.
func newInstrument(name string, layers int, registry *Registry, wavetables *Wavetables) (*Instrument, error) {
	if layers < 1 || layers > maxLayers {
		return nil, errors.Errorf("layers out of range: %d", layers)
	}
	output := NewChannel(name)
	output.SetOutput(true)
	play := newPlayTemplate()
	output.AddContainer(NewRecallContainer(name,
		play,
		newVolumeTemplate(AllScopes),
		newFilterTemplate(),
		newEchoTemplate(),
		newPeakTemplate(registry),
		newCountBeatsTemplate(),
	))

	inst := &Instrument{Output: output}
	for i := 0; i < layers; i++ {
		layer := NewChannel(fmt.Sprintf("%s.osc%d", name, i+1))
		synth := newSynthTemplate(wavetables)
		if err := synth.SetParentTemplate(play); err != nil {
			return nil, err
		}
		envelope := newEnvelopeTemplate()
		if err := envelope.SetParentTemplate(synth); err != nil {
			return nil, err
		}
		layer.AddContainer(NewRecallContainer(layer.name,
			newLfoTemplate(),
			synth,
			newVolumeTemplate(ScopePlayback.Mask()|ScopeNotation.Mask()|ScopeWave.Mask()),
			envelope,
			newSamplerTemplate(),
		))
		if err := output.AddInput(layer); err != nil {
			return nil, errors.Wrapf(err, "failed to link %s", layer)
		}
		inst.Layers = append(inst.Layers, layer)
	}
	return inst, nil
}

// Channels returns the output followed by the layers.
func (inst *Instrument) Channels() []*Channel {
	return append([]*Channel{inst.Output}, inst.Layers...)
}
