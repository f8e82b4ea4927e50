package audio

import (
	"math"
)

// ----- LFO ----- //

// lfoBehavior renders one modulation value per frame of the buffer. The
// synth of the same voice depends on it and reads the ratios at run-inter.
type lfoBehavior struct {
	osc         osc
	destination destination
	amount      float64
	freqRatio   []float64
	phaseShift  []float64
	ampRatio    []float64
}

func newLfoTemplate() *Recall {
	return NewTemplate("lfo", &lfoBehavior{}, ScopePlayback.Mask()|ScopeNotation.Mask(), 0,
		NewPort("destination", float64(destNone), 0, float64(destinationCount-1)),
		NewPort("wave", float64(waveSine), 0, float64(waveKindCount-1)),
		NewPort("freq", 5, 0.1, 20), // Hz, or a ratio of the carrier for fm/pm/am
		NewPort("amount", 0, 0, 100),
	)
}

func (b *lfoBehavior) Clone() Behavior {
	return &lfoBehavior{}
}

func (b *lfoBehavior) applyParams(r *Recall) {
	b.destination = destination(r.value("destination", 0))
	b.osc.kind = waveKind(r.value("wave", float64(waveSine)))
	b.osc.freq = r.value("freq", 5)
	b.amount = r.value("amount", 0)
}

func (b *lfoBehavior) RunInit(r *Recall, p *Pass) {
	if p.Stage != StageRunInitPre {
		return
	}
	b.osc.init(waveSine, 0, 1, p.SampleRate, nil)
	b.applyParams(r)
}

func (b *lfoBehavior) Automate(r *Recall, p *Pass) {
	b.applyParams(r)
}

// Run fills the ratios for carrier, the frequency of the voice's synth.
func (b *lfoBehavior) Run(r *Recall, p *Pass) {
	if p.Stage != StageRunPre {
		return
	}
	b.freqRatio = resize(b.freqRatio, p.BufferSize)
	b.phaseShift = resize(b.phaseShift, p.BufferSize)
	b.ampRatio = resize(b.ampRatio, p.BufferSize)
	carrier := noteToFreq(p.Playback.key)
	for i := 0; i < p.BufferSize; i++ {
		b.freqRatio[i], b.phaseShift[i], b.ampRatio[i] = b.step(carrier)
	}
}

func (b *lfoBehavior) step(carrier float64) (float64, float64, float64) {
	freqRatio := 1.0
	phaseShift := 0.0
	ampRatio := 1.0
	switch b.destination {
	case destVibrato:
		freqRatio = math.Pow(2.0, b.osc.step(1, 0)*b.amount/100.0/12.0)
	case destTremolo:
		ampRatio = 1.0 + (b.osc.step(1, 0)-1.0)/2.0*b.amount/100
	case destFM:
		freqRatio = math.Pow(2.0, b.osc.step(carrier, 0)*b.amount/100/12)
	case destPM:
		phaseShift = b.osc.step(carrier, 0) * b.amount / 100
	case destAM:
		ampRatio = 1.0 + b.osc.step(carrier, 0)*b.amount/100
	}
	return freqRatio, phaseShift, ampRatio
}

// at returns the modulation of frame i, neutral when the buffer was not
// rendered.
func (b *lfoBehavior) at(i int) (float64, float64, float64) {
	if b == nil || i >= len(b.freqRatio) {
		return 1, 0, 1
	}
	return b.freqRatio[i], b.phaseShift[i], b.ampRatio[i]
}

func (b *lfoBehavior) Empty(r *Recall, p *Pass) bool {
	return processorEmpty(r)
}

func resize(buf []float64, size int) []float64 {
	if cap(buf) >= size {
		return buf[:size]
	}
	return make([]float64, size)
}
