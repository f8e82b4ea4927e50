package audio

import (
	"math"
	"math/rand"
	"strings"
)

// ----- Wave Kind ----- //

type waveKind int

const (
	waveNone waveKind = iota
	waveSine
	waveTriangle
	waveSquare
	waveSquareWT
	wavePulse
	waveSaw
	waveSawWT
	waveSawRev
	waveNoise
	waveKindCount
)

var waveKindNames = [...]string{"none", "sine", "triangle", "square", "square-wt", "pulse", "saw", "saw-wt", "saw-rev", "noise"}

func (k waveKind) String() string {
	if k < 0 || k >= waveKindCount {
		return "none"
	}
	return waveKindNames[k]
}

func waveKindFromString(s string) waveKind {
	s = strings.ToLower(s)
	for i, name := range waveKindNames {
		if name == s {
			return waveKind(i)
		}
	}
	return waveNone
}

// ----- OSC ----- //

type osc struct {
	kind         waveKind
	freq         float64
	level        float64
	phase        float64
	secPerSample float64
	wavetables   *Wavetables
}

func noteWithParamsToFreq(note int, octave, coarse, fine float64) float64 {
	return noteToFreq(note) * math.Pow(2, octave+coarse/12+fine/100/12)
}

func (o *osc) init(kind waveKind, freq float64, level float64, sampleRate int, wavetables *Wavetables) {
	o.kind = kind
	o.freq = freq
	o.level = level
	o.secPerSample = 1.0 / float64(sampleRate)
	o.wavetables = wavetables
	o.phase = rand.Float64() * 2.0 * math.Pi
}

func (o *osc) step(freqRatio float64, phaseShift float64) float64 {
	freq := o.freq * freqRatio
	phase := o.phase + phaseShift
	value := 0.0
	switch o.kind {
	case waveSine:
		value = math.Sin(phase)
	case waveTriangle:
		p := positiveMod(phase/(2.0*math.Pi), 1)
		if p < 0.5 {
			value = p*4 - 1
		} else {
			value = p*(-4) + 3
		}
	case waveSquare:
		value = squareAt(phase)
	case waveSquareWT:
		if wt := o.wavetables.square(); wt != nil {
			value = wt.tables[freqToNote(freq)].getAtPhase(phase)
		} else {
			value = squareAt(phase)
		}
	case wavePulse:
		p := positiveMod(phase/(2.0*math.Pi), 1)
		if p < 0.25 {
			value = 1
		} else {
			value = -1
		}
	case waveSaw:
		value = sawAt(phase)
	case waveSawWT:
		if wt := o.wavetables.saw(); wt != nil {
			value = wt.tables[freqToNote(freq)].getAtPhase(phase)
		} else {
			value = sawAt(phase)
		}
	case waveSawRev:
		value = -sawAt(phase)
	case waveNoise:
		value = rand.Float64()*2 - 1
	}
	o.phase += 2.0 * math.Pi * freq * o.secPerSample
	if o.phase > 2.0*math.Pi {
		o.phase = math.Mod(o.phase, 2.0*math.Pi)
	}
	return value * o.level
}

func squareAt(phase float64) float64 {
	if positiveMod(phase/(2.0*math.Pi), 1) < 0.5 {
		return 1
	}
	return -1
}

func sawAt(phase float64) float64 {
	return positiveMod(phase/(2.0*math.Pi), 1)*2 - 1
}
