package audio

import (
	"math"
)

// ----- ADSR ----- //

const (
	phaseNone = iota
	phaseAttack
	phaseDecay
	phaseSustain
	phaseRelease
)

/*
  p +     x
    |    / \
    |   /   \
  s +  /     x------x
    | /              \
    |/                \
  b +-----+--+------+---
    |a    |d |      |r |
*/
type adsr struct {
	attack         float64 // ms
	decay          float64 // ms
	sustain        float64 // 0-1
	release        float64 // ms
	secPerSample   float64
	value          float64
	phase          int
	phasePos       int
	valueAtNoteOn  float64
	valueAtNoteOff float64
}

func (a *adsr) init(sampleRate int, attack, decay, sustain, release float64) {
	a.secPerSample = 1.0 / float64(sampleRate)
	a.setParams(attack, decay, sustain, release)
	a.value = 0
	a.phase = phaseNone
	a.phasePos = 0
	a.valueAtNoteOn = 0
	a.valueAtNoteOff = 0
}

func (a *adsr) setParams(attack, decay, sustain, release float64) {
	a.attack = attack
	a.decay = decay
	a.sustain = sustain
	a.release = release
}

func (a *adsr) noteOn() {
	a.phase = phaseAttack
	a.phasePos = 0
	a.valueAtNoteOn = a.value
}

func (a *adsr) noteOff() {
	a.phase = phaseRelease
	a.phasePos = 0
	a.valueAtNoteOff = a.value
}

// released reports whether the release phase ran to its end.
func (a *adsr) released() bool {
	return a.phase == phaseNone
}

func (a *adsr) step() {
	phaseTime := float64(a.phasePos) * a.secPerSample * 1000 // ms
	switch a.phase {
	case phaseAttack:
		if phaseTime >= a.attack {
			a.phase = phaseDecay
			a.phasePos = 0
			a.value = 1
		} else {
			t := phaseTime / a.attack
			a.value = t + (1-t)*a.valueAtNoteOn
			a.phasePos++
		}
	case phaseDecay:
		ended := false
		if a.decay == 0 {
			ended = true
		} else {
			t := phaseTime / a.decay
			a.value = setTargetAtTime(1, a.sustain, t)
			if math.Abs(a.value-a.sustain) < 0.001 {
				ended = true
			}
		}
		if ended {
			a.phase = phaseSustain
			a.phasePos = 0
			a.value = a.sustain
		} else {
			a.phasePos++
		}
	case phaseSustain:
		a.value = a.sustain
	case phaseRelease:
		ended := false
		if a.release == 0 {
			ended = true
		} else {
			t := phaseTime / a.release
			a.value = setTargetAtTime(a.valueAtNoteOff, 0, t)
			if math.Abs(a.value) < 0.001 {
				ended = true
			}
		}
		if ended {
			a.phase = phaseNone
			a.phasePos = 0
			a.value = 0
		} else {
			a.phasePos++
		}
	default:
		a.value = 0
	}
}
