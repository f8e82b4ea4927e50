package audio

import (
	"math"
	"testing"
)

func TestEchoRepeatsImpulse(t *testing.T) {
	e := &echo{}
	e.applyParams(10, 0.5, 1, 1000)
	expectEqual(t, len(e.line.past), 10)
	buf := make([]float64, 25)
	buf[0] = 1
	e.process(buf)
	expectNearlyEqual(t, buf[0], 1)
	expectNearlyEqual(t, buf[10], 1)
	expectNearlyEqual(t, buf[20], 0.5)
	expectNearlyEqual(t, buf[15], 0)
}

func TestDryEchoPassesThrough(t *testing.T) {
	e := &echo{}
	e.applyParams(1, 0.9, 0, 48000)
	expectEqual(t, len(e.line.past), 480)
	buf := []float64{0.1, 0.2}
	e.process(buf)
	expectEqual(t, buf[1], 0.2)
}

func TestSpectrumFindsSine(t *testing.T) {
	s := newSpectrum(256, "blackman")
	in := make([]float64, 300)
	for i := range in {
		in[i] = math.Sin(2 * math.Pi * float64(i) * 16 / 256)
	}
	s.record(in)
	result := s.analyze()
	expectEqual(t, len(result), 128)
	peak := 0
	for i, v := range result {
		if v > result[peak] {
			peak = i
		}
	}
	expectEqual(t, peak, 16)
}
