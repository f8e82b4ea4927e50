package audio

import (
	"math"
)

// ----- Filter ----- //

type filterKind int

const (
	filterNone filterKind = iota
	filterLowpassFIR
	filterHighpassFIR
	filterLowpass
	filterHighpass
	filterBandpass1
	filterBandpass2
	filterNotch
	filterPeaking
	filterLowShelf
	filterHighShelf
	filterAllpass
	filterKindCount
)

var filterKindNames = [...]string{"none", "lowpass-fir", "highpass-fir", "lowpass", "highpass", "bandpass-1", "bandpass-2", "notch", "peaking", "lowshelf", "highshelf", "allpass"}

func (k filterKind) String() string {
	if k < 0 || k >= filterKindCount {
		return "none"
	}
	return filterKindNames[k]
}

func filterKindFromString(s string) filterKind {
	for i, name := range filterKindNames {
		if name == s {
			return filterKind(i)
		}
	}
	return filterNone
}

const firOrder = 32

type filter struct {
	kind       filterKind
	freq       float64
	q          float64
	gain       float64
	sampleRate int
	a          []float64 // feedforward
	b          []float64 // feedback
	past       []float64
}

func (f *filter) configure(kind filterKind, freq, q, gain float64, sampleRate int) {
	if f.a != nil && f.kind == kind && f.freq == freq && f.q == q && f.gain == gain && f.sampleRate == sampleRate {
		return
	}
	f.kind = kind
	f.freq = freq
	f.q = q
	f.gain = gain
	f.sampleRate = sampleRate
	f.a, f.b = f.coefficients()
	size := int(math.Max(float64(len(f.a)-1), float64(len(f.b))))
	if len(f.past) != size {
		f.past = make([]float64, size)
	}
}

func (f *filter) coefficients() ([]float64, []float64) {
	fc := f.freq / float64(f.sampleRate)
	q := f.q
	if q <= 0 {
		q = 1 / math.Sqrt2
	}
	switch f.kind {
	case filterLowpassFIR:
		return makeFIRLowpassH(firOrder, fc, hamming)
	case filterHighpassFIR:
		return makeFIRHighpassH(firOrder, fc, hamming)
	case filterLowpass:
		return makeBiquadLowpassH(fc, q)
	case filterHighpass:
		return makeBiquadHighpassH(fc, q)
	case filterBandpass1:
		return makeBiquadBandpass1H(fc, q)
	case filterBandpass2:
		return makeBiquadBandpass2H(fc, q)
	case filterNotch:
		return makeBiquadNotchH(fc, q)
	case filterPeaking:
		return makeBiquadPeakingEQH(fc, q, f.gain)
	case filterLowShelf:
		return makeBiquadLowShelfH(fc, q, f.gain)
	case filterHighShelf:
		return makeBiquadHighShelfH(fc, q, f.gain)
	case filterAllpass:
		return makeBiquadAllpassH(fc, q)
	}
	return makeNoFilterH()
}

// process filters buf in place.
func (f *filter) process(buf []float64) {
	for i, in := range buf {
		buf[i] = processFilterEach(in, f.a, f.b, f.past)
	}
}

func processFilterEach(in float64, a []float64, b []float64, past []float64) float64 {
	// apply b
	for j := 0; j < len(b); j++ {
		in -= past[j] * b[j]
	}
	// apply a
	o := in * a[0]
	for j := 1; j < len(a); j++ {
		o += past[j-1] * a[j]
	}
	// unshift past
	for j := len(past) - 2; j >= 0; j-- {
		past[j+1] = past[j]
	}
	if len(past) > 0 {
		past[0] = in
	}
	return o
}

func impulseResponse(a []float64, b []float64, n int) []float64 {
	out := make([]float64, n)
	past := make([]float64, int(math.Max(float64(len(a)-1), float64(len(b)))))
	for i := range out {
		in := 0.0
		if i == 0 {
			in = 1
		}
		out[i] = processFilterEach(in, a, b, past)
	}
	return out
}

// frequencyResponse returns the magnitude response in fft.Len()/2 bins.
func frequencyResponse(a []float64, b []float64, fft *FFT) []float64 {
	n := fft.Len()
	h := impulseResponse(a, b, n)
	fft.CalcAbs(h)
	return h[:n/2]
}

func makeNoFilterH() ([]float64, []float64) {
	return []float64{1}, []float64{}
}

func makeFIRLowpassH(N int, fc float64, windowFunc func(float64) float64) ([]float64, []float64) {
	w0 := 2 * math.Pi * fc
	if N%2 != 0 {
		N++
	}
	h := make([]float64, N+1)
	for i := 0; i <= N; i++ {
		n := float64(i - N/2)
		h[i] = 2 * fc * sinc(w0*n)
	}
	applyWindow(h, windowFunc)
	return h, []float64{}
}

func makeFIRHighpassH(N int, fc float64, windowFunc func(float64) float64) ([]float64, []float64) {
	w0 := 2 * math.Pi * fc
	if N%2 != 0 {
		N++
	}
	h := make([]float64, N+1)
	for i := 0; i <= N; i++ {
		n := float64(i - N/2)
		h[i] = sinc(math.Pi*n) - 2*fc*sinc(w0*n)
	}
	applyWindow(h, windowFunc)
	return h, []float64{}
}

func makeBiquadLowpassH(fc float64, q float64) ([]float64, []float64) {
	// from RBJ's cookbook
	w0 := 2 * math.Pi * fc
	alpha := math.Sin(w0) / (2 * q)
	b0 := (1 - math.Cos(w0)) / 2
	b1 := (1 - math.Cos(w0))
	b2 := (1 - math.Cos(w0)) / 2
	a0 := 1 + alpha
	a1 := -2 * math.Cos(w0)
	a2 := 1 - alpha
	return []float64{b0 / a0, b1 / a0, b2 / a0}, []float64{a1 / a0, a2 / a0}
}

func makeBiquadHighpassH(fc float64, q float64) ([]float64, []float64) {
	// from RBJ's cookbook
	w0 := 2 * math.Pi * fc
	alpha := math.Sin(w0) / (2 * q)
	b0 := (1 + math.Cos(w0)) / 2
	b1 := -(1 + math.Cos(w0))
	b2 := (1 + math.Cos(w0)) / 2
	a0 := 1 + alpha
	a1 := -2 * math.Cos(w0)
	a2 := 1 - alpha
	return []float64{b0 / a0, b1 / a0, b2 / a0}, []float64{a1 / a0, a2 / a0}
}

func makeBiquadBandpass1H(fc float64, q float64) ([]float64, []float64) {
	// from RBJ's cookbook
	w0 := 2 * math.Pi * fc
	alpha := math.Sin(w0) / (2 * q)
	b0 := math.Sin(w0) / 2
	b1 := 0.0
	b2 := -math.Sin(w0) / 2
	a0 := 1 + alpha
	a1 := -2 * math.Cos(w0)
	a2 := 1 - alpha
	return []float64{b0 / a0, b1 / a0, b2 / a0}, []float64{a1 / a0, a2 / a0}
}

func makeBiquadBandpass2H(fc float64, q float64) ([]float64, []float64) {
	// from RBJ's cookbook
	w0 := 2 * math.Pi * fc
	alpha := math.Sin(w0) / (2 * q)
	b0 := alpha
	b1 := 0.0
	b2 := -alpha
	a0 := 1 + alpha
	a1 := -2 * math.Cos(w0)
	a2 := 1 - alpha
	return []float64{b0 / a0, b1 / a0, b2 / a0}, []float64{a1 / a0, a2 / a0}
}

func makeBiquadNotchH(fc float64, q float64) ([]float64, []float64) {
	// from RBJ's cookbook
	w0 := 2 * math.Pi * fc
	alpha := math.Sin(w0) / (2 * q)
	b0 := 1.0
	b1 := -2 * math.Cos(w0)
	b2 := 1.0
	a0 := 1 + alpha
	a1 := -2 * math.Cos(w0)
	a2 := 1 - alpha
	return []float64{b0 / a0, b1 / a0, b2 / a0}, []float64{a1 / a0, a2 / a0}
}

func makeBiquadAllpassH(fc float64, q float64) ([]float64, []float64) {
	// from RBJ's cookbook
	w0 := 2 * math.Pi * fc
	alpha := math.Sin(w0) / (2 * q)
	b0 := 1 - alpha
	b1 := -2 * math.Cos(w0)
	b2 := 1 + alpha
	a0 := 1 + alpha
	a1 := -2 * math.Cos(w0)
	a2 := 1 - alpha
	return []float64{b0 / a0, b1 / a0, b2 / a0}, []float64{a1 / a0, a2 / a0}
}

func makeBiquadPeakingEQH(fc float64, q float64, dBgain float64) ([]float64, []float64) {
	// from RBJ's cookbook
	w0 := 2 * math.Pi * fc
	alpha := math.Sin(w0) / (2 * q)
	A := math.Pow(10, dBgain/40)
	b0 := 1 + alpha*A
	b1 := -2 * math.Cos(w0)
	b2 := 1 - alpha*A
	a0 := 1 + alpha/A
	a1 := -2 * math.Cos(w0)
	a2 := 1 - alpha/A
	return []float64{b0 / a0, b1 / a0, b2 / a0}, []float64{a1 / a0, a2 / a0}
}

func makeBiquadLowShelfH(fc float64, q float64, dBgain float64) ([]float64, []float64) {
	// from RBJ's cookbook
	w0 := 2 * math.Pi * fc
	alpha := math.Sin(w0) / (2 * q)
	A := math.Pow(10, dBgain/40)
	b0 := A * ((A + 1) - (A-1)*math.Cos(w0) + 2*math.Sqrt(A)*alpha)
	b1 := 2 * A * ((A - 1) - (A+1)*math.Cos(w0))
	b2 := A * ((A + 1) - (A-1)*math.Cos(w0) - 2*math.Sqrt(A)*alpha)
	a0 := (A + 1) + (A-1)*math.Cos(w0) + 2*math.Sqrt(A)*alpha
	a1 := -2 * ((A - 1) + (A+1)*math.Cos(w0))
	a2 := (A + 1) + (A-1)*math.Cos(w0) - 2*math.Sqrt(A)*alpha
	return []float64{b0 / a0, b1 / a0, b2 / a0}, []float64{a1 / a0, a2 / a0}
}

func makeBiquadHighShelfH(fc float64, q float64, dBgain float64) ([]float64, []float64) {
	// from RBJ's cookbook
	w0 := 2 * math.Pi * fc
	alpha := math.Sin(w0) / (2 * q)
	A := math.Pow(10, dBgain/40)
	b0 := A * ((A + 1) + (A-1)*math.Cos(w0) + 2*math.Sqrt(A)*alpha)
	b1 := -2 * A * ((A - 1) + (A+1)*math.Cos(w0))
	b2 := A * ((A + 1) + (A-1)*math.Cos(w0) - 2*math.Sqrt(A)*alpha)
	a0 := (A + 1) - (A-1)*math.Cos(w0) + 2*math.Sqrt(A)*alpha
	a1 := 2 * ((A - 1) - (A+1)*math.Cos(w0))
	a2 := (A + 1) - (A-1)*math.Cos(w0) - 2*math.Sqrt(A)*alpha
	return []float64{b0 / a0, b1 / a0, b2 / a0}, []float64{a1 / a0, a2 / a0}
}

func sinc(x float64) float64 {
	if math.Abs(x) < 0.000000001 {
		return 1
	}
	return math.Sin(x) / x
}
