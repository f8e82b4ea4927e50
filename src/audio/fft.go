package audio

import (
	"math"
	"math/cmplx"
	"sync"
)

// ----- FFT ----- //

// FFT is a radix-2 transform of a fixed power-of-two length.
type FFT struct {
	bitReverseTable []int
	wTable          []complex128
	inverse         bool
	work            []complex128
}

// NewFFT ...
func NewFFT(length int, inverse bool) *FFT {
	return &FFT{
		bitReverseTable: makeBitReverseTable(length),
		wTable:          makeWTable(length),
		inverse:         inverse,
		work:            make([]complex128, length),
	}
}

// Len ...
func (fft *FFT) Len() int {
	return len(fft.bitReverseTable)
}

func makeBitReverseTable(n int) []int {
	table := make([]int, n)
	for i := range table {
		table[i] = bitReverse(i, n)
	}
	return table
}

func bitReverse(k, n int) int {
	m := 0
	for ; n > 1; n = n >> 1 {
		m = m<<1 + k&1
		k = k >> 1
	}
	return m
}

func makeWTable(n int) []complex128 {
	table := make([]complex128, n)
	w := -2.0 * math.Pi / float64(n)
	for i := range table {
		table[i] = cmplx.Exp(complex(0, w*float64(i)))
	}
	return table
}

// Calc transforms x in place. Inputs of another length are left untouched.
func (fft *FFT) Calc(x []complex128) bool {
	n := len(x)
	if n != fft.Len() {
		return false
	}
	for i, rev := range fft.bitReverseTable {
		if i < rev {
			x[i], x[rev] = x[rev], x[i]
		}
	}
	for m := 1; m < n; m = m << 1 {
		step := m << 1
		for k := 0; k < m; k++ {
			idx := n / step * k
			if fft.inverse {
				idx = (n - idx) % n
			}
			w := fft.wTable[idx]
			for i := k; i < n; i += step {
				j := i + m
				tmp := x[j] * w
				x[j] = x[i] - tmp
				x[i] = x[i] + tmp
			}
		}
	}
	if fft.inverse {
		scale := complex(float64(n), 0)
		for i := range x {
			x[i] /= scale
		}
	}
	return true
}

func (fft *FFT) calcWith(x []float64, out func(c complex128) float64) bool {
	if len(x) != fft.Len() {
		return false
	}
	for i, v := range x {
		fft.work[i] = complex(v, 0)
	}
	fft.Calc(fft.work)
	for i, c := range fft.work {
		x[i] = out(c)
	}
	return true
}

// CalcReal replaces x with the real part of its transform.
func (fft *FFT) CalcReal(x []float64) bool {
	return fft.calcWith(x, func(c complex128) float64 { return real(c) })
}

// CalcAbs replaces x with the magnitude of its transform.
func (fft *FFT) CalcAbs(x []float64) bool {
	return fft.calcWith(x, cmplx.Abs)
}

// ----- Spectrum ----- //

// spectrum keeps the latest frames of the master bus and analyzes them on demand.
type spectrum struct {
	mu     sync.Mutex
	ring   []float64
	pos    int
	window func(float64) float64
	fft    *FFT
}

func newSpectrum(size int, window string) *spectrum {
	return &spectrum{
		ring:   make([]float64, size),
		window: windowByName(window),
		fft:    NewFFT(size, false),
	}
}

func (s *spectrum) record(in []float64) {
	s.mu.Lock()
	for _, value := range in {
		s.ring[s.pos] = value
		s.pos = (s.pos + 1) % len(s.ring)
	}
	s.mu.Unlock()
}

// analyze returns the scaled magnitudes of the lower half of the bins.
func (s *spectrum) analyze() []float64 {
	n := len(s.ring)
	result := make([]float64, n)
	s.mu.Lock()
	// ring:   | 4 | 1 | 2 | 3 |
	// pos:        ^
	// result: | 1 | 2 | 3 | 4 |
	copy(result, s.ring[s.pos:])
	copy(result[n-s.pos:], s.ring[:s.pos])
	applyWindow(result, s.window)
	s.fft.CalcAbs(result)
	s.mu.Unlock()
	for i, value := range result {
		result[i] = value * 2 / float64(n)
	}
	return result[:n/2]
}
