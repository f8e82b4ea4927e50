package audio

import (
	"math"
)

// han, hamming and blackman take the position in the window, 0 <= x < 1.

func han(x float64) float64 {
	return 0.5 - 0.5*math.Cos(2.0*math.Pi*x)
}

func hamming(x float64) float64 {
	return 0.54 - 0.46*math.Cos(2.0*math.Pi*x)
}

func blackman(x float64) float64 {
	return 0.42 - 0.5*math.Cos(2.0*math.Pi*x) + 0.08*math.Cos(4.0*math.Pi*x)
}

func applyWindow(data []float64, window func(float64) float64) {
	n := len(data)
	for i := 0; i < n; i++ {
		data[i] = data[i] * window(float64(i)/float64(n))
	}
}

func windowByName(name string) func(float64) float64 {
	switch name {
	case "hamming":
		return hamming
	case "blackman":
		return blackman
	}
	return han
}
