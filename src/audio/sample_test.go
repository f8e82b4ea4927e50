package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeTestWav writes a mono 16-bit sine of n frames.
func writeTestWav(t *testing.T, rate, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sine.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	defer f.Close()
	data := make([]int, n)
	for i := range data {
		data[i] = int(16000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	expectNoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	expectNoError(t, enc.Close())
	return path
}

func TestLoadSampleResamples(t *testing.T) {
	path := writeTestWav(t, 24000, 2400)
	data, err := LoadSample(path, 48000)
	expectNoError(t, err)
	if len(data) < 4500 || len(data) > 5000 {
		t.Errorf("expected about 4800 frames, but got: %d", len(data))
	}
	peak := 0.0
	for _, v := range data {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak < 0.3 || peak > 0.6 {
		t.Errorf("expected a peak near 0.49, but got: %v", peak)
	}

	same, err := LoadSample(path, 24000)
	expectNoError(t, err)
	expectEqual(t, len(same), 2400)

	if _, err := LoadSample(filepath.Join(t.TempDir(), "missing.wav"), 48000); err == nil {
		t.Errorf("expected an error for a missing file")
	}
}

func TestSamplerPlaysOnce(t *testing.T) {
	l := newTestLoop(t)
	inst, err := newInstrument("drums", 1, l.registry, nil)
	expectNoError(t, err)
	sample := make([]float64, 1000)
	for i := range sample {
		sample[i] = 0.5
	}
	inst.Layers[0].SetSample(sample)

	pb := NewPlayback(inst.Output, ScopeWave, 0, 1, 0)
	l.Add(pb)
	iterate(t, l, 1)
	heard := false
	for _, v := range l.Bus().Buffer() {
		if v != 0 {
			heard = true
			break
		}
	}
	if !heard {
		t.Errorf("expected the sample on the bus")
	}
	for i := 0; i < 20 && !pb.IsFinished(); i++ {
		iterate(t, l, 1)
	}
	if !pb.IsFinished() {
		t.Errorf("expected the voice to end with its sample")
	}
}
