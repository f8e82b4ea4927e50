package audio

import (
	"os"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
	"github.com/pkg/errors"
)

// LoadSample decodes a WAV file into mono samples at sampleRate.
func LoadSample(path string, sampleRate int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	streamer, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if format.SampleRate != beep.SampleRate(sampleRate) {
		s = beep.Resample(4, format.SampleRate, beep.SampleRate(sampleRate), streamer)
	}
	return readMono(s), nil
}

// readMono drains s, averaging the two channels.
func readMono(s beep.Streamer) []float64 {
	var data []float64
	buf := make([][2]float64, 512)
	for {
		n, ok := s.Stream(buf)
		for i := 0; i < n; i++ {
			data = append(data, (buf[i][0]+buf[i][1])/2)
		}
		if !ok {
			break
		}
	}
	return data
}
