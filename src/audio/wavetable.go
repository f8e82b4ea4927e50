package audio

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

type wavetable struct {
	values []float64
}

func newWavetable(cap int) *wavetable {
	return &wavetable{
		values: make([]float64, 0, cap),
	}
}

func (wt *wavetable) generate(samples int, phaseToValue func(phase float64) float64) error {
	if samples > cap(wt.values) {
		return errors.New("capacity exceeded")
	}
	wt.values = wt.values[0:samples]
	for i := 0; i < samples; i++ {
		phase := 2.0 * math.Pi / float64(samples) * float64(i)
		wt.values[i] = phaseToValue(phase)
	}
	return nil
}

func (wt *wavetable) getAtPhase(phase float64) float64 {
	length := len(wt.values)
	if length == 0 {
		return 0
	}
	phase = positiveMod(phase, 2.0*math.Pi)
	phasePerSample := 2.0 * math.Pi / float64(length)
	index := int(phase / phasePerSample)
	if index >= length {
		index = length - 1
	}
	nextIndex := index + 1
	if nextIndex >= length {
		nextIndex = 0
	}
	mod := math.Mod(phase, phasePerSample) / phasePerSample
	return wt.values[index]*(1-mod) + wt.values[nextIndex]*mod
}

func (wt *wavetable) makeBandLimitedTable(samples int, partials int, calcFourierPartialAtPhase func(n int, phase float64) float64) error {
	return wt.generate(samples, func(phase float64) float64 {
		value := 0.0
		for i := 1; i <= partials; i++ {
			value += calcFourierPartialAtPhase(i, phase)
		}
		return value
	})
}

// WavetableSet holds one band-limited table per MIDI note.
type WavetableSet struct {
	tables []*wavetable
}

// NewWavetableSet ...
func NewWavetableSet(tableCap int, sampleCap int) *WavetableSet {
	tables := make([]*wavetable, tableCap)
	for i := 0; i < tableCap; i++ {
		tables[i] = newWavetable(sampleCap)
	}
	return &WavetableSet{
		tables: tables,
	}
}

// MakeBandLimitedTablesForAllNotes fills every note with as many partials as
// fit below the Nyquist frequency of sampleRate.
func (wts *WavetableSet) MakeBandLimitedTablesForAllNotes(samples int, sampleRate int, calcFourierPartialAtPhase func(n int, phase float64) float64) error {
	if cap(wts.tables) < 128 {
		return errors.New("capacity of tables exceeded")
	}
	wts.tables = wts.tables[0:128]
	for note := 0; note < 128; note++ {
		partials := int(float64(sampleRate) / 2 / noteToFreq(note))
		if err := wts.tables[note].makeBandLimitedTable(samples, partials, calcFourierPartialAtPhase); err != nil {
			return errors.Wrapf(err, "note %d", note)
		}
	}
	return nil
}

// IO
//   all = { number_of_tables int32, tables []table }
//   table = { number_of_samples int32, samples []float64 }

// Save ...
func (wts *WavetableSet) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	w := bufio.NewWriter(file)
	if err := binary.Write(w, binary.BigEndian, int32(len(wts.tables))); err != nil {
		return err
	}
	for _, wt := range wts.tables {
		if err := binary.Write(w, binary.BigEndian, int32(len(wt.values))); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, wt.values); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Load ...
func (wts *WavetableSet) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	r := bufio.NewReader(file)
	var numTables int32
	if err := binary.Read(r, binary.BigEndian, &numTables); err != nil {
		return err
	}
	if numTables < 0 || int(numTables) > cap(wts.tables) {
		return errors.Errorf("number of tables exceeded: %d", numTables)
	}
	wts.tables = wts.tables[0:numTables]
	for _, wt := range wts.tables {
		var numSamples int32
		if err := binary.Read(r, binary.BigEndian, &numSamples); err != nil {
			return err
		}
		if numSamples < 0 || int(numSamples) > cap(wt.values) {
			return errors.Errorf("number of samples exceeded: %d", numSamples)
		}
		wt.values = wt.values[0:numSamples]
		if err := binary.Read(r, binary.BigEndian, wt.values); err != nil {
			return err
		}
	}
	return nil
}

// ----- Wavetables ----- //

const (
	wavetableNotes   = 128
	wavetableSamples = 4096
)

// Wavetables are the band-limited tables shared read-only by synth recalls.
// A nil set falls back to naive waveforms.
type Wavetables struct {
	Square *WavetableSet
	Saw    *WavetableSet
}

// LoadWavetables reads square.wt and saw.wt from dir.
func LoadWavetables(dir string) (*Wavetables, error) {
	square := NewWavetableSet(wavetableNotes, wavetableSamples)
	if err := square.Load(filepath.Join(dir, "square.wt")); err != nil {
		return nil, errors.Wrap(err, "failed to load square wavetables")
	}
	saw := NewWavetableSet(wavetableNotes, wavetableSamples)
	if err := saw.Load(filepath.Join(dir, "saw.wt")); err != nil {
		return nil, errors.Wrap(err, "failed to load saw wavetables")
	}
	return &Wavetables{Square: square, Saw: saw}, nil
}

func (w *Wavetables) square() *WavetableSet {
	if w == nil || w.Square == nil || len(w.Square.tables) < wavetableNotes {
		return nil
	}
	return w.Square
}

func (w *Wavetables) saw() *WavetableSet {
	if w == nil || w.Saw == nil || len(w.Saw.tables) < wavetableNotes {
		return nil
	}
	return w.Saw
}

// CalcPartialSquareAtPhase is the n-th Fourier partial of a square wave.
func CalcPartialSquareAtPhase(n int, phase float64) float64 {
	if n%2 == 1 {
		x := float64(n)
		return math.Sin(x*phase) / x
	}
	return 0.0
}

// CalcPartialSawAtPhase is the n-th Fourier partial of a saw wave.
func CalcPartialSawAtPhase(n int, phase float64) float64 {
	x := float64(n)
	return math.Sin(x*phase) / x
}
