package audio

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ----- Config ----- //

const (
	defaultSampleRate      = 48000
	defaultBufferSize      = 1024
	defaultChannelNum      = 2
	defaultBitDepthInBytes = 2
	defaultBPM             = 120.0
	baseFreq               = 442.0
	maxBufferSize          = 1 << 16
)

// Config holds the engine settings.
type Config struct {
	SampleRate      int
	BufferSize      int // frames per buffer
	ChannelNum      int
	BitDepthInBytes int
	BPM             float64
	Numerator       int
	Denominator     int
	DelayFactor     float64
	// Timelock bounds how long one buffer may take. Zero means one buffer period,
	// negative waits without bound.
	Timelock  time.Duration
	MaxVoices int
	Volume    float64
	// Patterns maps channel names to 16-step sequencer patterns.
	Patterns map[string]string
	// WavetableDir holds square.wt and saw.wt made by gentables.
	WavetableDir string
	PresetDir    string
	// PeakResetEvery is the number of buffers between peak meter resets.
	PeakResetEvery int
	// FFTWindow is one of han, hamming or blackman.
	FFTWindow string
}

// DefaultConfig ...
func DefaultConfig() *Config {
	return &Config{
		SampleRate:      defaultSampleRate,
		BufferSize:      defaultBufferSize,
		ChannelNum:      defaultChannelNum,
		BitDepthInBytes: defaultBitDepthInBytes,
		BPM:             defaultBPM,
		Numerator:       4,
		Denominator:     4,
		DelayFactor:     1.0,
		MaxVoices:       128,
		Volume:          0.5,
		Patterns:        map[string]string{},
		WavetableDir:    "work",
		PresetDir:       "presets",
		PeakResetEvery:  16,
		FFTWindow:       "han",
	}
}

// LoadConfig loads the configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	ints := map[string]*int{
		"DESKTOP_SEQUENCER_SAMPLE_RATE": &cfg.SampleRate,
		"DESKTOP_SEQUENCER_BUFFER_SIZE": &cfg.BufferSize,
		"DESKTOP_SEQUENCER_NUMERATOR":   &cfg.Numerator,
		"DESKTOP_SEQUENCER_DENOMINATOR": &cfg.Denominator,
		"DESKTOP_SEQUENCER_MAX_VOICES":  &cfg.MaxVoices,
		"DESKTOP_SEQUENCER_PEAK_RESET":  &cfg.PeakResetEvery,
	}
	for key, dst := range ints {
		if value := os.Getenv(key); value != "" {
			val, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid %s", key)
			}
			*dst = val
		}
	}
	floats := map[string]*float64{
		"DESKTOP_SEQUENCER_BPM":          &cfg.BPM,
		"DESKTOP_SEQUENCER_DELAY_FACTOR": &cfg.DelayFactor,
		"DESKTOP_SEQUENCER_VOLUME":       &cfg.Volume,
	}
	for key, dst := range floats {
		if value := os.Getenv(key); value != "" {
			val, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid %s", key)
			}
			*dst = val
		}
	}
	if value := os.Getenv("DESKTOP_SEQUENCER_WAVETABLES"); value != "" {
		cfg.WavetableDir = value
	}
	if value := os.Getenv("DESKTOP_SEQUENCER_PRESETS"); value != "" {
		cfg.PresetDir = value
	}
	if value := os.Getenv("DESKTOP_SEQUENCER_FFT_WINDOW"); value != "" {
		cfg.FFTWindow = value
	}
	if value := os.Getenv("DESKTOP_SEQUENCER_TIMELOCK"); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, errors.Wrap(err, "invalid DESKTOP_SEQUENCER_TIMELOCK")
		}
		cfg.Timelock = d
	}
	// Patterns from JSON, e.g. {"drums":"x...x...x...x..."}
	if value := os.Getenv("DESKTOP_SEQUENCER_PATTERNS"); value != "" {
		var patterns map[string]string
		if err := json.Unmarshal([]byte(value), &patterns); err != nil {
			return nil, errors.Wrap(err, "invalid DESKTOP_SEQUENCER_PATTERNS")
		}
		for name, pattern := range patterns {
			cfg.Patterns[name] = pattern
		}
	}
	return cfg, cfg.Validate()
}

// Validate ...
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return errors.Errorf("sample rate should be positive: %d", c.SampleRate)
	}
	if c.BufferSize <= 0 || c.BufferSize > maxBufferSize {
		return errors.Errorf("buffer size out of range: %d", c.BufferSize)
	}
	if c.ChannelNum <= 0 {
		return errors.Errorf("channel num should be positive: %d", c.ChannelNum)
	}
	if c.BitDepthInBytes != 1 && c.BitDepthInBytes != 2 {
		return errors.Errorf("unsupported bit depth: %d bytes", c.BitDepthInBytes)
	}
	if c.BPM <= 0 {
		return errors.Errorf("bpm should be positive: %v", c.BPM)
	}
	if c.Numerator <= 0 || c.Denominator <= 0 {
		return errors.Errorf("invalid time signature %d/%d", c.Numerator, c.Denominator)
	}
	if c.DelayFactor <= 0 {
		return errors.Errorf("delay factor should be positive: %v", c.DelayFactor)
	}
	return nil
}

// BytesPerFrame ...
func (c *Config) BytesPerFrame() int {
	return c.BitDepthInBytes * c.ChannelNum
}

// BufferSizeInBytes ...
func (c *Config) BufferSizeInBytes() int {
	return c.BufferSize * c.BytesPerFrame()
}

// BufferPeriod is the wall-clock length of one buffer.
func (c *Config) BufferPeriod() time.Duration {
	return time.Duration(float64(time.Second) * float64(c.BufferSize) / float64(c.SampleRate))
}

// timelock resolves the per-buffer deadline budget.
func (c *Config) timelock() time.Duration {
	switch {
	case c.Timelock < 0:
		return 0
	case c.Timelock == 0:
		return c.BufferPeriod()
	default:
		return c.Timelock
	}
}
