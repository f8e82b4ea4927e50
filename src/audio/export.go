package audio

import (
	"context"
	"io"
	"log"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"
)

// ----- Export ----- //

// ExportSoundcard renders into a WAV file instead of a device, as fast as the
// loop runs. It stops after Frames frames when positive.
type ExportSoundcard struct {
	Path   string
	Frames uint64

	file       *os.File
	encoder    *wav.Encoder
	channels   int
	bitDepth   int
	bufferSize int
	written    uint64
}

var _ Soundcard = (*ExportSoundcard)(nil)

// Open creates the file and writes the WAV header.
func (s *ExportSoundcard) Open(cfg *Config) error {
	f, err := os.Create(s.Path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", s.Path)
	}
	s.file = f
	s.channels = cfg.ChannelNum
	s.bitDepth = cfg.BitDepthInBytes
	s.bufferSize = cfg.BufferSizeInBytes()
	s.encoder = wav.NewEncoder(f, cfg.SampleRate, cfg.BitDepthInBytes*8, cfg.ChannelNum, 1)
	return nil
}

// Play ...
func (s *ExportSoundcard) Play(ctx context.Context, r io.Reader) error {
	if s.encoder == nil {
		return errors.New("export not opened")
	}
	buf := make([]byte, s.bufferSize)
	ib := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: s.channels, SampleRate: s.encoder.SampleRate},
		SourceBitDepth: s.bitDepth * 8,
	}
	bytesPerFrame := s.channels * s.bitDepth
	for s.Frames == 0 || s.written < s.Frames {
		n, err := io.ReadFull(contextReader{ctx, r}, buf)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return err
		}
		frames := n / bytesPerFrame
		if s.Frames > 0 && s.written+uint64(frames) > s.Frames {
			frames = int(s.Frames - s.written)
		}
		ib.Data = decodePCM(ib.Data[:0], buf[:frames*bytesPerFrame], s.bitDepth)
		if err := s.encoder.Write(ib); err != nil {
			return errors.Wrap(err, "failed to encode")
		}
		s.written += uint64(frames)
	}
	log.Printf("exported %d frames to %s\n", s.written, s.Path)
	return nil
}

// Written is the number of frames encoded so far.
func (s *ExportSoundcard) Written() uint64 {
	return s.written
}

// Close finishes the WAV header and closes the file.
func (s *ExportSoundcard) Close() error {
	if s.file == nil {
		return nil
	}
	var err error
	if s.encoder != nil {
		err = s.encoder.Close()
	}
	if closeErr := s.file.Close(); err == nil {
		err = closeErr
	}
	s.file = nil
	s.encoder = nil
	return err
}

// decodePCM converts interleaved little endian PCM back to ints. 8 bit
// samples stay unsigned as WAV stores them.
func decodePCM(dst []int, buf []byte, bitDepthInBytes int) []int {
	switch bitDepthInBytes {
	case 1:
		for _, b := range buf {
			dst = append(dst, int(b))
		}
	case 2:
		for i := 0; i+1 < len(buf); i += 2 {
			dst = append(dst, int(int16(uint16(buf[i])|uint16(buf[i+1])<<8)))
		}
	}
	return dst
}
