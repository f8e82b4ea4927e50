package audio

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/hajimehoshi/oto"
	"github.com/pkg/errors"
)

// Soundcard pulls encoded buffers from a reader until the context ends or the
// reader returns io.EOF.
type Soundcard interface {
	Open(cfg *Config) error
	Play(ctx context.Context, r io.Reader) error
	Close() error
}

// ----- Oto ----- //

// OtoSoundcard plays through the system audio device.
type OtoSoundcard struct {
	otoContext *oto.Context
	bufferSize int
}

var _ Soundcard = (*OtoSoundcard)(nil)

// Open ...
func (s *OtoSoundcard) Open(cfg *Config) error {
	otoContext, err := oto.NewContext(cfg.SampleRate, cfg.ChannelNum, cfg.BitDepthInBytes, cfg.BufferSizeInBytes())
	if err != nil {
		return errors.Wrap(err, "failed to open audio device")
	}
	s.otoContext = otoContext
	s.bufferSize = cfg.BufferSizeInBytes()
	return nil
}

// Play blocks until ctx is canceled.
func (s *OtoSoundcard) Play(ctx context.Context, r io.Reader) error {
	if s.otoContext == nil {
		return errors.New("soundcard not opened")
	}
	p := s.otoContext.NewPlayer()
	defer func() {
		if err := p.Close(); err != nil {
			log.Printf("error: %v", err)
		}
	}()
	if _, err := io.CopyBuffer(p, contextReader{ctx, r}, make([]byte, s.bufferSize)); err != nil {
		return err
	}
	log.Println("Play() ended.")
	return nil
}

// Close ...
func (s *OtoSoundcard) Close() error {
	if s.otoContext == nil {
		return nil
	}
	return s.otoContext.Close()
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(buf []byte) (int, error) {
	select {
	case <-c.ctx.Done():
		return 0, io.EOF
	default:
	}
	return c.r.Read(buf)
}

// ----- Headless ----- //

// HeadlessSoundcard drains the reader without a device. With Realtime set it
// paces reads at the buffer period; otherwise it runs as fast as it can.
type HeadlessSoundcard struct {
	Realtime bool
	Sink     io.Writer // optional
	Buffers  int       // stop after this many buffers when positive

	bufferSize int
	period     time.Duration
	played     int
}

var _ Soundcard = (*HeadlessSoundcard)(nil)

// Open ...
func (s *HeadlessSoundcard) Open(cfg *Config) error {
	s.bufferSize = cfg.BufferSizeInBytes()
	s.period = cfg.BufferPeriod()
	return nil
}

// Play ...
func (s *HeadlessSoundcard) Play(ctx context.Context, r io.Reader) error {
	buf := make([]byte, s.bufferSize)
	var ticker *time.Ticker
	if s.Realtime {
		ticker = time.NewTicker(s.period)
		defer ticker.Stop()
	}
	for s.Buffers <= 0 || s.played < s.Buffers {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
		n, err := io.ReadFull(contextReader{ctx, r}, buf)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
		if s.Sink != nil {
			if _, err := s.Sink.Write(buf[:n]); err != nil {
				return errors.Wrap(err, "failed to write to sink")
			}
		}
		s.played++
	}
	return nil
}

// Played is the number of buffers drained so far.
func (s *HeadlessSoundcard) Played() int {
	return s.played
}

// Close ...
func (s *HeadlessSoundcard) Close() error {
	return nil
}
