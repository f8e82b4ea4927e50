package audio

import (
	"sync"
	"sync/atomic"
)

// ----- Audio Signal ----- //

// AudioSignal is one segment of a voice: the buffer rendered for the current
// tic, plus optional sample data it plays from.
type AudioSignal struct {
	recycling *Recycling
	recallID  *RecallID
	Buffer    []float64
	data      []float64
	pos       int
	frames    uint64
}

// NewAudioSignal ...
func NewAudioSignal(bufferSize int, id *RecallID) *AudioSignal {
	return &AudioSignal{
		recallID: id,
		Buffer:   make([]float64, bufferSize),
	}
}

// Recycling ...
func (s *AudioSignal) Recycling() *Recycling {
	return s.recycling
}

// RecallID ...
func (s *AudioSignal) RecallID() *RecallID {
	return s.recallID
}

// Frames returns how many frames were rendered.
func (s *AudioSignal) Frames() uint64 {
	return s.frames
}

// SetData attaches sample data read by sampler recalls.
func (s *AudioSignal) SetData(data []float64) {
	s.data = data
	s.pos = 0
}

// Remaining returns the number of sample frames not yet played.
func (s *AudioSignal) Remaining() int {
	return len(s.data) - s.pos
}

func (s *AudioSignal) clear() {
	for i := range s.Buffer {
		s.Buffer[i] = 0
	}
}

func (s *AudioSignal) resize(bufferSize int) {
	if cap(s.Buffer) >= bufferSize {
		s.Buffer = s.Buffer[:bufferSize]
	} else {
		s.Buffer = make([]float64, bufferSize)
	}
}

// Peak ...
func (s *AudioSignal) Peak() float64 {
	peak := 0.0
	for _, v := range s.Buffer {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// ----- Recycling ----- //

var recyclingSeq atomic.Uint64

// Recycling is the ordered chain of AudioSignals of one channel's one voice.
// It owns its signals; the channel is a non-owning back-reference.
type Recycling struct {
	mu      sync.Mutex
	id      uint64
	channel *Channel
	signals []*AudioSignal
}

// NewRecycling ...
func NewRecycling(channel *Channel) *Recycling {
	return &Recycling{
		id:      recyclingSeq.Add(1),
		channel: channel,
	}
}

// ID ...
func (r *Recycling) ID() uint64 {
	return r.id
}

// Channel ...
func (r *Recycling) Channel() *Channel {
	return r.channel
}

// AddAudioSignal appends s and takes ownership of it.
func (r *Recycling) AddAudioSignal(s *AudioSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.recycling = r
	r.signals = append(r.signals, s)
}

// RemoveAudioSignal ...
func (r *Recycling) RemoveAudioSignal(s *AudioSignal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, signal := range r.signals {
		if signal == s {
			r.signals = append(r.signals[:i], r.signals[i+1:]...)
			s.recycling = nil
			return true
		}
	}
	return false
}

// RemoveRecallID drops every signal rendered for id.
func (r *Recycling) RemoveRecallID(id *RecallID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.signals[:0]
	removed := 0
	for _, s := range r.signals {
		if s.recallID == id {
			s.recycling = nil
			removed++
			continue
		}
		kept = append(kept, s)
	}
	for i := len(kept); i < len(r.signals); i++ {
		r.signals[i] = nil
	}
	r.signals = kept
	return removed
}

// Signals returns a snapshot of the chain.
func (r *Recycling) Signals() []*AudioSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	signals := make([]*AudioSignal, len(r.signals))
	copy(signals, r.signals)
	return signals
}

// FindSignal returns the signal rendered for id.
func (r *Recycling) FindSignal(id *RecallID) *AudioSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.signals {
		if s.recallID == id {
			return s
		}
	}
	return nil
}

// Signal returns the signal of id, creating it on first use.
func (r *Recycling) Signal(id *RecallID, bufferSize int) *AudioSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.signals {
		if s.recallID == id {
			if len(s.Buffer) != bufferSize {
				s.resize(bufferSize)
			}
			return s
		}
	}
	s := NewAudioSignal(bufferSize, id)
	s.recycling = r
	r.signals = append(r.signals, s)
	return s
}

// IsEmpty ...
func (r *Recycling) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals) == 0
}
