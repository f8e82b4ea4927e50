package audio

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jinjor/desktop-sequencer/src/thread"
	"github.com/pkg/errors"
)

// passRing must exceed the distance between the oldest and the newest
// generation alive in the tree, which is at most one.
const passRing = 64

// minTimelock is the shortest wait granted to a stage once the buffer
// budget is spent.
const minTimelock = 50 * time.Microsecond

type passInfo struct {
	stage      Staging
	tics       []Tic
	frame      uint64
	bufferSize int
	sampleRate int
}

// ----- Bus ----- //

// Bus is the master mix that output channels add into.
type Bus struct {
	mu  sync.Mutex
	buf []float64
}

// Add mixes in scaled by gain.
func (b *Bus) Add(in []float64, gain float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(in)
	if n > len(b.buf) {
		n = len(b.buf)
	}
	for i := 0; i < n; i++ {
		b.buf[i] += in[i] * gain
	}
}

// Buffer ...
func (b *Bus) Buffer() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf
}

func (b *Bus) reset(size int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cap(b.buf) >= size {
		b.buf = b.buf[:size]
	} else {
		b.buf = make([]float64, size)
	}
	for i := range b.buf {
		b.buf[i] = 0
	}
}

// ----- Audio Loop ----- //

// AudioLoop is the root of the thread tree. Each buffer it ticks the timer,
// attaches new playbacks, steps the tree once per stage and detaches the
// playbacks that finished.
type AudioLoop struct {
	config    *Config
	timer     *Timer
	root      *thread.Thread
	bus       *Bus
	registry  *Registry
	observers *observers
	dispatch  func(Event)
	timelock  time.Duration

	iterMu sync.Mutex
	passes [passRing]passInfo
	last   passInfo

	patternsMu sync.RWMutex
	patterns   map[string]string

	mu        sync.Mutex
	playbacks []*Playback
	pending   []*Playback
	events    []Event

	staging     atomic.Uint32
	iterations  atomic.Uint64
	skipped     atomic.Uint64
	lastSkipped uint64
}

// NewAudioLoop ...
func NewAudioLoop(cfg *Config, timer *Timer, registry *Registry) *AudioLoop {
	l := &AudioLoop{
		config:   cfg,
		timer:    timer,
		bus:      &Bus{},
		registry: registry,
		timelock: cfg.timelock(),
		patterns: make(map[string]string),
	}
	for name, pattern := range cfg.Patterns {
		l.patterns[name] = pattern
	}
	l.root = thread.New("audio-loop", nil, 0, thread.WaitForChildren)
	l.staging.Store(uint32(StageAll))
	return l
}

// Root ...
func (l *AudioLoop) Root() *thread.Thread {
	return l.root
}

// Timer ...
func (l *AudioLoop) Timer() *Timer {
	return l.timer
}

// Bus ...
func (l *AudioLoop) Bus() *Bus {
	return l.bus
}

// SetStaging restricts the stages run by Iterate.
func (l *AudioLoop) SetStaging(mask Staging) {
	l.staging.Store(uint32(mask & StageAll))
}

// Staging ...
func (l *AudioLoop) Staging() Staging {
	return Staging(l.staging.Load())
}

// Iterations ...
func (l *AudioLoop) Iterations() uint64 {
	return l.iterations.Load()
}

// Skipped is the number of tics skipped by timelock so far.
func (l *AudioLoop) Skipped() uint64 {
	return l.skipped.Load()
}

// SetPattern sets the sequencer pattern of a channel. Running count-beats
// recalls keep the pattern they started with.
func (l *AudioLoop) SetPattern(channel, pattern string) {
	l.patternsMu.Lock()
	defer l.patternsMu.Unlock()
	l.patterns[channel] = pattern
}

// Pattern ...
func (l *AudioLoop) Pattern(channel string) (string, bool) {
	l.patternsMu.RLock()
	defer l.patternsMu.RUnlock()
	pattern, ok := l.patterns[channel]
	return pattern, ok
}

// Patterns returns a copy of every pattern.
func (l *AudioLoop) Patterns() map[string]string {
	l.patternsMu.RLock()
	defer l.patternsMu.RUnlock()
	patterns := make(map[string]string, len(l.patterns))
	for name, pattern := range l.patterns {
		patterns[name] = pattern
	}
	return patterns
}

// Add queues a playback; it is attached at the start of the next buffer.
func (l *AudioLoop) Add(pb *Playback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, pb)
}

// Schedule queues an event for the next buffer.
func (l *AudioLoop) Schedule(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

// Playbacks returns the attached and pending playbacks.
func (l *AudioLoop) Playbacks() []*Playback {
	l.mu.Lock()
	defer l.mu.Unlock()
	playbacks := make([]*Playback, 0, len(l.playbacks)+len(l.pending))
	playbacks = append(playbacks, l.playbacks...)
	return append(playbacks, l.pending...)
}

func (l *AudioLoop) passAt(tic uint64) (*passInfo, bool) {
	info := &l.passes[tic%passRing]
	return info, info.stage != 0
}

// Iterate renders one buffer into the bus.
func (l *AudioLoop) Iterate(ctx context.Context) error {
	l.iterMu.Lock()
	defer l.iterMu.Unlock()
	start := time.Now()

	frame := l.timer.Frame()
	tics := l.timer.Tick()
	size := l.timer.BufferSize()
	l.last.frame = frame
	l.last.tics = append(l.last.tics[:0], tics...)
	l.last.bufferSize = size
	l.last.sampleRate = l.config.SampleRate

	l.dispatchEvents()
	if err := l.attachPending(ctx); err != nil {
		return err
	}
	for _, pb := range l.attached() {
		pb.takeEvents(frame + uint64(size))
	}
	l.bus.reset(size)
	if err := l.runStages(ctx, l.Staging(), start); err != nil {
		return err
	}
	l.detachFinished()
	if l.registry != nil {
		l.registry.Tick()
	}
	l.countSkipped()
	l.iterations.Add(1)
	return nil
}

// Rerun runs a subset of the stages again on the current buffer.
func (l *AudioLoop) Rerun(ctx context.Context, mask Staging) error {
	l.iterMu.Lock()
	defer l.iterMu.Unlock()
	return l.runStages(ctx, mask&StageAll, time.Now())
}

func (l *AudioLoop) runStages(ctx context.Context, mask Staging, start time.Time) error {
	for _, stage := range mask.Stages() {
		tic := l.root.Tic() + 1
		info := &l.passes[tic%passRing]
		info.stage = stage
		info.tics = append(info.tics[:0], l.last.tics...)
		info.frame = l.last.frame
		info.bufferSize = l.last.bufferSize
		info.sampleRate = l.last.sampleRate

		if l.timelock > 0 {
			remaining := l.timelock - time.Since(start)
			if remaining < minTimelock {
				remaining = minTimelock
			}
			l.root.SetTimelock(remaining)
		}
		if stage == StageFini {
			l.root.SetFlags(thread.TreeSync)
		}
		err := l.root.Step(ctx)
		if stage == StageFini {
			l.root.UnsetFlags(thread.TreeSync)
		}
		if err != nil {
			return errors.Wrapf(err, "stage %v", stage)
		}
	}
	return nil
}

func (l *AudioLoop) dispatchEvents() {
	l.mu.Lock()
	events := l.events
	l.events = nil
	l.mu.Unlock()
	if l.dispatch == nil {
		return
	}
	for _, ev := range events {
		l.dispatch(ev)
	}
}

func (l *AudioLoop) attached() []*Playback {
	l.mu.Lock()
	defer l.mu.Unlock()
	playbacks := make([]*Playback, len(l.playbacks))
	copy(playbacks, l.playbacks)
	return playbacks
}

func (l *AudioLoop) attachPending(ctx context.Context) error {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, pb := range pending {
		it := newIteratorThread(l, pb)
		if err := it.attach(ctx, l.root); err != nil {
			pb.release()
			return errors.Wrapf(err, "failed to start %v", pb)
		}
		l.mu.Lock()
		l.playbacks = append(l.playbacks, pb)
		l.mu.Unlock()
		l.observers.notify(Notification{Kind: NotifyTopologyChanged, Channel: pb.channel.name, Key: pb.key, Frame: pb.frame})
	}
	return nil
}

func (l *AudioLoop) detachFinished() {
	l.mu.Lock()
	var finished []*Playback
	kept := l.playbacks[:0]
	for _, pb := range l.playbacks {
		if pb.IsFinished() {
			finished = append(finished, pb)
		} else {
			kept = append(kept, pb)
		}
	}
	for i := len(kept); i < len(l.playbacks); i++ {
		l.playbacks[i] = nil
	}
	l.playbacks = kept
	l.mu.Unlock()
	for _, pb := range finished {
		l.detach(pb)
		l.observers.notify(Notification{Kind: NotifyPlaybackDone, Channel: pb.channel.name, Key: pb.key})
	}
}

func (l *AudioLoop) detach(pb *Playback) {
	if it := pb.iterator; it != nil {
		if err := it.thread.Detach(); err != nil {
			log.Printf("failed to detach %v: %v\n", pb, err)
		}
	}
	pb.release()
}

func (l *AudioLoop) countSkipped() {
	var total uint64
	var walk func(t *thread.Thread)
	walk = func(t *thread.Thread) {
		total += t.Skipped()
		for _, c := range t.Children() {
			walk(c)
		}
	}
	walk(l.root)
	if total > l.lastSkipped {
		delta := total - l.lastSkipped
		l.skipped.Add(delta)
		l.observers.notify(Notification{Kind: NotifyTimelockSkip, Value: float64(delta)})
	}
	l.lastSkipped = total
}

// Fill renders one buffer and encodes it into buf, which must hold exactly
// one buffer of frames.
func (l *AudioLoop) Fill(ctx context.Context, buf []byte) error {
	if len(buf) != l.timer.BufferSize()*l.config.BytesPerFrame() {
		return errors.Errorf("fill: expected %d bytes, got %d", l.timer.BufferSize()*l.config.BytesPerFrame(), len(buf))
	}
	if err := l.Iterate(ctx); err != nil {
		return err
	}
	out := l.bus.Buffer()
	for i := range out {
		out[i] *= l.config.Volume
	}
	for ch := 0; ch < l.config.ChannelNum; ch++ {
		writeBuffer(out, buf, ch, l.config.ChannelNum, l.config.BitDepthInBytes)
	}
	return nil
}

// Close detaches every playback.
func (l *AudioLoop) Close() {
	l.iterMu.Lock()
	defer l.iterMu.Unlock()
	l.mu.Lock()
	playbacks := append(l.playbacks, l.pending...)
	l.playbacks = nil
	l.pending = nil
	l.mu.Unlock()
	for _, pb := range playbacks {
		l.detach(pb)
	}
}

func writeBuffer(out []float64, buf []byte, ch int, channels int, bitDepthInBytes int) {
	bytesPerFrame := bitDepthInBytes * channels
	sampleLength := len(buf) / bytesPerFrame
	if sampleLength > len(out) {
		sampleLength = len(out)
	}
	for i := 0; i < sampleLength; i++ {
		value := out[i]
		if value > 1 {
			value = 1
		} else if value < -1 {
			value = -1
		}
		switch bitDepthInBytes {
		case 1:
			const max = 127
			b := int(value * max)
			buf[bytesPerFrame*i+ch] = byte(b + 128)
		case 2:
			const max = 32767
			b := int16(value * max)
			buf[bytesPerFrame*i+2*ch] = byte(b)
			buf[bytesPerFrame*i+2*ch+1] = byte(b >> 8)
		}
	}
}
