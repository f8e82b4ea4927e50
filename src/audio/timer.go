package audio

import (
	"math"
	"math/bits"
	"sync"

	"github.com/pkg/errors"
)

// ----- Tic ----- //

// ticsPerWhole is the grid resolution: a tic is a 16th note.
const ticsPerWhole = 16

// Tic is one grid position that falls inside the buffer being rendered.
type Tic struct {
	Index      uint64 // absolute tic count since start
	Tact       uint64
	Beat       int // index in the attack/delay tables
	Attack     int // frame offset inside the current buffer
	NoteOffset uint64
}

// TimerSnapshot ...
type TimerSnapshot struct {
	BPM          float64
	Numerator    int
	Denominator  int
	BufferSize   int
	Tic          uint64
	Tact         uint64
	NoteOffset   uint64
	DelayCounter float64
}

// ----- Timer ----- //

// Timer converts tempo into sample-accurate tic positions for fixed-size
// buffers. Tic frames come from an exact rational generator, so the tables
// never drift however long the transport runs.
type Timer struct {
	sync.Mutex
	sampleRate  int
	bufferSize  int
	bpm         float64
	numerator   int
	denominator int
	delayFactor float64
	ticsPerTact int
	nextTacts   int // pending signature change, applied at the next tact

	// segments are ordered by tic; the last one is the running tempo.
	segments []tempoSegment

	frame        uint64 // first frame of the next buffer
	gridOrigin   uint64
	nextTic      uint64
	lastTicFrame uint64
	delayCounter float64

	tact      uint64
	tactTic   uint64
	ticFrames []uint64 // ticsPerTact+1 entries for the current tact
	attack    []int
	delay     []float64

	noteOffset         uint64
	noteOffsetAbsolute uint64
	loop               bool
	loopLeft           uint64
	loopRight          uint64

	events []Tic
}

// NewTimer ...
func NewTimer(sampleRate, bufferSize int, bpm float64, numerator, denominator int, delayFactor float64) (*Timer, error) {
	ticsPerTact, err := ticsPerTactOf(numerator, denominator)
	if err != nil {
		return nil, err
	}
	if sampleRate <= 0 || bufferSize <= 0 || bpm <= 0 || delayFactor <= 0 {
		return nil, errors.Errorf("invalid timer settings: rate=%d buffer=%d bpm=%v factor=%v", sampleRate, bufferSize, bpm, delayFactor)
	}
	t := &Timer{
		sampleRate:  sampleRate,
		bufferSize:  bufferSize,
		bpm:         bpm,
		numerator:   numerator,
		denominator: denominator,
		delayFactor: delayFactor,
		ticsPerTact: ticsPerTact,
	}
	num, den := framesPerTic(sampleRate, bpm, delayFactor)
	t.segments = []tempoSegment{{num: num, den: den}}
	t.allocTables()
	t.computeTables(0)
	return t, nil
}

// NewTimerFromConfig ...
func NewTimerFromConfig(cfg *Config) (*Timer, error) {
	return NewTimer(cfg.SampleRate, cfg.BufferSize, cfg.BPM, cfg.Numerator, cfg.Denominator, cfg.DelayFactor)
}

func ticsPerTactOf(numerator, denominator int) (int, error) {
	if numerator <= 0 || denominator <= 0 || (ticsPerWhole*numerator)%denominator != 0 {
		return 0, errors.Errorf("unsupported time signature %d/%d", numerator, denominator)
	}
	return ticsPerWhole * numerator / denominator, nil
}

// framesPerTic returns frames per 16th note as a reduced fraction.
// Tempo and delay factor are quantized to 1/1000.
func framesPerTic(sampleRate int, bpm float64, delayFactor float64) (uint64, uint64) {
	bpmMilli := uint64(math.Round(bpm * 1000))
	factorMilli := uint64(math.Round(delayFactor * 1000))
	if bpmMilli == 0 {
		bpmMilli = 1
	}
	if factorMilli == 0 {
		factorMilli = 1
	}
	num := 60 * uint64(sampleRate) * factorMilli
	den := 4 * bpmMilli
	g := gcd(num, den)
	return num / g, den / g
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// ----- Tempo Segment ----- //

// tempoSegment places tic n >= tic at frame + floor((n-tic)*num / den).
type tempoSegment struct {
	tic   uint64
	frame uint64
	num   uint64 // frames per tic = num/den
	den   uint64
}

func (s *tempoSegment) ticFrame(n uint64) uint64 {
	if n >= s.tic {
		hi, lo := bits.Mul64(n-s.tic, s.num)
		if hi >= s.den {
			return math.MaxUint64
		}
		q, _ := bits.Div64(hi, lo, s.den)
		return s.frame + q
	}
	// before the segment: ceil((tic-n)*num / den) frames earlier
	hi, lo := bits.Mul64(s.tic-n, s.num)
	if hi >= s.den {
		return 0
	}
	q, r := bits.Div64(hi, lo, s.den)
	if r != 0 {
		q++
	}
	if q > s.frame {
		return 0
	}
	return s.frame - q
}

func (t *Timer) current() *tempoSegment {
	return &t.segments[len(t.segments)-1]
}

// ticFrame uses the tempo that was running at tic n. Tics before the oldest
// kept segment are extrapolated from it.
func (t *Timer) ticFrame(n uint64) uint64 {
	i := len(t.segments) - 1
	for i > 0 && t.segments[i].tic > n {
		i--
	}
	return t.segments[i].ticFrame(n)
}

// pruneSegments drops tempo segments that end before the current tact.
func (t *Timer) pruneSegments() {
	drop := 0
	for drop+1 < len(t.segments) && t.segments[drop+1].tic <= t.tactTic {
		drop++
	}
	if drop > 0 {
		t.segments = append(t.segments[:0], t.segments[drop:]...)
	}
}

func (t *Timer) allocTables() {
	t.ticFrames = make([]uint64, t.ticsPerTact+1)
	t.attack = make([]int, t.ticsPerTact)
	t.delay = make([]float64, t.ticsPerTact)
}

// computeTables refreshes the entries of the current tact from index from on.
func (t *Timer) computeTables(from int) {
	for i := from; i <= t.ticsPerTact; i++ {
		t.ticFrames[i] = t.ticFrame(t.tactTic + uint64(i))
	}
	t.refreshGrid()
}

func (t *Timer) refreshGrid() {
	s := int64(t.bufferSize)
	for i := 0; i < t.ticsPerTact; i++ {
		rel := int64(t.ticFrames[i]) - int64(t.gridOrigin)
		t.attack[i] = int(((rel % s) + s) % s)
		t.delay[i] = float64(t.ticFrames[i+1]-t.ticFrames[i]) / float64(s)
	}
}

func (t *Timer) nextTact() {
	t.tact++
	t.tactTic += uint64(t.ticsPerTact)
	if t.nextTacts > 0 {
		t.ticsPerTact = t.nextTacts
		t.nextTacts = 0
		t.allocTables()
	}
	t.pruneSegments()
	t.computeTables(0)
}

// Tick advances the transport by one buffer and returns the tics inside it.
// The returned slice is reused by the next call.
func (t *Timer) Tick() []Tic {
	t.Lock()
	defer t.Unlock()
	start := t.frame
	end := start + uint64(t.bufferSize)
	t.events = t.events[:0]
	for {
		beat := int(t.nextTic - t.tactTic)
		frame := t.ticFrames[beat]
		if frame >= end {
			break
		}
		if beat == t.ticsPerTact {
			t.nextTact()
			beat = 0
		}
		t.events = append(t.events, Tic{
			Index:      t.nextTic,
			Tact:       t.tact,
			Beat:       beat,
			Attack:     int(frame - start),
			NoteOffset: t.noteOffset,
		})
		t.lastTicFrame = frame
		t.nextTic++
		t.noteOffsetAbsolute++
		t.noteOffset++
		if t.loop && t.noteOffset >= t.loopRight {
			t.noteOffset = t.loopLeft
		}
	}
	t.frame = end
	t.delayCounter = float64(end-t.lastTicFrame) / float64(t.bufferSize)
	return t.events
}

// SetBPM changes tempo keeping the phase of the running tic.
func (t *Timer) SetBPM(bpm float64) error {
	if bpm <= 0 {
		return errors.Errorf("bpm should be positive: %v", bpm)
	}
	t.Lock()
	defer t.Unlock()
	t.retime(bpm, t.delayFactor)
	return nil
}

// SetDelayFactor scales the tic length, keeping phase like SetBPM.
func (t *Timer) SetDelayFactor(factor float64) error {
	if factor <= 0 {
		return errors.Errorf("delay factor should be positive: %v", factor)
	}
	t.Lock()
	defer t.Unlock()
	t.retime(t.bpm, factor)
	return nil
}

func (t *Timer) retime(bpm float64, factor float64) {
	num, den := framesPerTic(t.sampleRate, bpm, factor)
	if t.nextTic == 0 {
		// nothing played yet: tic 0 stays where it is
		first := t.ticFrame(0)
		t.segments = append(t.segments[:0], tempoSegment{frame: first, num: num, den: den})
	} else {
		next := t.ticFrame(t.nextTic)
		interval := float64(next - t.lastTicFrame)
		phase := 0.0
		if interval > 0 {
			phase = float64(t.frame-t.lastTicFrame) / interval
		}
		if phase > 1 {
			phase = 1
		}
		remaining := (1 - phase) * float64(num) / float64(den)
		segment := tempoSegment{
			tic:   t.nextTic,
			frame: t.frame + uint64(math.Round(remaining)),
			num:   num,
			den:   den,
		}
		if t.current().tic == t.nextTic {
			*t.current() = segment
		} else {
			t.segments = append(t.segments, segment)
		}
	}
	t.bpm = bpm
	t.delayFactor = factor
	from := int(t.nextTic - t.tactTic)
	if from > t.ticsPerTact {
		from = t.ticsPerTact
	}
	t.computeTables(from)
}

// SetBufferSize changes the buffer length at a buffer boundary. The delay
// counter is rescaled so the elapsed time is unchanged.
func (t *Timer) SetBufferSize(bufferSize int) error {
	if bufferSize <= 0 || bufferSize > maxBufferSize {
		return errors.Errorf("buffer size out of range: %d", bufferSize)
	}
	t.Lock()
	defer t.Unlock()
	old := t.bufferSize
	t.delayCounter = t.delayCounter * float64(old) / float64(bufferSize)
	t.bufferSize = bufferSize
	t.gridOrigin = t.frame
	t.refreshGrid()
	return nil
}

// SetSignature changes the time signature from the next tact on.
func (t *Timer) SetSignature(numerator, denominator int) error {
	ticsPerTact, err := ticsPerTactOf(numerator, denominator)
	if err != nil {
		return err
	}
	t.Lock()
	defer t.Unlock()
	t.numerator = numerator
	t.denominator = denominator
	if ticsPerTact != t.ticsPerTact {
		t.nextTacts = ticsPerTact
	} else {
		t.nextTacts = 0
	}
	return nil
}

// SetLoop wraps the note offset to [left, right) when enabled.
func (t *Timer) SetLoop(left, right uint64, enabled bool) error {
	if enabled && left >= right {
		return errors.Errorf("invalid loop region [%d, %d)", left, right)
	}
	t.Lock()
	defer t.Unlock()
	t.loop = enabled
	t.loopLeft = left
	t.loopRight = right
	if enabled && t.noteOffset >= right {
		t.noteOffset = left
	}
	return nil
}

// SeekNoteOffset moves the looped note offset.
func (t *Timer) SeekNoteOffset(offset uint64) {
	t.Lock()
	t.noteOffset = offset
	t.Unlock()
}

// BPM ...
func (t *Timer) BPM() float64 {
	t.Lock()
	defer t.Unlock()
	return t.bpm
}

// BufferSize ...
func (t *Timer) BufferSize() int {
	t.Lock()
	defer t.Unlock()
	return t.bufferSize
}

// TicsPerTact ...
func (t *Timer) TicsPerTact() int {
	t.Lock()
	defer t.Unlock()
	return t.ticsPerTact
}

// DelayCounter is the number of buffers elapsed since the last tic.
func (t *Timer) DelayCounter() float64 {
	t.Lock()
	defer t.Unlock()
	return t.delayCounter
}

// Attack returns the frame offset of tic i of the current tact inside its buffer.
func (t *Timer) Attack(i int) int {
	t.Lock()
	defer t.Unlock()
	return t.attack[i]
}

// Delay returns the length of tic i of the current tact in buffers.
func (t *Timer) Delay(i int) float64 {
	t.Lock()
	defer t.Unlock()
	return t.delay[i]
}

// DelayFrames returns the length of tic i of the current tact in frames.
func (t *Timer) DelayFrames(i int) uint64 {
	t.Lock()
	defer t.Unlock()
	return t.ticFrames[i+1] - t.ticFrames[i]
}

// TicFrame returns the frame of tic n. Tics of earlier tacts are placed with
// the oldest tempo still known to the current tact.
func (t *Timer) TicFrame(n uint64) uint64 {
	t.Lock()
	defer t.Unlock()
	return t.ticFrame(n)
}

// TactFrames returns the frames spanned by the k-th tact after the current one.
func (t *Timer) TactFrames(k uint64) uint64 {
	t.Lock()
	defer t.Unlock()
	first := t.tactTic + k*uint64(t.ticsPerTact)
	return t.ticFrame(first+uint64(t.ticsPerTact)) - t.ticFrame(first)
}

// NoteOffset ...
func (t *Timer) NoteOffset() uint64 {
	t.Lock()
	defer t.Unlock()
	return t.noteOffset
}

// NoteOffsetAbsolute ignores the loop region.
func (t *Timer) NoteOffsetAbsolute() uint64 {
	t.Lock()
	defer t.Unlock()
	return t.noteOffsetAbsolute
}

// Frame returns the first frame of the next buffer.
func (t *Timer) Frame() uint64 {
	t.Lock()
	defer t.Unlock()
	return t.frame
}

// Snapshot ...
func (t *Timer) Snapshot() TimerSnapshot {
	t.Lock()
	defer t.Unlock()
	return TimerSnapshot{
		BPM:          t.bpm,
		Numerator:    t.numerator,
		Denominator:  t.denominator,
		BufferSize:   t.bufferSize,
		Tic:          t.nextTic,
		Tact:         t.tact,
		NoteOffset:   t.noteOffset,
		DelayCounter: t.delayCounter,
	}
}
