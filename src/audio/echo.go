package audio

// ----- Delay Line ----- //

const minEchoDelay = 10 // ms

type delayLine struct {
	cursor int
	past   []float64
}

// resize keeps the allocation when shrinking so automation does not allocate
// on the audio path.
func (d *delayLine) resize(frames int) {
	if frames < 1 {
		frames = 1
	}
	if cap(d.past) >= frames {
		d.past = d.past[:frames]
	} else {
		d.past = make([]float64, frames)
	}
	if d.cursor >= len(d.past) {
		d.cursor = 0
	}
}

func (d *delayLine) push(in float64) {
	d.past[d.cursor] = in
	d.cursor++
	if d.cursor >= len(d.past) {
		d.cursor = 0
	}
}

// peek returns the sample pushed one line length ago.
func (d *delayLine) peek() float64 {
	return d.past[d.cursor]
}

// ----- Echo ----- //

type echo struct {
	line         delayLine
	feedbackGain float64 // [0,1)
	mix          float64 // [0,1]
}

func (e *echo) applyParams(millis, feedbackGain, mix float64, sampleRate int) {
	if millis < minEchoDelay {
		millis = minEchoDelay
	}
	e.line.resize(int(float64(sampleRate) * millis / 1000))
	e.feedbackGain = feedbackGain
	e.mix = mix
}

// process runs the echo over buf in place.
func (e *echo) process(buf []float64) {
	if e.mix == 0 {
		return
	}
	for i, in := range buf {
		delayed := e.line.peek()
		e.line.push(in + delayed*e.feedbackGain)
		buf[i] = in + delayed*e.mix
	}
}
