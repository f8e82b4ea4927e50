package audio

// ----- Synth ----- //

// synthBehavior renders an oscillator for the playback's key. It ends with
// its envelope, or at note-off when it has none.
type synthBehavior struct {
	wavetables *Wavetables
	osc        osc
	start      int
	stop       int
}

func newSynthTemplate(wavetables *Wavetables) *Recall {
	r := NewTemplate("synth", &synthBehavior{wavetables: wavetables}, ScopePlayback.Mask()|ScopeNotation.Mask(), FlagPropagateDone,
		NewPort("kind", float64(waveSaw), 0, float64(waveKindCount-1)),
		NewPort("octave", 0, -2, 2),
		NewPort("coarse", 0, -12, 12),
		NewPort("fine", 0, -100, 100),
		NewPort("level", 0.2, 0, 1),
	)
	r.SetChildType("envelope")
	r.DependsOn("lfo")
	return r
}

func (b *synthBehavior) Clone() Behavior {
	return &synthBehavior{wavetables: b.wavetables, stop: -1}
}

func (b *synthBehavior) producer() {}

func (b *synthBehavior) freq(r *Recall, key int) float64 {
	return noteWithParamsToFreq(key, r.value("octave", 0), r.value("coarse", 0), r.value("fine", 0))
}

func (b *synthBehavior) RunInit(r *Recall, p *Pass) {
	if p.Stage != StageRunInitInter {
		return
	}
	pb := p.Playback
	b.osc.init(waveKind(r.value("kind", float64(waveSaw))), b.freq(r, pb.key), r.value("level", 0.2)*pb.velocity, p.SampleRate, b.wavetables)
	b.start = p.Offset(pb.frame)
	b.stop = -1
}

func (b *synthBehavior) FeedInput(r *Recall, p *Pass, events []Event) {
	for _, ev := range events {
		if ev.Kind == EventNoteOff && ev.Key == p.Playback.key && len(r.Children()) == 0 {
			b.stop = p.Offset(ev.Frame)
		}
	}
}

func (b *synthBehavior) Automate(r *Recall, p *Pass) {
	b.osc.kind = waveKind(r.value("kind", float64(b.osc.kind)))
	b.osc.level = r.value("level", 0.2) * p.Playback.velocity
	b.osc.freq = b.freq(r, p.Playback.key)
}

func (b *synthBehavior) Run(r *Recall, p *Pass) {
	if p.Stage != StageRunInter {
		return
	}
	sig := p.Signal()
	if sig == nil {
		return
	}
	end := len(sig.Buffer)
	if b.stop >= 0 && b.stop < end {
		end = b.stop
	}
	var mod *lfoBehavior
	if lfo := r.Dependency("lfo"); lfo != nil {
		mod, _ = lfo.behavior.(*lfoBehavior)
	}
	for i := b.start; i < end; i++ {
		freqRatio, phaseShift, ampRatio := mod.at(i)
		sig.Buffer[i] += b.osc.step(freqRatio, phaseShift) * ampRatio
	}
	if end > b.start {
		sig.frames += uint64(end - b.start)
	}
	b.start = 0
	if b.stop >= 0 {
		r.Done()
	}
}

// ----- Volume ----- //

// volumeBehavior applies the gain port with a short linear ramp on changes.
type volumeBehavior struct {
	gain transitiveValue
}

const volumeRamp = 10.0 // ms

func newVolumeTemplate(scopes ScopeMask) *Recall {
	return NewTemplate("volume", &volumeBehavior{}, scopes, 0,
		NewPort("gain", 1, 0, 2),
	)
}

func (b *volumeBehavior) Clone() Behavior {
	return &volumeBehavior{}
}

func (b *volumeBehavior) RunInit(r *Recall, p *Pass) {
	if p.Stage == StageRunInitPre {
		b.gain.init(r.value("gain", 1), p.SampleRate)
	}
}

func (b *volumeBehavior) Automate(r *Recall, p *Pass) {
	if gain := r.value("gain", 1); gain != b.gain.targetValue {
		b.gain.linear(volumeRamp, gain)
	}
}

func (b *volumeBehavior) Run(r *Recall, p *Pass) {
	if p.Stage != StageRunInter {
		return
	}
	sig := p.Signal()
	if sig == nil {
		return
	}
	for i := range sig.Buffer {
		b.gain.step()
		sig.Buffer[i] *= b.gain.value
	}
}

func (b *volumeBehavior) Empty(r *Recall, p *Pass) bool {
	return processorEmpty(r)
}

// ----- Envelope ----- //

// envelopeBehavior shapes the voice with an ADSR. It depends on the volume
// recall of the same voice and only ends once both completed the same number
// of buffers.
type envelopeBehavior struct {
	adsr    adsr
	started bool
	start   int
	release int
	lag     int64
}

const (
	releasePending = -1
	releaseDone    = -2
)

func newEnvelopeTemplate() *Recall {
	r := NewTemplate("envelope", &envelopeBehavior{}, ScopePlayback.Mask()|ScopeNotation.Mask(), 0,
		NewPort("attack", 10, 0, 10000),
		NewPort("decay", 100, 0, 10000),
		NewPort("sustain", 0.7, 0, 1),
		NewPort("release", 200, 0, 10000),
	)
	r.DependsOn("volume")
	return r
}

func (b *envelopeBehavior) Clone() Behavior {
	return &envelopeBehavior{release: releasePending}
}

func (b *envelopeBehavior) params(r *Recall) (float64, float64, float64, float64) {
	return r.value("attack", 10), r.value("decay", 100), r.value("sustain", 0.7), r.value("release", 200)
}

func (b *envelopeBehavior) RunInit(r *Recall, p *Pass) {
	if p.Stage != StageRunInitInter {
		return
	}
	attack, decay, sustain, release := b.params(r)
	b.adsr.init(p.SampleRate, attack, decay, sustain, release)
	b.adsr.noteOn()
	b.start = p.Offset(p.Playback.frame)
	b.release = releasePending
	b.started = true
}

func (b *envelopeBehavior) FeedInput(r *Recall, p *Pass, events []Event) {
	for _, ev := range events {
		if ev.Kind == EventNoteOff && ev.Key == p.Playback.key && b.release == releasePending {
			b.release = p.Offset(ev.Frame)
		}
	}
}

func (b *envelopeBehavior) Automate(r *Recall, p *Pass) {
	b.adsr.setParams(b.params(r))
}

func (b *envelopeBehavior) Run(r *Recall, p *Pass) {
	if p.Stage != StageRunInter {
		return
	}
	sig := p.Signal()
	if sig == nil {
		return
	}
	if b.release >= 0 && b.release < b.start {
		b.release = b.start
	}
	for i := range sig.Buffer {
		if i < b.start {
			sig.Buffer[i] = 0
			continue
		}
		if i == b.release {
			b.adsr.noteOff()
		}
		b.adsr.step()
		sig.Buffer[i] *= b.adsr.value
	}
	switch {
	case b.release < 0:
	case b.release >= len(sig.Buffer):
		b.release -= len(sig.Buffer)
	default:
		b.release = releaseDone
	}
	b.start = 0
}

func (b *envelopeBehavior) Feedback(r *Recall, p *Pass) {
	if volume := r.Dependency("volume"); volume != nil {
		b.lag = int64(volume.Completed()) - int64(r.Completed())
	}
}

func (b *envelopeBehavior) Empty(r *Recall, p *Pass) bool {
	return b.started && b.release == releaseDone && b.adsr.released() && b.lag <= 0
}

// Lag is how many buffers the volume recall ran ahead of the envelope.
func (b *envelopeBehavior) Lag() int64 {
	return b.lag
}
