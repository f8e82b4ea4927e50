package audio

// ----- Sampler ----- //

// samplerBehavior plays the channel's sample once from the playback's frame.
type samplerBehavior struct {
	start int
}

func newSamplerTemplate() *Recall {
	return NewTemplate("sampler", &samplerBehavior{}, ScopeWave.Mask(), 0,
		NewPort("level", 1, 0, 2),
		NewPort("offset", 0, 0, 60000), // ms into the sample
	)
}

func (b *samplerBehavior) Clone() Behavior {
	return &samplerBehavior{}
}

func (b *samplerBehavior) producer() {}

func (b *samplerBehavior) RunInit(r *Recall, p *Pass) {
	if p.Stage != StageRunInitInter {
		return
	}
	sig := p.Signal()
	if sig == nil {
		return
	}
	data := r.channel.Sample()
	skip := int(r.value("offset", 0) * float64(p.SampleRate) / 1000)
	if skip > len(data) {
		skip = len(data)
	}
	sig.SetData(data[skip:])
	b.start = p.Offset(p.Playback.frame)
}

func (b *samplerBehavior) Run(r *Recall, p *Pass) {
	if p.Stage != StageRunInter {
		return
	}
	sig := p.Signal()
	if sig == nil {
		return
	}
	level := r.value("level", 1) * p.Playback.velocity
	n := 0
	for i := b.start; i < len(sig.Buffer) && sig.pos < len(sig.data); i++ {
		sig.Buffer[i] += sig.data[sig.pos] * level
		sig.pos++
		n++
	}
	sig.frames += uint64(n)
	b.start = 0
	if sig.Remaining() == 0 {
		r.Done()
	}
}
