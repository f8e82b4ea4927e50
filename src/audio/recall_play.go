package audio

// ----- Play ----- //

// playBehavior mixes the voice signals of the child contexts into the
// context's own signal and, on output channels, into the master bus.
type playBehavior struct{}

func newPlayTemplate() *Recall {
	r := NewTemplate("play", &playBehavior{}, AllScopes, FlagPropagateDone,
		NewPort("gain", 1, 0, 2),
	)
	r.SetChildType("synth")
	return r
}

func (b *playBehavior) Clone() Behavior {
	return &playBehavior{}
}

func (b *playBehavior) Run(r *Recall, p *Pass) {
	if p.Stage != StageRunInter {
		return
	}
	sig := p.Signal()
	if sig == nil {
		return
	}
	for _, child := range p.Context.Children() {
		id := child.LookupRecallID(p.RecallID.scope)
		if id == nil {
			continue
		}
		for _, recycling := range child.Own() {
			if in := recycling.FindSignal(id); in != nil {
				mix(sig.Buffer, in.Buffer)
			}
		}
	}
	sig.frames += uint64(p.BufferSize)
}

func (b *playBehavior) FeedOutput(r *Recall, p *Pass) {
	if !r.channel.IsOutput() {
		return
	}
	if sig := p.Signal(); sig != nil {
		p.loop.bus.Add(sig.Buffer, r.value("gain", 1))
	}
}

func (b *playBehavior) Empty(r *Recall, p *Pass) bool {
	return len(r.Children()) == 0 && processorEmpty(r)
}

func mix(out []float64, in []float64) {
	n := len(in)
	if n > len(out) {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		out[i] += in[i]
	}
}
