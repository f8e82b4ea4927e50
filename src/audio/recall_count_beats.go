package audio

// ----- Count Beats ----- //

const defaultPattern = "x...x...x...x..."

// countBeatsBehavior steps through the channel's pattern once per tic. In
// the sequencer scope it schedules notation notes one buffer ahead; in the
// MIDI scope it only reports the notes to observers.
type countBeatsBehavior struct {
	pattern string
}

func newCountBeatsTemplate() *Recall {
	return NewTemplate("count-beats", &countBeatsBehavior{}, ScopeSequencer.Mask()|ScopeMidi.Mask(), FlagPersistent,
		NewPort("key", 60, 0, 127),
		NewPort("velocity", 0.8, 0, 1),
		NewPort("length", 1, 1, 16), // tics
	)
}

func (b *countBeatsBehavior) Clone() Behavior {
	return &countBeatsBehavior{}
}

func (b *countBeatsBehavior) producer() {}

func (b *countBeatsBehavior) RunInit(r *Recall, p *Pass) {
	if p.Stage != StageRunInitPre {
		return
	}
	b.pattern = defaultPattern
	if pattern, ok := p.loop.Pattern(r.channel.name); ok && len(pattern) > 0 {
		b.pattern = pattern
	}
}

// velocityAt returns the velocity of the pattern step, zero for rests.
func (b *countBeatsBehavior) velocityAt(step uint64, velocity float64) float64 {
	if len(b.pattern) == 0 {
		return 0
	}
	switch b.pattern[step%uint64(len(b.pattern))] {
	case 'x', 'X':
		return velocity
	case 'o':
		return velocity / 2
	}
	return 0
}

func (b *countBeatsBehavior) Run(r *Recall, p *Pass) {
	if p.Stage != StageRunPre {
		return
	}
	key := int(r.value("key", 60))
	length := uint64(r.value("length", 1))
	for _, tic := range p.Tics {
		velocity := b.velocityAt(tic.NoteOffset, r.value("velocity", 0.8))
		if velocity == 0 {
			continue
		}
		on := p.Frame + uint64(tic.Attack) + uint64(p.BufferSize)
		off := p.loop.timer.TicFrame(tic.Index+length) + uint64(p.BufferSize)
		if p.RecallID.scope == ScopeMidi {
			r.notify(Notification{Kind: NotifyNoteOn, Key: key, Value: velocity, Frame: on})
			r.notify(Notification{Kind: NotifyNoteOff, Key: key, Frame: off})
			continue
		}
		p.loop.Schedule(Event{Frame: on, Kind: EventNoteOn, Key: key, Value: velocity, Scope: ScopeNotation, Channel: r.channel.name})
		p.loop.Schedule(Event{Frame: off, Kind: EventNoteOff, Key: key, Scope: ScopeNotation, Channel: r.channel.name})
	}
}
