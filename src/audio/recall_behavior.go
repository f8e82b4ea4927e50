package audio

// ----- Behaviors ----- //

// Behavior is the variant part of a recall. Templates hold a prototype that is
// cloned into each instance.
type Behavior interface {
	Clone() Behavior
}

// Producer marks behaviors that generate sound or events. Processors stay
// alive while a producer lives in their RecallID or below it.
type Producer interface {
	Behavior
	producer()
}

// Initializer runs once per init stage while the instance is in its initial run.
type Initializer interface {
	RunInit(r *Recall, p *Pass)
}

// Runner runs at the run-pre, run-inter and run-post stages.
type Runner interface {
	Run(r *Recall, p *Pass)
}

// InputFeeder receives the events of the playback due in the current buffer.
type InputFeeder interface {
	FeedInput(r *Recall, p *Pass, events []Event)
}

// Automator runs after ports have been synced with their template.
type Automator interface {
	Automate(r *Recall, p *Pass)
}

// Feedbacker ...
type Feedbacker interface {
	Feedback(r *Recall, p *Pass)
}

// OutputFeeder ...
type OutputFeeder interface {
	FeedOutput(r *Recall, p *Pass)
}

// Finisher reports when a non persistent recall has nothing left to do.
type Finisher interface {
	Empty(r *Recall, p *Pass) bool
}

// Finalizer is called once the last reference to an instance is released.
type Finalizer interface {
	Finalize(r *Recall)
}

// processorEmpty is the done-on-empty rule of processors.
func processorEmpty(r *Recall) bool {
	return !r.recallID.hasLiveProducers()
}

// ----- Pass ----- //

// Pass carries one stage of one buffer to the recalls of one context.
type Pass struct {
	Stage      Staging
	Tic        uint64 // thread generation
	Tics       []Tic
	Frame      uint64 // first frame of the buffer
	BufferSize int
	SampleRate int
	Playback   *Playback
	Context    *RecyclingContext
	RecallID   *RecallID

	loop *AudioLoop
}

func (p *Pass) events() []Event {
	if p.Playback == nil {
		return nil
	}
	return p.Playback.Events()
}

// Signal returns the buffer of the context's own recycling for the pass's RecallID.
func (p *Pass) Signal() *AudioSignal {
	own := p.Context.Own()
	if len(own) == 0 || p.RecallID == nil {
		return nil
	}
	return own[0].Signal(p.RecallID, p.BufferSize)
}

// Offset converts an absolute frame into an offset inside the buffer, clamped
// to the buffer.
func (p *Pass) Offset(frame uint64) int {
	if frame <= p.Frame {
		return 0
	}
	offset := frame - p.Frame
	if offset >= uint64(p.BufferSize) {
		return p.BufferSize
	}
	return int(offset)
}

// SecPerSample ...
func (p *Pass) SecPerSample() float64 {
	return 1.0 / float64(p.SampleRate)
}
