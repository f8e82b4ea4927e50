package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var playbackSeq atomic.Uint64

// ----- Playback ----- //

// Playback is one voice in one scope: a RecyclingContext tree built from the
// channel it starts on, fanned out over the channel's inputs.
type Playback struct {
	id       uint64
	channel  *Channel
	scope    SoundScope
	key      int
	velocity float64
	frame    uint64
	context  *RecyclingContext
	iterator *IteratorThread

	mu      sync.Mutex
	pending []Event
	current []Event

	traversed atomic.Bool
	released  atomic.Bool
}

// NewPlayback builds the context tree of a voice starting at frame. Recalls
// are not duplicated here; that happens on the first traversal.
func NewPlayback(channel *Channel, scope SoundScope, key int, velocity float64, frame uint64) *Playback {
	return &Playback{
		id:       playbackSeq.Add(1),
		channel:  channel,
		scope:    scope,
		key:      key,
		velocity: velocity,
		frame:    frame,
		context:  buildContext(channel, scope),
	}
}

func buildContext(channel *Channel, scope SoundScope) *RecyclingContext {
	recycling := NewRecycling(channel)
	channel.addRecycling(recycling)
	ctx := NewRecyclingContext(channel, scope, recycling)
	for _, in := range channel.Inputs() {
		ctx.AddChild(buildContext(in, scope))
	}
	return ctx
}

func (pb *Playback) String() string {
	return fmt.Sprintf("playback(%d,%s,%v,%d)", pb.id, pb.channel.name, pb.scope, pb.key)
}

// ID ...
func (pb *Playback) ID() uint64 {
	return pb.id
}

// Channel ...
func (pb *Playback) Channel() *Channel {
	return pb.channel
}

// Scope ...
func (pb *Playback) Scope() SoundScope {
	return pb.scope
}

// Key ...
func (pb *Playback) Key() int {
	return pb.key
}

// Velocity ...
func (pb *Playback) Velocity() float64 {
	return pb.velocity
}

// Frame is the absolute frame the voice starts at.
func (pb *Playback) Frame() uint64 {
	return pb.frame
}

// Context ...
func (pb *Playback) Context() *RecyclingContext {
	return pb.context
}

// Push queues an event for the voice.
func (pb *Playback) Push(ev Event) {
	pb.mu.Lock()
	pb.pending = append(pb.pending, ev)
	pb.mu.Unlock()
}

// takeEvents makes the events due before end current for the next buffer.
func (pb *Playback) takeEvents(end uint64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.current = pb.current[:0]
	kept := pb.pending[:0]
	for _, ev := range pb.pending {
		if ev.Frame < end {
			pb.current = append(pb.current, ev)
		} else {
			kept = append(kept, ev)
		}
	}
	pb.pending = kept
}

// Events returns the events of the current buffer.
func (pb *Playback) Events() []Event {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.current
}

// RecallIDs returns the live RecallIDs of the voice, depth first.
func (pb *Playback) RecallIDs() []*RecallID {
	var ids []*RecallID
	pb.context.Walk(func(ctx *RecyclingContext) {
		if id := ctx.LookupRecallID(pb.scope); id != nil && !id.Released() {
			ids = append(ids, id)
		}
	})
	return ids
}

// Instances returns the live recall instances of the voice.
func (pb *Playback) Instances() []*Recall {
	var instances []*Recall
	for _, id := range pb.RecallIDs() {
		instances = append(instances, id.Instances()...)
	}
	return instances
}

// Cancel cancels the toplevel instances, which cascades to their children.
// Remaining recalls end on their own once no producer is left.
func (pb *Playback) Cancel() {
	for _, id := range pb.RecallIDs() {
		for _, r := range id.Instances() {
			r.Cancel()
		}
	}
}

// IsDone reports whether every recall of the voice is done or removed.
func (pb *Playback) IsDone() bool {
	done := true
	pb.context.Walk(func(ctx *RecyclingContext) {
		if id := ctx.LookupRecallID(pb.scope); id != nil {
			if !IsDone(id.Instances(), ctx) {
				done = false
			}
		}
	})
	return done
}

// IsFinished reports whether the voice was traversed and all of its
// RecallIDs were released.
func (pb *Playback) IsFinished() bool {
	return pb.traversed.Load() && len(pb.RecallIDs()) == 0
}

// release drops what is left of the voice from its channels.
func (pb *Playback) release() {
	if pb.released.Swap(true) {
		return
	}
	pb.context.Walk(func(ctx *RecyclingContext) {
		if id := ctx.LookupRecallID(pb.scope); id != nil {
			for _, container := range ctx.channel.Containers() {
				container.Remove(id)
			}
			id.release()
		}
		for _, recycling := range ctx.Own() {
			ctx.channel.removeRecycling(recycling)
		}
	})
}
