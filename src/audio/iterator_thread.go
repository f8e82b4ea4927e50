package audio

import (
	"context"
	"fmt"
	"log"

	"github.com/jinjor/desktop-sequencer/src/thread"
	"golang.org/x/sync/errgroup"
)

const playbackFlags = thread.WaitForParent | thread.WaitForChildren

// ----- Iterator Thread ----- //

// IteratorThread drives one playback below the AudioLoop. Its children are
// the RecyclingThreads of the playback's context tree; it completes a stage
// only after all of them did.
type IteratorThread struct {
	thread   *thread.Thread
	loop     *AudioLoop
	playback *Playback
	top      *RecyclingThread
}

func newIteratorThread(l *AudioLoop, pb *Playback) *IteratorThread {
	it := &IteratorThread{
		loop:     l,
		playback: pb,
	}
	it.thread = thread.New(fmt.Sprintf("iterator-%d", pb.id), it, 0, playbackFlags)
	pb.iterator = it
	return it
}

// Thread ...
func (it *IteratorThread) Thread() *thread.Thread {
	return it.thread
}

// Run ...
func (it *IteratorThread) Run(ctx context.Context, tic uint64) error {
	info, ok := it.loop.passAt(tic)
	if !ok {
		return nil
	}
	if info.stage == StageFini && it.top != nil && it.top.traversed {
		it.playback.traversed.Store(true)
	}
	return nil
}

// attach links the thread below parent, builds the RecyclingThreads and
// starts them all. The tree is linked before anything starts so every node
// joins at the parent's generation.
func (it *IteratorThread) attach(ctx context.Context, parent *thread.Thread) error {
	parent.AddChild(it.thread)
	it.top = newRecyclingThread(it.loop, it.playback, it.playback.context)
	it.top.link(it.thread)

	threads := []*thread.Thread{it.thread}
	it.top.walk(func(rt *RecyclingThread) {
		threads = append(threads, rt.thread)
	})
	g := new(errgroup.Group)
	for _, t := range threads {
		t := t
		g.Go(func() error {
			return t.Start(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		if detachErr := it.thread.Detach(); detachErr != nil {
			log.Printf("failed to detach %s: %v\n", it.thread, detachErr)
		}
		return err
	}
	return nil
}

// ----- Recycling Thread ----- //

// RecyclingThread runs the recalls of one context node. Children are the
// threads of the child contexts, so upstream channels complete a stage before
// the channels they feed.
type RecyclingThread struct {
	thread    *thread.Thread
	loop      *AudioLoop
	playback  *Playback
	context   *RecyclingContext
	children  []*RecyclingThread
	pass      Pass
	traversed bool
	failed    map[*Recall]bool
}

func newRecyclingThread(l *AudioLoop, pb *Playback, ctx *RecyclingContext) *RecyclingThread {
	rt := &RecyclingThread{
		loop:     l,
		playback: pb,
		context:  ctx,
	}
	rt.thread = thread.New(fmt.Sprintf("recycling-%d-%s", pb.id, ctx.channel.name), rt, 0, playbackFlags)
	return rt
}

func (rt *RecyclingThread) link(parent *thread.Thread) {
	parent.AddChild(rt.thread)
	for _, child := range rt.context.Children() {
		c := newRecyclingThread(rt.loop, rt.playback, child)
		rt.children = append(rt.children, c)
		c.link(rt.thread)
	}
}

func (rt *RecyclingThread) walk(fn func(*RecyclingThread)) {
	fn(rt)
	for _, c := range rt.children {
		c.walk(fn)
	}
}

// Run ...
func (rt *RecyclingThread) Run(ctx context.Context, tic uint64) error {
	info, ok := rt.loop.passAt(tic)
	if !ok {
		return nil
	}
	scope := rt.playback.scope
	if info.stage == StageCheckRTData && !rt.traversed {
		rt.duplicate(scope)
		rt.traversed = true
	}
	id := rt.context.LookupRecallID(scope)
	if id == nil || id.Released() {
		return nil
	}
	p := &rt.pass
	*p = Pass{
		Stage:      info.stage,
		Tic:        tic,
		Tics:       info.tics,
		Frame:      info.frame,
		BufferSize: info.bufferSize,
		SampleRate: info.sampleRate,
		Playback:   rt.playback,
		Context:    rt.context,
		RecallID:   id,
		loop:       rt.loop,
	}
	if info.stage == StageRunPre {
		if sig := p.Signal(); sig != nil {
			sig.clear()
		}
	}
	for _, r := range orderInstances(id.Instances()) {
		r.run(p)
	}
	if info.stage == StageFini && rt.traversed && len(id.Instances()) == 0 {
		id.release()
	}
	return nil
}

// duplicate instantiates the channel's templates for the context on its first
// traversal.
func (rt *RecyclingThread) duplicate(scope SoundScope) {
	templates := rt.context.channel.Templates(scope)
	if len(templates) == 0 {
		return
	}
	id := RecallIDFor(rt.context, scope)
	for _, template := range templates {
		if _, err := Duplicate(template, id); err != nil {
			if rt.failed == nil {
				rt.failed = make(map[*Recall]bool)
			}
			if !rt.failed[template] {
				rt.failed[template] = true
				log.Printf("failed to duplicate %s on %s: %v\n", template.name, rt.context.channel, err)
			}
		}
	}
}
