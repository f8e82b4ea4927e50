package audio

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLoop(t *testing.T) *AudioLoop {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BufferSize = 256
	cfg.Timelock = -1
	timer, err := NewTimerFromConfig(cfg)
	expectNoError(t, err)
	l := NewAudioLoop(cfg, timer, NewRegistry(1))
	t.Cleanup(l.Close)
	return l
}

func iterate(t *testing.T, l *AudioLoop, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := l.Iterate(context.Background()); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
	}
}

var bufferStages = []Staging{
	StageRunInitPre,
	StageRunInitInter,
	StageRunInitPost,
	StageFeedInputQueue,
	StageAutomate,
	StageRunPre,
	StageRunInter,
	StageRunPost,
	StageDoFeedback,
	StageFeedOutputQueue,
}

func expectStages(t *testing.T, actual, expected []Staging) {
	t.Helper()
	if len(actual) != len(expected) {
		t.Fatalf("expected %v, but got: %v", expected, actual)
	}
	for i := range expected {
		if actual[i] != expected[i] {
			t.Errorf("expected %v at %d, but got: %v", expected[i], i, actual[i])
		}
	}
}

func TestLoopRunsStagesInOrder(t *testing.T) {
	l := newTestLoop(t)
	behavior := newRecordBehavior()
	ch := newTestChannel("ch", NewTemplate("rec", behavior, AllScopes, 0))
	pb := NewPlayback(ch, ScopePlayback, 60, 1, 0)
	l.Add(pb)
	iterate(t, l, 1)
	expectStages(t, behavior.recorded(), bufferStages)

	// the second buffer skips the init stages
	iterate(t, l, 1)
	expectStages(t, behavior.recorded()[len(bufferStages):], bufferStages[3:])

	for _, r := range pb.Instances() {
		r.Done()
	}
	iterate(t, l, 1)
	if !pb.IsFinished() {
		t.Errorf("expected the playback to finish once its recalls are done")
	}
	expectEqual(t, len(l.Playbacks()), 0)
	expectEqual(t, len(ch.RecallIDs()), 0)
	expectEqual(t, len(ch.Recyclings()), 0)
}

func TestLoopRerunsSelectedStages(t *testing.T) {
	l := newTestLoop(t)
	behavior := newRecordBehavior()
	ch := newTestChannel("ch", NewTemplate("rec", behavior, AllScopes, 0))
	l.Add(NewPlayback(ch, ScopePlayback, 60, 1, 0))
	iterate(t, l, 1)
	before := len(behavior.recorded())

	if err := l.Rerun(context.Background(), StageRunInter); err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	expectStages(t, behavior.recorded()[before:], []Staging{StageRunInter})

	l.SetStaging(StageRunPre | StageFini)
	expectEqual(t, l.Staging(), StageRunPre|StageFini)
	iterate(t, l, 1)
	expectStages(t, behavior.recorded()[before+1:], []Staging{StageRunPre})
}

func TestLoopMixesVoicesIntoBus(t *testing.T) {
	l := newTestLoop(t)
	inst, err := newInstrument("lead", 1, l.registry, nil)
	expectNoError(t, err)
	l.Add(NewPlayback(inst.Output, ScopePlayback, 69, 1, 0))
	iterate(t, l, 2)

	peak := 0.0
	for _, v := range l.Bus().Buffer() {
		if v > peak {
			peak = v
		} else if -v > peak {
			peak = -v
		}
	}
	if peak == 0 {
		t.Errorf("expected the voice to reach the bus")
	}
}

func TestLoopCancelsOneOfTwoVoices(t *testing.T) {
	l := newTestLoop(t)
	inst, err := newInstrument("keys", 1, l.registry, nil)
	expectNoError(t, err)
	pb1 := NewPlayback(inst.Output, ScopeNotation, 60, 1, 0)
	pb2 := NewPlayback(inst.Output, ScopeNotation, 64, 1, 0)
	l.Add(pb1)
	l.Add(pb2)
	iterate(t, l, 2)

	ids1, ids2 := pb1.RecallIDs(), pb2.RecallIDs()
	expectEqual(t, len(ids1), 2)
	expectEqual(t, len(ids2), 2)
	seen := map[*RecallID]bool{}
	for _, id := range append(ids1, ids2...) {
		if seen[id] {
			t.Fatalf("expected distinct recall ids, but %v is shared", id)
		}
		seen[id] = true
	}
	if pb1.Instances()[0].Template() == nil {
		t.Fatalf("expected instances of templates")
	}

	pb1.Cancel()
	for i := 0; i < 10 && !pb1.IsFinished(); i++ {
		iterate(t, l, 1)
	}
	if !pb1.IsFinished() {
		t.Fatalf("expected the cancelled voice to finish")
	}
	if pb2.IsDone() {
		t.Errorf("expected the other voice to keep playing")
	}
	playbacks := l.Playbacks()
	if len(playbacks) != 1 || playbacks[0] != pb2 {
		t.Errorf("expected only %v to stay attached, but got: %v", pb2, playbacks)
	}
}

func TestLoopNoteOffEndsVoice(t *testing.T) {
	l := newTestLoop(t)
	inst, err := newInstrument("pad", 2, l.registry, nil)
	expectNoError(t, err)
	for _, layer := range inst.Layers {
		layer.Template("envelope").Port("release").Set(0)
	}
	pb := NewPlayback(inst.Output, ScopeNotation, 60, 1, 0)
	l.Add(pb)
	iterate(t, l, 2)
	pb.Push(Event{Kind: EventNoteOff, Key: 60, Frame: l.Timer().Frame()})
	for i := 0; i < 10 && !pb.IsFinished(); i++ {
		iterate(t, l, 1)
	}
	if !pb.IsFinished() {
		t.Errorf("expected note-off to end the voice")
	}
}

func TestLoopFillChecksBufferSize(t *testing.T) {
	l := newTestLoop(t)
	if err := l.Fill(context.Background(), make([]byte, 10)); err == nil {
		t.Errorf("expected an error for a short buffer")
	}
	buf := make([]byte, l.config.BufferSizeInBytes())
	expectNoError(t, l.Fill(context.Background(), buf))
	expectEqual(t, l.Iterations(), uint64(1))
}

func TestLoopCloseReleasesPlaybacks(t *testing.T) {
	l := newTestLoop(t)
	ch := newTestChannel("ch", NewTemplate("rec", newRecordBehavior(), AllScopes, 0))
	l.Add(NewPlayback(ch, ScopePlayback, 60, 1, 0))
	iterate(t, l, 1)
	l.Add(NewPlayback(ch, ScopePlayback, 61, 1, 0))
	l.Close()
	expectEqual(t, len(l.Playbacks()), 0)
	expectEqual(t, len(ch.RecallIDs()), 0)
	expectEqual(t, len(l.Root().Children()), 0)
}

func TestLoopPatterns(t *testing.T) {
	l := newTestLoop(t)
	if _, ok := l.Pattern("drums"); ok {
		t.Errorf("expected no pattern")
	}
	l.SetPattern("drums", "x.x.")
	pattern, _ := l.Pattern("drums")
	expectEqual(t, pattern, "x.x.")
	patterns := l.Patterns()
	patterns["drums"] = "...."
	pattern, _ = l.Pattern("drums")
	expectEqual(t, pattern, "x.x.")
}

// lateBehavior records like recordBehavior and oversleeps one run-inter stage
// when armed.
type lateBehavior struct {
	*recordBehavior
	armed *atomic.Bool
	delay time.Duration
}

func (b *lateBehavior) Clone() Behavior {
	return &lateBehavior{recordBehavior: b.recordBehavior.Clone().(*recordBehavior), armed: b.armed, delay: b.delay}
}

func (b *lateBehavior) Run(r *Recall, p *Pass) {
	b.record(p)
	if p.Stage == StageRunInter && b.armed.CompareAndSwap(true, false) {
		time.Sleep(b.delay)
	}
}

func TestLoopSkipsLateVoiceForOneBuffer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 256
	cfg.Timelock = 100 * time.Millisecond
	timer, err := NewTimerFromConfig(cfg)
	expectNoError(t, err)
	l := NewAudioLoop(cfg, timer, NewRegistry(1))
	t.Cleanup(l.Close)
	l.observers = newObservers()
	notifications := NewChanObserver(64)
	l.observers.add(notifications)

	inst, err := newInstrument("lead", 1, l.registry, nil)
	expectNoError(t, err)
	late := &lateBehavior{recordBehavior: newRecordBehavior(), armed: &atomic.Bool{}, delay: 300 * time.Millisecond}
	inst.Output.AddContainer(NewRecallContainer("late", NewTemplate("late", late, AllScopes, 0)))
	pb := NewPlayback(inst.Output, ScopePlayback, 69, 1, 0)
	l.Add(pb)
	iterate(t, l, 2)
	expectEqual(t, l.Skipped(), uint64(0))
	id := pb.context.LookupRecallID(ScopePlayback)
	if id == nil {
		t.Fatalf("expected a recall id for the voice")
	}
	instance := id.Find("late")
	if instance == nil {
		t.Fatalf("expected the late recall to be instantiated")
	}
	drain(notifications)

	before := len(late.recorded())
	late.armed.Store(true)
	iterate(t, l, 1)
	skipped := l.Skipped()
	if skipped == 0 {
		t.Fatalf("expected the late voice to be skipped")
	}
	var skips []Notification
	for _, n := range drain(notifications) {
		if n.Kind == NotifyTimelockSkip {
			skips = append(skips, n)
		}
	}
	expectEqual(t, len(skips), 1)
	if len(skips) == 1 {
		expectEqual(t, skips[0].Value, float64(skipped))
	}
	// the late thread catches up on every stage of the buffer
	expectStages(t, late.recorded()[before:], bufferStages[3:])
	if id.Find("late") != instance || id.Released() {
		t.Errorf("expected the recall instance to survive the skip")
	}

	iterate(t, l, 3)
	expectEqual(t, l.Skipped(), skipped)
	heard := false
	for _, v := range l.Bus().Buffer() {
		if v != 0 {
			heard = true
			break
		}
	}
	if !heard {
		t.Errorf("expected the voice to render after the skip")
	}
	expectEqual(t, pb.IsFinished(), false)
	expectEqual(t, len(l.Playbacks()), 1)
}
