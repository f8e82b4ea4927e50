package audio

import (
	"testing"
)

func TestRegistryRunsResetsPeriodically(t *testing.T) {
	g := NewRegistry(3)
	a := NewTemplate("a", newRecordBehavior(), AllScopes, 0)
	b := NewTemplate("b", newRecordBehavior(), AllScopes, 0)
	count := 0
	g.Add(a, func() { count++ })
	g.Add(b, func() { count++ })
	g.Add(b, func() { count += 10 })
	expectEqual(t, g.Len(), 2)

	expectEqual(t, g.Tick(), false)
	expectEqual(t, g.Tick(), false)
	expectEqual(t, g.Tick(), true)
	expectEqual(t, count, 11)

	g.Remove(b)
	for i := 0; i < 3; i++ {
		g.Tick()
	}
	expectEqual(t, count, 12)
}

func TestPeakResetsWithRegistry(t *testing.T) {
	l := newTestLoop(t)
	inst, err := newInstrument("lead", 1, l.registry, nil)
	expectNoError(t, err)
	pb := NewPlayback(inst.Output, ScopePlayback, 69, 1, 0)
	l.Add(pb)
	// the loop's registry resets every buffer, after the feedback stage
	iterate(t, l, 2)
	expectEqual(t, l.registry.Len(), 1)
	template := inst.Output.Template("peak")
	expectEqual(t, template.Port("peak").Get(), 0.0)

	pb.Cancel()
	for i := 0; i < 10 && !pb.IsFinished(); i++ {
		iterate(t, l, 1)
	}
	expectEqual(t, l.registry.Len(), 0)
}

func TestObservers(t *testing.T) {
	o := newObservers()
	var got []Notification
	remove := o.add(ObserverFunc(func(n Notification) {
		got = append(got, n)
	}))
	full := NewChanObserver(1)
	o.add(full)

	o.notify(Notification{Kind: NotifyNoteOn, Key: 1})
	o.notify(Notification{Kind: NotifyNoteOff, Key: 1})
	expectEqual(t, len(got), 2)
	expectEqual(t, full.Dropped(), uint64(1))
	expectEqual(t, (<-full.C).Kind, NotifyNoteOn)

	remove()
	o.notify(Notification{Kind: NotifyTimelockSkip})
	expectEqual(t, len(got), 2)

	var nilObservers *observers
	nilObservers.notify(Notification{})
	expectEqual(t, NotifyPlaybackDone.String(), "playback-done")
}
