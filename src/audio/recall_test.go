package audio

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
)

// recordBehavior logs the stages it is called at.
type recordBehavior struct {
	mu     *sync.Mutex
	stages *[]Staging
	empty  func() bool
}

func newRecordBehavior() *recordBehavior {
	return &recordBehavior{mu: &sync.Mutex{}, stages: &[]Staging{}}
}

func (b *recordBehavior) Clone() Behavior {
	return &recordBehavior{mu: b.mu, stages: b.stages, empty: b.empty}
}

func (b *recordBehavior) record(p *Pass) {
	b.mu.Lock()
	*b.stages = append(*b.stages, p.Stage)
	b.mu.Unlock()
}

func (b *recordBehavior) recorded() []Staging {
	b.mu.Lock()
	defer b.mu.Unlock()
	stages := make([]Staging, len(*b.stages))
	copy(stages, *b.stages)
	return stages
}

func (b *recordBehavior) RunInit(r *Recall, p *Pass)                  { b.record(p) }
func (b *recordBehavior) FeedInput(r *Recall, p *Pass, events []Event) { b.record(p) }
func (b *recordBehavior) Automate(r *Recall, p *Pass)                 { b.record(p) }
func (b *recordBehavior) Run(r *Recall, p *Pass)                      { b.record(p) }
func (b *recordBehavior) Feedback(r *Recall, p *Pass)                 { b.record(p) }
func (b *recordBehavior) FeedOutput(r *Recall, p *Pass)               { b.record(p) }

func (b *recordBehavior) Empty(r *Recall, p *Pass) bool {
	return b.empty != nil && b.empty()
}

func newTestChannel(name string, templates ...*Recall) *Channel {
	ch := NewChannel(name)
	ch.AddContainer(NewRecallContainer(name, templates...))
	return ch
}

func newTestRecallID(ch *Channel, scope SoundScope) *RecallID {
	ctx := NewRecyclingContext(ch, scope, NewRecycling(ch))
	return RecallIDFor(ctx, scope)
}

func TestDuplicateIsIdempotent(t *testing.T) {
	template := NewTemplate("rec", newRecordBehavior(), AllScopes, 0, NewPort("gain", 1, 0, 2))
	ch := newTestChannel("ch", template)
	id := newTestRecallID(ch, ScopeNotation)

	var wg sync.WaitGroup
	results := make([]*Recall, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := Duplicate(template, id)
			expectNoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		if r != results[0] {
			t.Fatalf("expected one instance, but got: %v and %v", results[0], r)
		}
	}
	if n := template.container.Len(); n != 1 {
		t.Errorf("expected 1 live instance, but got: %d", n)
	}
	if n := len(id.Instances()); n != 1 {
		t.Errorf("expected 1 instance in the recall id, but got: %d", n)
	}
	if refs := template.Refs(); refs != 2 {
		t.Errorf("expected the template to be referenced twice, but got: %d", refs)
	}

	results[0].Remove()
	r, err := Duplicate(template, id)
	expectNoError(t, err)
	if r == results[0] {
		t.Errorf("expected a new instance after removal")
	}
}

func TestDuplicateCopiesPorts(t *testing.T) {
	template := NewTemplate("rec", newRecordBehavior(), AllScopes, 0, NewPort("gain", 1, 0, 2))
	ch := newTestChannel("ch", template)
	r, err := Duplicate(template, newTestRecallID(ch, ScopePlayback))
	expectNoError(t, err)

	if r.Port("gain") == template.Port("gain") {
		t.Fatalf("expected the instance to own its ports")
	}
	template.Port("gain").Set(1.5)
	r.run(&Pass{Stage: StageAutomate})
	expectEqual(t, r.Port("gain").Get(), 1.5)

	template.Port("gain").Set(5)
	expectEqual(t, template.Port("gain").Get(), 2.0)
}

func TestDuplicateLinksParentInstance(t *testing.T) {
	parentTemplate := NewTemplate("parent", newRecordBehavior(), AllScopes, FlagPropagateDone)
	parentTemplate.SetChildType("child")
	childTemplate := NewTemplate("child", newRecordBehavior(), AllScopes, 0)
	expectNoError(t, childTemplate.SetParentTemplate(parentTemplate))

	out := newTestChannel("out", parentTemplate)
	in := newTestChannel("in", childTemplate)
	expectNoError(t, out.AddInput(in))

	ctx := buildContext(out, ScopeNotation)
	inCtx := ctx.FindChannel(in)
	child, err := Duplicate(childTemplate, RecallIDFor(inCtx, ScopeNotation))
	expectNoError(t, err)

	parent := parentTemplate.container.Instance(parentTemplate, ctx.LookupRecallID(ScopeNotation))
	if parent == nil {
		t.Fatalf("expected the parent to be duplicated in the output context")
	}
	if child.Parent() != parent {
		t.Errorf("expected %v below %v, but got: %v", child, parent, child.Parent())
	}
	if len(parent.Children()) != 1 {
		t.Errorf("expected 1 child, but got: %d", len(parent.Children()))
	}

	child.Remove()
	if !parent.IsDone() {
		t.Errorf("expected the parent to be done once its last child is removed")
	}
}

func TestChildTypeMismatchBreaksChain(t *testing.T) {
	parentTemplate := NewTemplate("parent", newRecordBehavior(), AllScopes, 0)
	parentTemplate.SetChildType("other")
	childTemplate := NewTemplate("child", newRecordBehavior(), AllScopes, 0)
	ch := newTestChannel("ch", parentTemplate, childTemplate)

	err := childTemplate.SetParentTemplate(parentTemplate)
	if !errors.Is(err, ErrChildTypeMismatch) {
		t.Fatalf("expected ErrChildTypeMismatch, but got: %v", err)
	}
	if !childTemplate.HasFlag(FlagBroken) {
		t.Errorf("expected the chain to be marked broken")
	}
	_, err = Duplicate(childTemplate, newTestRecallID(ch, ScopePlayback))
	if !errors.Is(err, ErrBrokenChain) {
		t.Errorf("expected ErrBrokenChain, but got: %v", err)
	}
}

func TestDuplicateRejectsInstancesAndReleasedIDs(t *testing.T) {
	template := NewTemplate("rec", newRecordBehavior(), AllScopes, 0)
	ch := newTestChannel("ch", template)
	id := newTestRecallID(ch, ScopePlayback)
	r, err := Duplicate(template, id)
	expectNoError(t, err)

	if _, err := Duplicate(r, id); !errors.Is(err, ErrNotTemplate) {
		t.Errorf("expected ErrNotTemplate, but got: %v", err)
	}
	id.release()
	other := NewTemplate("other", newRecordBehavior(), AllScopes, 0)
	ch.AddContainer(NewRecallContainer("other", other))
	if _, err := Duplicate(other, id); !errors.Is(err, ErrNoRecallID) {
		t.Errorf("expected ErrNoRecallID, but got: %v", err)
	}
}

func TestDependencyLeavesRecallInert(t *testing.T) {
	a := NewTemplate("a", newRecordBehavior(), AllScopes, 0)
	b := NewTemplate("b", newRecordBehavior(), AllScopes, 0)
	b.DependsOn("a")
	ch := newTestChannel("ch", a, b)
	id := newTestRecallID(ch, ScopePlayback)

	rb, err := Duplicate(b, id)
	expectNoError(t, err)
	if !rb.HasFlag(FlagInert) {
		t.Fatalf("expected b to be inert before a exists")
	}
	ra, err := Duplicate(a, id)
	expectNoError(t, err)
	rb.run(&Pass{Stage: StageCheckRTData})
	if rb.HasFlag(FlagInert) {
		t.Errorf("expected b to be resolved")
	}
	if rb.Dependency("a") != ra {
		t.Errorf("expected b to depend on %v, but got: %v", ra, rb.Dependency("a"))
	}
	expectEqual(t, ra.Dependents(), 1)

	ordered := orderInstances([]*Recall{rb, ra})
	if ordered[0] != ra || ordered[1] != rb {
		t.Errorf("expected dependencies first, but got: %v", ordered)
	}

	rb.Remove()
	expectEqual(t, ra.Dependents(), 0)
}

func TestCancelStopsPersistentTree(t *testing.T) {
	parentTemplate := NewTemplate("parent", newRecordBehavior(), AllScopes, FlagPersistent|FlagPropagateDone)
	parentTemplate.SetChildType("child")
	childTemplate := NewTemplate("child", newRecordBehavior(), AllScopes, 0)
	expectNoError(t, childTemplate.SetParentTemplate(parentTemplate))
	ch := newTestChannel("ch", parentTemplate, childTemplate)
	id := newTestRecallID(ch, ScopeSequencer)

	child, err := Duplicate(childTemplate, id)
	expectNoError(t, err)
	parent := child.Parent()
	if !child.HasFlag(FlagPersistent) {
		t.Errorf("expected the child to inherit the persistent flag")
	}

	parent.Cancel()
	if parent.IsDone() || child.IsDone() {
		t.Fatalf("expected cancel to wait for the next buffer")
	}
	parent.run(&Pass{Stage: StageRunPre})
	if !parent.IsDone() || !child.IsDone() {
		t.Errorf("expected the whole tree to be done")
	}
	if parent.HasFlag(FlagPersistent) || child.HasFlag(FlagPersistent) {
		t.Errorf("expected the persistent flag to be cleared")
	}

	parent.run(&Pass{Stage: StageFini})
	expectEqual(t, parent.State(), StateRemoved)
	expectEqual(t, child.State(), StateRemoved)
	expectEqual(t, len(id.Instances()), 0)
}

func TestPersistentRecallIsNotDoneWhenEmpty(t *testing.T) {
	behavior := newRecordBehavior()
	behavior.empty = func() bool { return true }
	template := NewTemplate("rec", behavior, AllScopes, FlagPersistent)
	ch := newTestChannel("ch", template)
	r, err := Duplicate(template, newTestRecallID(ch, ScopeSequencer))
	expectNoError(t, err)

	r.run(&Pass{Stage: StageFini})
	if r.IsDone() {
		t.Errorf("expected a persistent recall to survive an empty pass")
	}
	r.StopPersistent()
	r.run(&Pass{Stage: StageFini})
	expectEqual(t, r.State(), StateRemoved)
}

func TestRemoveFinalizesInstances(t *testing.T) {
	a := NewTemplate("a", newRecordBehavior(), AllScopes, 0)
	b := NewTemplate("b", newRecordBehavior(), AllScopes, 0)
	ch := newTestChannel("ch", a, b)
	id := newTestRecallID(ch, ScopePlayback)
	for _, template := range []*Recall{a, b} {
		_, err := Duplicate(template, id)
		expectNoError(t, err)
	}
	container := a.container

	expectEqual(t, container.Remove(id), 2)
	expectEqual(t, container.Len(), 0)
	expectEqual(t, container.Finalized(), uint64(2))
	expectEqual(t, a.Refs(), 1)
	expectEqual(t, b.Refs(), 1)
}

func TestIsDoneIgnoresOtherContexts(t *testing.T) {
	template := NewTemplate("rec", newRecordBehavior(), AllScopes, 0)
	ch := newTestChannel("ch", template)
	id1 := newTestRecallID(ch, ScopePlayback)
	id2 := newTestRecallID(ch, ScopePlayback)
	r1, err := Duplicate(template, id1)
	expectNoError(t, err)
	r2, err := Duplicate(template, id2)
	expectNoError(t, err)

	r1.Done()
	recalls := []*Recall{r1, r2}
	if !IsDone(recalls, id1.context) {
		t.Errorf("expected context 1 to be done")
	}
	if IsDone(recalls, id2.context) {
		t.Errorf("expected context 2 not to be done")
	}
}
