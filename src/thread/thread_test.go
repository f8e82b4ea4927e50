package thread

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func expectNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("expected no error, but got: %v", err)
	}
}

func expectEqual(t *testing.T, actual, expected interface{}) {
	t.Helper()
	if actual != expected {
		t.Errorf("expected %v, but got: %v", expected, actual)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTreeStructure(t *testing.T) {
	root := New("root", nil, 0, WaitForChildren)
	a := New("a", nil, 0, WaitForParent)
	b := New("b", nil, 0, WaitForParent)
	c := New("c", nil, 0, WaitForParent)
	root.AddChild(a)
	root.AddChild(b)
	root.AddChild(c)
	leaf := New("leaf", nil, 0, WaitForParent)
	b.AddChild(leaf)

	expectEqual(t, a.Next(), b)
	expectEqual(t, c.Prev(), b)
	expectEqual(t, c.First(), a)
	expectEqual(t, a.Last(), c)
	expectEqual(t, leaf.Toplevel(), root)
	expectEqual(t, root.Find("leaf"), leaf)
	expectEqual(t, len(b.Siblings()), 2)

	err := root.RemoveChild(b)
	if !errors.Is(err, ErrHasChildren) {
		t.Errorf("expected ErrHasChildren, but got: %v", err)
	}
	expectNoError(t, b.RemoveChild(leaf))
	expectNoError(t, root.RemoveChild(b))
	expectEqual(t, a.Next(), c)
	expectEqual(t, c.Prev(), a)
	expectEqual(t, len(root.Children()), 2)
	if b.Parent() != nil {
		t.Errorf("expected detached thread to have no parent")
	}
	if !errors.Is(root.RemoveChild(b), ErrNotChild) {
		t.Errorf("expected ErrNotChild")
	}
}

// buildTree creates root -> n children -> m grandchildren with random work.
func buildTree(n, m int, work func(*Thread)) (*Thread, []*Thread) {
	root := New("root", nil, 0, WaitForChildren)
	var all []*Thread
	for i := 0; i < n; i++ {
		var child *Thread
		child = New("child", RunnerFunc(func(ctx context.Context, tic uint64) error {
			work(child)
			return nil
		}), 0, WaitForParent|WaitForChildren)
		root.AddChild(child)
		all = append(all, child)
		for j := 0; j < m; j++ {
			var grandchild *Thread
			grandchild = New("grandchild", RunnerFunc(func(ctx context.Context, tic uint64) error {
				work(grandchild)
				return nil
			}), 0, WaitForParent)
			child.AddChild(grandchild)
			all = append(all, grandchild)
		}
	}
	return root, all
}

func TestTicNeverExceedsParentByMoreThanOne(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var mu sync.Mutex
	rnd := rand.New(rand.NewSource(1))
	root, all := buildTree(3, 2, func(*Thread) {
		mu.Lock()
		d := time.Duration(rnd.Intn(200)) * time.Microsecond
		mu.Unlock()
		time.Sleep(d)
	})
	for _, th := range all {
		expectNoError(t, th.Start(ctx))
	}

	var violations atomic.Int32
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, th := range all {
				child := th.Tic()
				parent := th.Parent().Tic()
				if child > parent+1 {
					violations.Add(1)
				}
			}
		}
	}()

	for i := 0; i < 200; i++ {
		expectNoError(t, root.Step(ctx))
		for _, c := range root.Children() {
			if c.Tic() < root.Tic() {
				t.Fatalf("parent completed %d before child %v", root.Tic(), c)
			}
		}
	}
	close(stop)
	wg.Wait()
	expectEqual(t, violations.Load(), int32(0))
	expectEqual(t, root.Tic(), uint64(200))
	for _, th := range all {
		expectEqual(t, th.Tic(), uint64(200))
		expectEqual(t, th.Skipped(), uint64(0))
	}
	for _, c := range root.Children() {
		expectNoError(t, c.Detach())
	}
}

func TestChildrenCompleteBeforeParentRuns(t *testing.T) {
	ctx := context.Background()
	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	root := New("root", RunnerFunc(func(ctx context.Context, tic uint64) error {
		record("root")
		return nil
	}), 0, WaitForChildren)
	child := New("child", RunnerFunc(func(ctx context.Context, tic uint64) error {
		time.Sleep(time.Millisecond)
		record("child")
		return nil
	}), 0, WaitForParent)
	root.AddChild(child)
	expectNoError(t, child.Start(ctx))
	defer child.Stop()

	for i := 0; i < 3; i++ {
		expectNoError(t, root.Step(ctx))
	}
	mu.Lock()
	defer mu.Unlock()
	expected := []string{"child", "root", "child", "root", "child", "root"}
	if len(order) != len(expected) {
		t.Fatalf("expected %v, but got: %v", expected, order)
	}
	for i := range expected {
		expectEqual(t, order[i], expected[i])
	}
}

func TestTimelockSkipsLaggardOnce(t *testing.T) {
	ctx := context.Background()
	var runs atomic.Int32
	root := New("root", nil, 0, WaitForChildren)
	root.SetTimelock(5 * time.Millisecond)
	child := New("child", RunnerFunc(func(ctx context.Context, tic uint64) error {
		runs.Add(1)
		return nil
	}), 0, WaitForParent)
	root.AddChild(child)
	expectNoError(t, child.Start(ctx))
	defer child.Stop()

	expectNoError(t, root.Step(ctx))
	expectEqual(t, runs.Load(), int32(1))

	child.Suspend()
	expectNoError(t, root.Step(ctx))
	expectEqual(t, child.Tic(), uint64(2))
	expectEqual(t, child.Skipped(), uint64(1))
	if !child.Status().Has(StatusSkippedByTimelock) {
		t.Errorf("expected child to be marked skipped")
	}
	child.Resume()

	expectNoError(t, root.Step(ctx))
	expectEqual(t, child.Tic(), uint64(3))
	expectEqual(t, runs.Load(), int32(2))
	expectEqual(t, child.Skipped(), uint64(1))
}

func TestGreedyIsNotSkipped(t *testing.T) {
	th := New("greedy", nil, 0, 0)
	th.Greedy(func() {
		if !th.Status().Has(StatusGreedy) {
			t.Errorf("expected greedy status")
		}
		if th.Skip(1) {
			t.Errorf("expected greedy thread not to be skipped")
		}
	})
	if th.Status().Has(StatusGreedy) {
		t.Errorf("expected greedy status to be cleared")
	}
	if !th.Skip(1) {
		t.Errorf("expected thread to be skipped")
	}
	if th.Skip(1) {
		t.Errorf("expected second skip of the same tic to fail")
	}
	expectEqual(t, th.Skipped(), uint64(1))
}

func TestLockChildrenHoldsGate(t *testing.T) {
	ctx := context.Background()
	var runs atomic.Int32
	root := New("root", nil, 0, WaitForChildren)
	child := New("child", RunnerFunc(func(ctx context.Context, tic uint64) error {
		runs.Add(1)
		return nil
	}), 0, WaitForParent)
	root.AddChild(child)
	root.LockChildren()
	expectNoError(t, child.Start(ctx))
	defer child.Stop()

	root.SetTimelock(5 * time.Millisecond)
	expectNoError(t, root.Step(ctx))
	expectEqual(t, runs.Load(), int32(0))
	waitFor(t, func() bool { return child.Status().Has(StatusLocked) })

	root.UnlockChildren()
	root.SetTimelock(0)
	expectNoError(t, root.Step(ctx))
	expectEqual(t, runs.Load(), int32(1))
}

func TestSiblingLockstep(t *testing.T) {
	ctx := context.Background()
	root := New("root", nil, 0, WaitForChildren)
	var maxSpread atomic.Int64
	var siblings []*Thread
	for i := 0; i < 3; i++ {
		var th *Thread
		th = New("sibling", RunnerFunc(func(ctx context.Context, tic uint64) error {
			for _, s := range th.Siblings() {
				spread := int64(tic) - int64(s.Tic())
				if spread > maxSpread.Load() {
					maxSpread.Store(spread)
				}
			}
			return nil
		}), 0, WaitForParent|WaitForSibling)
		root.AddChild(th)
		siblings = append(siblings, th)
	}
	for _, s := range siblings {
		expectNoError(t, s.Start(ctx))
	}
	for i := 0; i < 50; i++ {
		expectNoError(t, root.Step(ctx))
	}
	for _, s := range siblings {
		s.Stop()
	}
	if maxSpread.Load() > 1 {
		t.Errorf("expected siblings within one tic, but got spread %d", maxSpread.Load())
	}
}

func TestNextLockedAndTreeReady(t *testing.T) {
	root, all := buildTree(2, 1, func(*Thread) {})
	child := all[0]
	grandchild := all[1]
	for _, th := range all {
		th.setStatus(StatusRunning)
	}
	expectEqual(t, root.NextChildrenLocked(1), child)
	expectEqual(t, grandchild.NextParentLocked(1), child)
	if root.IsTreeReady(1) {
		t.Errorf("expected tree not ready")
	}
	for _, th := range append([]*Thread{root}, all...) {
		th.started.Store(1)
		th.tic.Store(1)
	}
	if !root.IsTreeReady(1) || !grandchild.IsTreeReady(1) {
		t.Errorf("expected tree ready")
	}
	expectEqual(t, child.NextSiblingLocked(2), (*Thread)(nil))
	expectEqual(t, child.NextSiblingLocked(3), all[2])
}

func TestSyncAllAlignsWholeTree(t *testing.T) {
	ctx := context.Background()
	root, all := buildTree(2, 2, func(*Thread) {
		time.Sleep(100 * time.Microsecond)
	})
	for _, th := range all {
		expectNoError(t, th.Start(ctx))
	}
	root.SetFlags(TreeSync)
	root.SetTimelock(time.Nanosecond)
	expectNoError(t, root.Step(ctx))
	expectEqual(t, root.NextChildrenLocked(1), (*Thread)(nil))
	for _, th := range all {
		expectEqual(t, th.Skipped(), uint64(0))
	}
	for _, c := range root.Children() {
		expectNoError(t, c.Detach())
	}
}

func TestStartErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	th := New("failing", RunnerFunc(func(ctx context.Context, tic uint64) error {
		return boom
	}), 1000, 0)
	expectNoError(t, th.Start(ctx))
	if !errors.Is(th.Start(ctx), ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning")
	}
	err := th.Wait()
	if errors.Cause(err) != boom {
		t.Errorf("expected boom, but got: %v", err)
	}
	th.Stop()
	if !errors.Is(th.Start(ctx), ErrStopped) {
		t.Errorf("expected ErrStopped")
	}
}

func TestWaitParentAndSignal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	parent := New("parent", nil, 0, 0)
	child := New("child", nil, 0, WaitForParent)
	parent.AddChild(child)
	done := make(chan error, 1)
	go func() {
		done <- child.WaitParent(ctx, 1)
	}()
	waitFor(t, func() bool { return child.Status().Has(StatusWaitingForParent) })
	parent.open(1)
	expectNoError(t, <-done)
}

func TestRemoveChildRacesAddChild(t *testing.T) {
	for i := 0; i < 200; i++ {
		root := New("root", nil, 0, 0)
		c := New("c", nil, 0, 0)
		g := New("g", nil, 0, 0)
		root.AddChild(c)
		var wg sync.WaitGroup
		var err error
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.AddChild(g)
		}()
		go func() {
			defer wg.Done()
			err = root.RemoveChild(c)
		}()
		wg.Wait()
		switch {
		case err == nil:
			if c.Parent() != nil || len(root.Children()) != 0 {
				t.Fatalf("expected c to be detached")
			}
		case errors.Is(err, ErrHasChildren):
			if c.Parent() != root || len(c.Children()) != 1 {
				t.Fatalf("expected c to stay attached with its child")
			}
		default:
			t.Fatalf("expected nil or ErrHasChildren, but got: %v", err)
		}
	}
	root := New("root", nil, 0, 0)
	if !errors.Is(root.RemoveChild(root), ErrNotChild) {
		t.Errorf("expected ErrNotChild when removing a thread from itself")
	}
}
