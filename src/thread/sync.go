package thread

import (
	"context"
	"time"
)

// syncPoll bounds how long a tree-wide sync waits between checks, since
// grandchildren only signal their own parents.
const syncPoll = time.Millisecond

// ----- Readiness ----- //

func (t *Thread) parentReady(tic uint64) bool {
	parent := t.Parent()
	return parent == nil || parent.started.Load() >= tic
}

func (t *Thread) siblingsReady(tic uint64) bool {
	return t.NextSiblingLocked(tic) == nil
}

func (t *Thread) childrenReady(tic uint64) bool {
	for _, c := range t.Children() {
		if c.IsRunning() && c.tic.Load() < tic {
			return false
		}
	}
	return true
}

// NextParentLocked returns the nearest ancestor that has not opened tic yet,
// following ancestors that wait on their own parent.
func (t *Thread) NextParentLocked(tic uint64) *Thread {
	for parent := t.Parent(); parent != nil; parent = parent.Parent() {
		if parent.started.Load() < tic {
			return parent
		}
		if !parent.Flags().Has(WaitForParent) {
			break
		}
	}
	return nil
}

// NextSiblingLocked returns the first running sibling that has not completed
// the generation before tic.
func (t *Thread) NextSiblingLocked(tic uint64) *Thread {
	for _, s := range t.Siblings() {
		if s.IsRunning() && s.tic.Load()+1 < tic {
			return s
		}
	}
	return nil
}

// NextChildrenLocked returns the first running descendant, depth first, that
// has not completed tic.
func (t *Thread) NextChildrenLocked(tic uint64) *Thread {
	for _, c := range t.Children() {
		if !c.IsRunning() {
			continue
		}
		if c.tic.Load() < tic {
			return c
		}
		if found := c.NextChildrenLocked(tic); found != nil {
			return found
		}
	}
	return nil
}

// IsTreeReady reports whether every relative t is configured to wait on has
// reached tic.
func (t *Thread) IsTreeReady(tic uint64) bool {
	flags := t.Flags()
	if flags.Has(WaitForParent) && t.NextParentLocked(tic) != nil {
		return false
	}
	if flags.Has(WaitForSibling) && t.NextSiblingLocked(tic) != nil {
		return false
	}
	if flags.Has(WaitForChildren) && t.NextChildrenLocked(tic) != nil {
		return false
	}
	return true
}

// ----- Wait ----- //

// waitUntil blocks until ready holds. A zero deadline waits without bound.
func (t *Thread) waitUntil(ctx context.Context, deadline time.Time, poll time.Duration, ready func() bool) error {
	var timer *time.Timer
	if !deadline.IsZero() {
		timer = time.NewTimer(time.Until(deadline))
		defer timer.Stop()
	}
	var ticker *time.Ticker
	if poll > 0 {
		ticker = time.NewTicker(poll)
		defer ticker.Stop()
	}
	for {
		ch := t.cond.C()
		if ready() {
			return nil
		}
		var timeout <-chan time.Time
		if timer != nil {
			timeout = timer.C
		}
		var tick <-chan time.Time
		if ticker != nil {
			tick = ticker.C
		}
		select {
		case <-ch:
		case <-t.cond.One():
		case <-tick:
		case <-timeout:
			if ready() {
				return nil
			}
			return errTimelock
		case <-t.stopCh:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Thread) deadline() time.Time {
	if d := t.Timelock(); d > 0 {
		return time.Now().Add(d)
	}
	return time.Time{}
}

// WaitParent blocks until the parent opened tic and no relative holds t.
func (t *Thread) WaitParent(ctx context.Context, tic uint64) error {
	t.setStatus(StatusWaitingForParent)
	defer t.unsetStatus(StatusWaitingForParent)
	return t.waitUntil(ctx, time.Time{}, 0, func() bool {
		if t.Status().Has(StatusSuspended) {
			return false
		}
		if t.holds.Load() > 0 {
			t.setStatus(StatusLocked)
			return false
		}
		t.unsetStatus(StatusLocked)
		return t.parentReady(tic)
	})
}

// WaitSibling blocks until every running sibling completed the generation
// before tic. Laggards are skipped once the timelock expires.
func (t *Thread) WaitSibling(ctx context.Context, tic uint64) error {
	t.setStatus(StatusWaitingForSibling)
	defer t.unsetStatus(StatusWaitingForSibling)
	return t.waitTimelocked(ctx, func() bool {
		return t.siblingsReady(tic)
	}, func() {
		for _, s := range t.Siblings() {
			if s.IsRunning() && s.tic.Load()+1 < tic {
				s.Skip(tic - 1)
			}
		}
	})
}

// WaitChildren blocks until every running child completed tic. Laggards are
// skipped once the timelock expires, except greedy ones.
func (t *Thread) WaitChildren(ctx context.Context, tic uint64) error {
	t.setStatus(StatusWaitingForChildren)
	defer t.unsetStatus(StatusWaitingForChildren)
	if t.Flags().Has(TreeSync) {
		return t.SyncAll(ctx, tic)
	}
	return t.waitTimelocked(ctx, func() bool {
		return t.childrenReady(tic)
	}, func() {
		for _, c := range t.Children() {
			if c.IsRunning() && c.tic.Load() < tic {
				c.Skip(tic)
			}
		}
	})
}

func (t *Thread) waitTimelocked(ctx context.Context, ready func() bool, skip func()) error {
	err := t.waitUntil(ctx, t.deadline(), 0, ready)
	if err != errTimelock {
		return err
	}
	skip()
	// greedy laggards finish their critical section
	return t.waitUntil(ctx, time.Time{}, 0, ready)
}

// SyncAll waits until the whole subtree completed tic, without skipping.
func (t *Thread) SyncAll(ctx context.Context, tic uint64) error {
	return t.waitUntil(ctx, time.Time{}, syncPoll, func() bool {
		return t.NextChildrenLocked(tic) == nil
	})
}

// ----- Signal ----- //

func wake(t *Thread, broadcast bool) {
	if broadcast {
		t.cond.Broadcast()
	} else {
		t.cond.Signal()
	}
}

// SignalParent ...
func (t *Thread) SignalParent(broadcast bool) {
	if parent := t.Parent(); parent != nil {
		wake(parent, broadcast)
	}
}

// SignalSibling ...
func (t *Thread) SignalSibling(broadcast bool) {
	for _, s := range t.Siblings() {
		wake(s, broadcast)
	}
}

// SignalChildren ...
func (t *Thread) SignalChildren(broadcast bool) {
	for _, c := range t.Children() {
		wake(c, broadcast)
	}
}

// ----- Lock ----- //

func hold(t *Thread) {
	t.holds.Add(1)
}

func release(t *Thread) {
	if t.holds.Add(-1) <= 0 {
		t.holds.Store(0)
		t.unsetStatus(StatusLocked)
	}
	t.cond.Broadcast()
}

// LockParent holds the parent at its next gate.
func (t *Thread) LockParent() {
	if parent := t.Parent(); parent != nil {
		hold(parent)
	}
}

// UnlockParent ...
func (t *Thread) UnlockParent() {
	if parent := t.Parent(); parent != nil {
		release(parent)
	}
}

// LockSibling holds every sibling at its next gate.
func (t *Thread) LockSibling() {
	for _, s := range t.Siblings() {
		hold(s)
	}
}

// UnlockSibling ...
func (t *Thread) UnlockSibling() {
	for _, s := range t.Siblings() {
		release(s)
	}
}

// LockChildren holds every child at its next gate.
func (t *Thread) LockChildren() {
	for _, c := range t.Children() {
		hold(c)
	}
}

// UnlockChildren ...
func (t *Thread) UnlockChildren() {
	for _, c := range t.Children() {
		release(c)
	}
}

// ----- Timelock ----- //

// Skip marks t as skipped for tic. It fails while t is greedy or already
// completed tic. Persistent state of the runner is untouched.
func (t *Thread) Skip(tic uint64) bool {
	t.workMu.Lock()
	if t.greedy > 0 || t.tic.Load() >= tic {
		t.workMu.Unlock()
		return false
	}
	t.tic.Store(tic)
	if t.started.Load() < tic {
		t.started.Store(tic)
	}
	t.workMu.Unlock()
	t.skipped.Add(1)
	t.setStatus(StatusSkippedByTimelock)
	t.cond.Broadcast()
	t.SignalParent(true)
	t.SignalSibling(true)
	return true
}

// Greedy runs fn as a critical section that timelock does not preempt.
func (t *Thread) Greedy(fn func()) {
	t.workMu.Lock()
	t.greedy++
	t.setStatus(StatusGreedy)
	t.workMu.Unlock()
	defer func() {
		t.workMu.Lock()
		t.greedy--
		if t.greedy == 0 {
			t.unsetStatus(StatusGreedy)
		}
		t.workMu.Unlock()
		t.cond.Broadcast()
	}()
	fn()
}

func (t *Thread) beginWork(tic uint64) bool {
	t.workMu.Lock()
	defer t.workMu.Unlock()
	if t.tic.Load() >= tic {
		return false
	}
	t.greedy++
	t.setStatus(StatusGreedy)
	return true
}

func (t *Thread) endWork(tic uint64) {
	t.workMu.Lock()
	t.greedy--
	if t.greedy == 0 {
		t.unsetStatus(StatusGreedy)
	}
	if t.tic.Load() < tic {
		t.tic.Store(tic)
	}
	t.workMu.Unlock()
	t.unsetStatus(StatusSkippedByTimelock)
}

func (t *Thread) open(tic uint64) {
	t.workMu.Lock()
	if t.started.Load() < tic {
		t.started.Store(tic)
	}
	t.workMu.Unlock()
	t.SignalChildren(true)
}
