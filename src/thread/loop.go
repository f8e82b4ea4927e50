package thread

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"
)

// Step runs one generation: wait for the relatives selected by the flags,
// open the generation for the children, wait for them to complete it, then run
// the work as a greedy section. A generation skipped by timelock returns nil
// without running the work.
func (t *Thread) Step(ctx context.Context) error {
	if err := t.waitResumed(ctx); err != nil {
		return err
	}
	tic := t.tic.Load() + 1
	flags := t.Flags()

	if flags.Has(WaitForParent) || t.holds.Load() > 0 {
		if err := t.WaitParent(ctx, tic); err != nil {
			return err
		}
	}
	if t.tic.Load() >= tic {
		return nil
	}
	if flags.Has(WaitForSibling) {
		if err := t.WaitSibling(ctx, tic); err != nil {
			return err
		}
	}
	t.open(tic)
	if flags.Has(WaitForChildren) {
		if err := t.WaitChildren(ctx, tic); err != nil {
			return err
		}
	}
	if !t.beginWork(tic) {
		return nil
	}
	var err error
	if t.runner != nil {
		err = t.runner.Run(ctx, tic)
	}
	t.endWork(tic)
	t.SignalParent(true)
	t.SignalSibling(true)
	return err
}

// Start runs the thread on its own goroutine until Stop or ctx is done.
func (t *Thread) Start(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.stopped {
		return ErrStopped
	}
	if t.doneCh != nil {
		return ErrAlreadyRunning
	}
	t.doneCh = make(chan struct{})
	t.setStatus(StatusRunning | StatusInitialRun)
	t.SignalParent(true)
	go t.loop(ctx, t.doneCh)
	return nil
}

func (t *Thread) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		t.unsetStatus(StatusRunning)
		t.SignalParent(true)
		t.SignalSibling(true)
	}()
	var ticker *time.Ticker
	if t.freq > 0 {
		ticker = time.NewTicker(time.Duration(float64(time.Second) / t.freq))
		defer ticker.Stop()
	}
	for {
		err := t.Step(ctx)
		t.unsetStatus(StatusInitialRun)
		if err != nil {
			if err == ErrStopped || errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("thread %s stopped: %v\n", t.name, err)
			t.runMu.Lock()
			t.err = errors.Wrapf(err, "thread %s", t.name)
			t.runMu.Unlock()
			return
		}
		if ticker == nil {
			select {
			case <-t.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
			continue
		}
		select {
		case <-ticker.C:
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the loop and waits for it to return. Stop is idempotent.
func (t *Thread) Stop() {
	t.runMu.Lock()
	if !t.stopped {
		t.stopped = true
		close(t.stopCh)
	}
	done := t.doneCh
	t.runMu.Unlock()
	if done != nil {
		<-done
	}
	t.unsetStatus(StatusRunning)
	t.SignalParent(true)
	t.SignalSibling(true)
}

// Wait blocks until the loop returned and reports the error that ended it.
func (t *Thread) Wait() error {
	t.runMu.Lock()
	done := t.doneCh
	t.runMu.Unlock()
	if done != nil {
		<-done
	}
	t.runMu.Lock()
	defer t.runMu.Unlock()
	return t.err
}

// Suspend freezes the thread at its next gate. Greedy sections complete first.
func (t *Thread) Suspend() {
	t.setStatus(StatusSuspended)
}

// Resume ...
func (t *Thread) Resume() {
	t.unsetStatus(StatusSuspended)
	t.cond.Broadcast()
}

func (t *Thread) waitResumed(ctx context.Context) error {
	if !t.Status().Has(StatusSuspended) {
		return nil
	}
	return t.waitUntil(ctx, time.Time{}, 0, func() bool {
		return !t.Status().Has(StatusSuspended)
	})
}
