package thread

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ----- Flags ----- //

// Flags select the relatives a thread synchronizes with.
type Flags uint32

const (
	// WaitForParent parks the thread until its parent opened the generation.
	WaitForParent Flags = 1 << iota
	// WaitForSibling keeps the thread in lockstep with its siblings.
	WaitForSibling
	// WaitForChildren makes the thread run after its children completed the generation.
	WaitForChildren
	// TreeSync makes the next children wait a full-tree alignment without timelock.
	TreeSync
)

// Has ...
func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

// ----- Status ----- //

// Status is the runtime state of a thread.
type Status uint32

const (
	StatusRunning Status = 1 << iota
	StatusInitialRun
	StatusWaitingForParent
	StatusWaitingForSibling
	StatusWaitingForChildren
	StatusSkippedByTimelock
	StatusGreedy
	StatusSuspended
	StatusLocked
)

// Has ...
func (s Status) Has(status Status) bool {
	return s&status != 0
}

// ----- Runner ----- //

// Runner does the work of one generation.
type Runner interface {
	Run(ctx context.Context, tic uint64) error
}

// RunnerFunc ...
type RunnerFunc func(ctx context.Context, tic uint64) error

// Run ...
func (f RunnerFunc) Run(ctx context.Context, tic uint64) error {
	return f(ctx, tic)
}

// ----- Thread ----- //

// Thread is a node of the execution tree.
// A generation g is opened by the thread (started = g) and completed when
// tic reaches g. Parents are non-owning back-references.
type Thread struct {
	name   string
	runner Runner
	freq   float64

	flags    atomic.Uint32
	status   atomic.Uint32
	timelock atomic.Int64

	mu       sync.Mutex
	parent   *Thread
	next     *Thread
	prev     *Thread
	children []*Thread

	workMu  sync.Mutex
	greedy  int
	tic     atomic.Uint64
	started atomic.Uint64
	skipped atomic.Uint64
	holds   atomic.Int32

	cond *Cond

	runMu   sync.Mutex
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	err     error
}

// New creates a thread running runner at freq Hz. freq 0 means the thread is
// paced by its relatives only.
func New(name string, runner Runner, freq float64, flags Flags) *Thread {
	t := &Thread{
		name:   name,
		runner: runner,
		freq:   freq,
		cond:   NewCond(),
		stopCh: make(chan struct{}),
	}
	t.flags.Store(uint32(flags))
	return t
}

func (t *Thread) String() string {
	return fmt.Sprintf("%s(tic=%d)", t.name, t.tic.Load())
}

// Name ...
func (t *Thread) Name() string {
	return t.name
}

// Freq ...
func (t *Thread) Freq() float64 {
	return t.freq
}

// Tic returns the number of completed generations.
func (t *Thread) Tic() uint64 {
	return t.tic.Load()
}

// Started returns the last opened generation.
func (t *Thread) Started() uint64 {
	return t.started.Load()
}

// Skipped returns how many generations were skipped by timelock.
func (t *Thread) Skipped() uint64 {
	return t.skipped.Load()
}

// Flags ...
func (t *Thread) Flags() Flags {
	return Flags(t.flags.Load())
}

// SetFlags ...
func (t *Thread) SetFlags(flags Flags) {
	for {
		old := t.flags.Load()
		if t.flags.CompareAndSwap(old, old|uint32(flags)) {
			return
		}
	}
}

// UnsetFlags ...
func (t *Thread) UnsetFlags(flags Flags) {
	for {
		old := t.flags.Load()
		if t.flags.CompareAndSwap(old, old&^uint32(flags)) {
			return
		}
	}
}

// Status ...
func (t *Thread) Status() Status {
	return Status(t.status.Load())
}

func (t *Thread) setStatus(status Status) {
	for {
		old := t.status.Load()
		if t.status.CompareAndSwap(old, old|uint32(status)) {
			return
		}
	}
}

func (t *Thread) unsetStatus(status Status) {
	for {
		old := t.status.Load()
		if t.status.CompareAndSwap(old, old&^uint32(status)) {
			return
		}
	}
}

// IsRunning ...
func (t *Thread) IsRunning() bool {
	return t.Status().Has(StatusRunning)
}

// SetTimelock bounds how long the thread waits on children and siblings.
// Zero or negative waits without bound.
func (t *Thread) SetTimelock(d time.Duration) {
	t.timelock.Store(int64(d))
}

// Timelock ...
func (t *Thread) Timelock() time.Duration {
	return time.Duration(t.timelock.Load())
}

// ----- Tree ----- //

// Parent ...
func (t *Thread) Parent() *Thread {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.parent
}

// Next ...
func (t *Thread) Next() *Thread {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// Prev ...
func (t *Thread) Prev() *Thread {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prev
}

// Children returns a snapshot of the children in order.
func (t *Thread) Children() []*Thread {
	t.mu.Lock()
	defer t.mu.Unlock()
	children := make([]*Thread, len(t.children))
	copy(children, t.children)
	return children
}

// Siblings returns the other children of the parent.
func (t *Thread) Siblings() []*Thread {
	parent := t.Parent()
	if parent == nil {
		return nil
	}
	var siblings []*Thread
	for _, c := range parent.Children() {
		if c != t {
			siblings = append(siblings, c)
		}
	}
	return siblings
}

// First returns the first sibling (possibly t itself).
func (t *Thread) First() *Thread {
	first := t
	for prev := first.Prev(); prev != nil; prev = first.Prev() {
		first = prev
	}
	return first
}

// Last returns the last sibling (possibly t itself).
func (t *Thread) Last() *Thread {
	last := t
	for next := last.Next(); next != nil; next = last.Next() {
		last = next
	}
	return last
}

// Toplevel ...
func (t *Thread) Toplevel() *Thread {
	top := t
	for parent := top.Parent(); parent != nil; parent = top.Parent() {
		top = parent
	}
	return top
}

// Find returns the first thread named name in the subtree, depth first.
func (t *Thread) Find(name string) *Thread {
	if t.name == name {
		return t
	}
	for _, c := range t.Children() {
		if found := c.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// AddChild appends c. The child joins at the parent's completed generation.
func (t *Thread) AddChild(c *Thread) {
	t.mu.Lock()
	var last *Thread
	if len(t.children) > 0 {
		last = t.children[len(t.children)-1]
	}
	t.children = append(t.children, c)
	tic := t.tic.Load()
	t.mu.Unlock()

	if last != nil {
		last.mu.Lock()
		last.next = c
		last.mu.Unlock()
	}
	c.mu.Lock()
	c.parent = t
	c.prev = last
	c.next = nil
	c.mu.Unlock()
	c.workMu.Lock()
	c.tic.Store(tic)
	c.started.Store(tic)
	c.workMu.Unlock()
	t.cond.Broadcast()
}

// RemoveChild detaches c. c must not have children of its own.
// Locks are taken parent first, then child.
func (t *Thread) RemoveChild(c *Thread) error {
	if c == t {
		return ErrNotChild
	}
	t.mu.Lock()
	c.mu.Lock()
	if len(c.children) > 0 {
		c.mu.Unlock()
		t.mu.Unlock()
		return ErrHasChildren
	}
	index := -1
	for i, child := range t.children {
		if child == c {
			index = i
			break
		}
	}
	if index < 0 {
		c.mu.Unlock()
		t.mu.Unlock()
		return ErrNotChild
	}
	t.children = append(t.children[:index], t.children[index+1:]...)
	prev, next := c.prev, c.next
	c.parent, c.prev, c.next = nil, nil, nil
	c.mu.Unlock()
	t.mu.Unlock()

	if prev != nil {
		prev.mu.Lock()
		prev.next = next
		prev.mu.Unlock()
	}
	if next != nil {
		next.mu.Lock()
		next.prev = prev
		next.mu.Unlock()
	}
	t.cond.Broadcast()
	for _, s := range t.Children() {
		s.cond.Broadcast()
	}
	return nil
}

// Detach stops the subtree below t and t itself, then removes t from its parent.
// Children are detached first.
func (t *Thread) Detach() error {
	for _, c := range t.Children() {
		if err := c.Detach(); err != nil {
			return err
		}
	}
	t.Stop()
	if parent := t.Parent(); parent != nil {
		return parent.RemoveChild(t)
	}
	return nil
}
