package audio

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

var (
	// ErrChildTypeMismatch is a configuration error: the parent template does
	// not declare the recall as its child type.
	ErrChildTypeMismatch = errors.New("audio: child type mismatch")
	// ErrBrokenChain is returned when duplicating a template whose chain was
	// rejected at setup.
	ErrBrokenChain = errors.New("audio: broken recall chain")
	// ErrNoRecallID is returned when duplicating without a live RecallID.
	ErrNoRecallID = errors.New("audio: no recall id")
	// ErrNotTemplate is returned when duplicating an instance.
	ErrNotTemplate = errors.New("audio: not a template")
	// ErrNoContainer is returned when duplicating a template outside a container.
	ErrNoContainer = errors.New("audio: template without container")
)

// ----- State ----- //

// State is the lifecycle position of a recall.
type State int32

const (
	StateTemplate State = iota
	StateInitialRun
	StateRunning
	StateTerminating
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateTemplate:
		return "template"
	case StateInitialRun:
		return "initial-run"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateRemoved:
		return "removed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ----- Flags ----- //

// RecallFlags ...
type RecallFlags uint32

const (
	// FlagPersistent skips the automatic done-on-empty transition.
	FlagPersistent RecallFlags = 1 << iota
	// FlagPropagateDone makes a recall done once its last child is removed.
	FlagPropagateDone
	FlagDone
	FlagCancel
	FlagRemove
	// FlagInert marks a recall waiting for its dependencies.
	FlagInert
	// FlagBroken marks a template rejected at setup.
	FlagBroken
)

// flags a child takes from its parent instance
const inheritedFlags = FlagPersistent

// ----- Recall ----- //

// Recall is a unit of processing attached to a channel. Templates are shared
// configuration; instances are duplicated from a template per RecallID and
// owned by the template's container.
type Recall struct {
	name           string
	childType      string
	scopes         ScopeMask
	template       *Recall
	container      *RecallContainer
	channel        *Channel
	recallID       *RecallID
	parentTemplate *Recall
	behavior       Behavior
	ports          []*Port
	dependencies   []string

	state      atomic.Int32
	flags      atomic.Uint32
	refs       atomic.Int32
	completed  atomic.Uint64
	dependents atomic.Int32

	mu       sync.Mutex
	parent   *Recall // non-owning
	children []*Recall
	resolved map[string]*Recall

	brokenOnce sync.Once
}

// NewTemplate ...
func NewTemplate(name string, behavior Behavior, scopes ScopeMask, flags RecallFlags, ports ...*Port) *Recall {
	r := &Recall{
		name:     name,
		scopes:   scopes,
		behavior: behavior,
		ports:    ports,
	}
	r.state.Store(int32(StateTemplate))
	r.flags.Store(uint32(flags))
	r.refs.Store(1)
	return r
}

func (r *Recall) String() string {
	if r.recallID == nil {
		return fmt.Sprintf("%s(template)", r.name)
	}
	return fmt.Sprintf("%s(%v,%v)", r.name, r.recallID, r.State())
}

// Name ...
func (r *Recall) Name() string {
	return r.name
}

// ChildType is the name of recalls that may be linked below instances of r.
func (r *Recall) ChildType() string {
	return r.childType
}

// SetChildType ...
func (r *Recall) SetChildType(childType string) {
	r.childType = childType
}

// Scopes ...
func (r *Recall) Scopes() ScopeMask {
	return r.scopes
}

// Template returns the template of an instance, nil for templates.
func (r *Recall) Template() *Recall {
	return r.template
}

// Channel ...
func (r *Recall) Channel() *Channel {
	return r.channel
}

// Container ...
func (r *Recall) Container() *RecallContainer {
	return r.container
}

// RecallID ...
func (r *Recall) RecallID() *RecallID {
	return r.recallID
}

// Behavior ...
func (r *Recall) Behavior() Behavior {
	return r.behavior
}

// IsTemplate ...
func (r *Recall) IsTemplate() bool {
	return r.template == nil
}

// State ...
func (r *Recall) State() State {
	return State(r.state.Load())
}

// Flags ...
func (r *Recall) Flags() RecallFlags {
	return RecallFlags(r.flags.Load())
}

// HasFlag ...
func (r *Recall) HasFlag(flag RecallFlags) bool {
	return r.Flags()&flag != 0
}

// SetFlags ...
func (r *Recall) SetFlags(flags RecallFlags) {
	r.setFlags(flags)
}

// setFlags returns false when every flag was already set.
func (r *Recall) setFlags(flags RecallFlags) bool {
	for {
		old := r.flags.Load()
		if old&uint32(flags) == uint32(flags) {
			return false
		}
		if r.flags.CompareAndSwap(old, old|uint32(flags)) {
			return true
		}
	}
}

func (r *Recall) unsetFlags(flags RecallFlags) {
	for {
		old := r.flags.Load()
		if r.flags.CompareAndSwap(old, old&^uint32(flags)) {
			return
		}
	}
}

// IsDone reports whether the recall finished or was removed.
func (r *Recall) IsDone() bool {
	return r.HasFlag(FlagDone) || r.State() >= StateTerminating
}

// Completed is the number of buffers the recall processed.
func (r *Recall) Completed() uint64 {
	return r.completed.Load()
}

// Dependents is the number of recalls that resolved r as a dependency.
func (r *Recall) Dependents() int {
	return int(r.dependents.Load())
}

// ----- Ports ----- //

// Port returns the port named name.
func (r *Recall) Port(name string) *Port {
	for _, p := range r.ports {
		if p.name == name {
			return p
		}
	}
	return nil
}

// Ports ...
func (r *Recall) Ports() []*Port {
	return r.ports
}

// value reads a port, falling back to def.
func (r *Recall) value(name string, def float64) float64 {
	if p := r.Port(name); p != nil {
		return p.Get()
	}
	return def
}

// ----- Tree ----- //

// Parent ...
func (r *Recall) Parent() *Recall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.parent
}

// Children ...
func (r *Recall) Children() []*Recall {
	r.mu.Lock()
	defer r.mu.Unlock()
	children := make([]*Recall, len(r.children))
	copy(children, r.children)
	return children
}

// ParentTemplate ...
func (r *Recall) ParentTemplate() *Recall {
	return r.parentTemplate
}

// SetParentTemplate links r below parent. The parent must declare r's name
// as its child type; a mismatch breaks the chain for good and is logged once.
func (r *Recall) SetParentTemplate(parent *Recall) error {
	if parent.childType != r.name {
		r.setFlags(FlagBroken)
		r.brokenOnce.Do(func() {
			log.Printf("recall chain broken: %s cannot be a child of %s (child type %q)\n", r.name, parent.name, parent.childType)
		})
		return errors.Wrapf(ErrChildTypeMismatch, "%s below %s", r.name, parent.name)
	}
	r.parentTemplate = parent
	return nil
}

func (r *Recall) addChild(child *Recall) {
	r.mu.Lock()
	r.children = append(r.children, child)
	r.mu.Unlock()
	child.mu.Lock()
	child.parent = r
	child.mu.Unlock()
	if inherited := r.Flags() & inheritedFlags; inherited != 0 {
		child.setFlags(inherited)
	}
}

// removeChild returns the number of children left.
func (r *Recall) removeChild(child *Recall) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.children {
		if c == child {
			r.children = append(r.children[:i], r.children[i+1:]...)
			break
		}
	}
	return len(r.children)
}

// ----- Dependencies ----- //

// DependsOn declares sibling recalls, by name, that must run before r in the
// same RecallID.
func (r *Recall) DependsOn(names ...string) {
	r.dependencies = append(r.dependencies, names...)
}

// Dependencies ...
func (r *Recall) Dependencies() []string {
	return r.dependencies
}

// Dependency returns the resolved sibling named name.
func (r *Recall) Dependency(name string) *Recall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved[name]
}

// ResolveDependencies wires the declared siblings. An unresolved dependency
// leaves the recall inert until a later pass resolves it.
func (r *Recall) ResolveDependencies() bool {
	if r.recallID == nil || len(r.dependencies) == 0 {
		return true
	}
	ok := true
	for _, name := range r.dependencies {
		r.mu.Lock()
		_, done := r.resolved[name]
		r.mu.Unlock()
		if done {
			continue
		}
		sibling := r.recallID.Find(name)
		if sibling == nil || sibling == r {
			ok = false
			continue
		}
		r.mu.Lock()
		if r.resolved == nil {
			r.resolved = make(map[string]*Recall)
		}
		r.resolved[name] = sibling
		r.mu.Unlock()
		sibling.NotifyDependency(1)
	}
	if ok {
		r.unsetFlags(FlagInert)
	} else {
		r.setFlags(FlagInert)
	}
	return ok
}

// NotifyDependency adjusts the count of recalls depending on r.
func (r *Recall) NotifyDependency(delta int) {
	r.dependents.Add(int32(delta))
}

func (r *Recall) releaseDependencies() {
	r.mu.Lock()
	resolved := r.resolved
	r.resolved = nil
	r.mu.Unlock()
	for _, dep := range resolved {
		dep.NotifyDependency(-1)
	}
}

// ----- Lifecycle ----- //

// Ref ...
func (r *Recall) Ref() {
	r.refs.Add(1)
}

// Unref finalizes the recall when the last reference is released.
func (r *Recall) Unref() {
	if r.refs.Add(-1) != 0 {
		return
	}
	if f, ok := r.behavior.(Finalizer); ok {
		f.Finalize(r)
	}
	if r.container != nil && r.template != nil {
		r.container.finalized.Add(1)
	}
	if r.template != nil {
		r.template.Unref()
	}
}

// Refs ...
func (r *Recall) Refs() int {
	return int(r.refs.Load())
}

// Done marks the recall terminating. Removal follows at the fini stage.
func (r *Recall) Done() {
	if r.IsTemplate() {
		return
	}
	if !r.setFlags(FlagDone) {
		return
	}
	for {
		old := r.state.Load()
		if old >= int32(StateTerminating) {
			break
		}
		if r.state.CompareAndSwap(old, int32(StateTerminating)) {
			break
		}
	}
	r.notify(Notification{Kind: NotifyRecallDone, Recall: r.name})
}

// Cancel requests termination of r and its children. It is honored at the
// next buffer boundary, never in the middle of a buffer.
func (r *Recall) Cancel() {
	if r.IsTemplate() {
		return
	}
	r.setFlags(FlagCancel)
	for _, child := range r.Children() {
		child.Cancel()
	}
}

// StopPersistent clears the persistent flag of r and its children and ends them.
func (r *Recall) StopPersistent() {
	r.unsetFlags(FlagPersistent)
	for _, child := range r.Children() {
		child.StopPersistent()
	}
	r.Done()
}

func (r *Recall) handleCancel() {
	if r.HasFlag(FlagPersistent) {
		r.StopPersistent()
		return
	}
	r.Done()
}

// Remove detaches r from its parent and container, children first. A parent
// with FlagPropagateDone becomes done once its last child is gone.
func (r *Recall) Remove() {
	if r.IsTemplate() {
		return
	}
	for {
		old := r.state.Load()
		if old == int32(StateRemoved) {
			return
		}
		if r.state.CompareAndSwap(old, int32(StateRemoved)) {
			break
		}
	}
	r.setFlags(FlagRemove | FlagDone)
	for _, child := range r.Children() {
		child.Remove()
	}
	r.mu.Lock()
	parent := r.parent
	r.parent = nil
	r.mu.Unlock()
	if parent != nil {
		left := parent.removeChild(r)
		if left == 0 && parent.HasFlag(FlagPropagateDone) && !parent.HasFlag(FlagPersistent) {
			parent.Done()
		}
	}
	r.releaseDependencies()
	r.recallID.removeInstance(r)
	r.container.drop(r)
	r.Unref()
}

func (r *Recall) notify(n Notification) {
	if r.channel == nil || r.channel.observers == nil {
		return
	}
	n.Channel = r.channel.name
	r.channel.observers.notify(n)
}

// ----- Stages ----- //

// run executes one stage on an instance.
func (r *Recall) run(p *Pass) {
	state := r.State()
	if state == StateRemoved || state == StateTemplate {
		return
	}
	switch p.Stage {
	case StageCheckRTData:
		if r.HasFlag(FlagInert) {
			r.ResolveDependencies()
		}
	case StageRunInitPre, StageRunInitInter, StageRunInitPost:
		if state != StateInitialRun || r.HasFlag(FlagInert) {
			return
		}
		if init, ok := r.behavior.(Initializer); ok {
			init.RunInit(r, p)
		}
		if p.Stage == StageRunInitPost {
			r.state.CompareAndSwap(int32(StateInitialRun), int32(StateRunning))
		}
	case StageFeedInputQueue:
		if state != StateRunning {
			return
		}
		if feeder, ok := r.behavior.(InputFeeder); ok {
			feeder.FeedInput(r, p, p.events())
		}
	case StageAutomate:
		for _, port := range r.ports {
			port.sync()
		}
		if automator, ok := r.behavior.(Automator); ok && state == StateRunning {
			automator.Automate(r, p)
		}
	case StageRunPre, StageRunInter, StageRunPost:
		if p.Stage == StageRunPre && r.HasFlag(FlagCancel) && !r.IsDone() {
			r.handleCancel()
		}
		if r.State() != StateRunning || r.HasFlag(FlagInert) {
			return
		}
		if runner, ok := r.behavior.(Runner); ok {
			runner.Run(r, p)
		}
		if p.Stage == StageRunPost {
			r.completed.Add(1)
		}
	case StageDoFeedback:
		if feedbacker, ok := r.behavior.(Feedbacker); ok && state == StateRunning {
			feedbacker.Feedback(r, p)
		}
	case StageFeedOutputQueue:
		if feeder, ok := r.behavior.(OutputFeeder); ok && state == StateRunning {
			feeder.FeedOutput(r, p)
		}
	case StageFini:
		if !r.IsDone() && !r.HasFlag(FlagPersistent) {
			if finisher, ok := r.behavior.(Finisher); ok && finisher.Empty(r, p) {
				r.Done()
			}
		}
		if r.IsDone() {
			r.Remove()
		}
	}
}
