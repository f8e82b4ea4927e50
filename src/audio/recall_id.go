package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ----- Recall ID ----- //

// RecallID keys recall instances by (RecyclingContext, SoundScope). There is
// at most one per pair; use RecallIDFor to obtain it.
type RecallID struct {
	context *RecyclingContext
	scope   SoundScope

	mu        sync.Mutex
	instances []*Recall
	released  atomic.Bool
}

// RecallIDFor returns the RecallID of (ctx, scope), creating it on first use.
func RecallIDFor(ctx *RecyclingContext, scope SoundScope) *RecallID {
	ctx.mu.Lock()
	id, ok := ctx.recallIDs[scope]
	if !ok {
		id = &RecallID{context: ctx, scope: scope}
		ctx.recallIDs[scope] = id
	}
	ctx.mu.Unlock()
	if !ok && ctx.channel != nil {
		ctx.channel.addRecallID(id)
	}
	return id
}

// RecallID returns the RecallID of the context's own scope.
func (c *RecyclingContext) RecallID() *RecallID {
	return RecallIDFor(c, c.scope)
}

// LookupRecallID returns the RecallID of scope without creating it.
func (c *RecyclingContext) LookupRecallID(scope SoundScope) *RecallID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recallIDs[scope]
}

func (id *RecallID) String() string {
	name := "?"
	if id.context.channel != nil {
		name = id.context.channel.name
	}
	return fmt.Sprintf("recall-id(%s,%s)", name, id.scope)
}

// Context ...
func (id *RecallID) Context() *RecyclingContext {
	return id.context
}

// Scope ...
func (id *RecallID) Scope() SoundScope {
	return id.scope
}

// Released reports whether the id was torn down.
func (id *RecallID) Released() bool {
	return id.released.Load()
}

func (id *RecallID) addInstance(r *Recall) {
	id.mu.Lock()
	id.instances = append(id.instances, r)
	id.mu.Unlock()
}

func (id *RecallID) removeInstance(r *Recall) {
	id.mu.Lock()
	defer id.mu.Unlock()
	for i, instance := range id.instances {
		if instance == r {
			id.instances = append(id.instances[:i], id.instances[i+1:]...)
			return
		}
	}
}

// Instances returns the live instances bound to id.
func (id *RecallID) Instances() []*Recall {
	id.mu.Lock()
	defer id.mu.Unlock()
	instances := make([]*Recall, len(id.instances))
	copy(instances, id.instances)
	return instances
}

// Find returns the live instance named name.
func (id *RecallID) Find(name string) *Recall {
	for _, r := range id.Instances() {
		if r.Name() == name {
			return r
		}
	}
	return nil
}

// hasLiveProducers reports whether a producing recall is still alive in id or
// in the RecallIDs of the same scope below it.
func (id *RecallID) hasLiveProducers() bool {
	for _, r := range id.Instances() {
		if _, ok := r.behavior.(Producer); ok && !r.IsDone() {
			return true
		}
	}
	for _, child := range id.context.Children() {
		if childID := child.LookupRecallID(id.scope); childID != nil && childID.hasLiveProducers() {
			return true
		}
	}
	return false
}

// release detaches id from its context and channel.
func (id *RecallID) release() {
	if id.released.Swap(true) {
		return
	}
	ctx := id.context
	ctx.mu.Lock()
	if ctx.recallIDs[id.scope] == id {
		delete(ctx.recallIDs, id.scope)
	}
	ctx.mu.Unlock()
	if ctx.channel != nil {
		ctx.channel.removeRecallID(id)
	}
	for _, r := range ctx.Own() {
		r.RemoveRecallID(id)
	}
}

// IsDone reports whether every recall of recalls bound to ctx is done or removed.
func IsDone(recalls []*Recall, ctx *RecyclingContext) bool {
	for _, r := range recalls {
		id := r.RecallID()
		if id == nil || id.context != ctx {
			continue
		}
		if !r.IsDone() {
			return false
		}
	}
	return true
}
