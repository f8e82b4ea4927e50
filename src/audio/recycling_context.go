package audio

import (
	"sync"
)

// ----- Recycling Context ----- //

// RecyclingContext groups the recyclings of one voice on one channel. Its
// children follow the inputs of the channel, so a context spans exactly the
// recyclings of its routing subtree for that voice.
type RecyclingContext struct {
	mu         sync.Mutex
	parent     *RecyclingContext // non-owning
	children   []*RecyclingContext
	channel    *Channel
	scope      SoundScope
	recyclings []*Recycling
	recallIDs  map[SoundScope]*RecallID
}

// NewRecyclingContext ...
func NewRecyclingContext(channel *Channel, scope SoundScope, recyclings ...*Recycling) *RecyclingContext {
	return &RecyclingContext{
		channel:    channel,
		scope:      scope,
		recyclings: recyclings,
		recallIDs:  make(map[SoundScope]*RecallID),
	}
}

// Channel ...
func (c *RecyclingContext) Channel() *Channel {
	return c.channel
}

// Scope ...
func (c *RecyclingContext) Scope() SoundScope {
	return c.scope
}

// Parent ...
func (c *RecyclingContext) Parent() *RecyclingContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parent
}

// Children ...
func (c *RecyclingContext) Children() []*RecyclingContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	children := make([]*RecyclingContext, len(c.children))
	copy(children, c.children)
	return children
}

// Toplevel ...
func (c *RecyclingContext) Toplevel() *RecyclingContext {
	top := c
	for parent := top.Parent(); parent != nil; parent = top.Parent() {
		top = parent
	}
	return top
}

// Own returns the recyclings held by this node only.
func (c *RecyclingContext) Own() []*Recycling {
	c.mu.Lock()
	defer c.mu.Unlock()
	recyclings := make([]*Recycling, len(c.recyclings))
	copy(recyclings, c.recyclings)
	return recyclings
}

// Recyclings returns the flat list the context spans: its own recyclings
// followed by those of its children, depth first.
func (c *RecyclingContext) Recyclings() []*Recycling {
	recyclings := c.Own()
	for _, child := range c.Children() {
		recyclings = append(recyclings, child.Recyclings()...)
	}
	return recyclings
}

// Add appends r to the node.
func (c *RecyclingContext) Add(r *Recycling) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recyclings = append(c.recyclings, r)
}

// Remove drops r from the node.
func (c *RecyclingContext) Remove(r *Recycling) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, recycling := range c.recyclings {
		if recycling == r {
			c.recyclings = append(c.recyclings[:i], c.recyclings[i+1:]...)
			return true
		}
	}
	return false
}

// Insert puts r at position of the node, clamped to the list.
func (c *RecyclingContext) Insert(r *Recycling, position int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if position < 0 || position > len(c.recyclings) {
		position = len(c.recyclings)
	}
	c.recyclings = append(c.recyclings, nil)
	copy(c.recyclings[position+1:], c.recyclings[position:])
	c.recyclings[position] = r
}

// Replace sets r at position, growing the list if needed.
func (c *RecyclingContext) Replace(r *Recycling, position int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if position < 0 {
		return
	}
	for len(c.recyclings) <= position {
		c.recyclings = append(c.recyclings, nil)
	}
	c.recyclings[position] = r
}

// Find returns the index of r in the flat list, or -1.
func (c *RecyclingContext) Find(r *Recycling) int {
	for i, recycling := range c.Recyclings() {
		if recycling == r {
			return i
		}
	}
	return -1
}

// FindChild returns the child context whose span holds r.
func (c *RecyclingContext) FindChild(r *Recycling) *RecyclingContext {
	for _, child := range c.Children() {
		if child.Find(r) >= 0 {
			return child
		}
	}
	return nil
}

// FindParent returns the nearest ancestor holding r itself.
func (c *RecyclingContext) FindParent(r *Recycling) *RecyclingContext {
	for parent := c.Parent(); parent != nil; parent = parent.Parent() {
		for _, recycling := range parent.Own() {
			if recycling == r {
				return parent
			}
		}
	}
	return nil
}

// FindChannel returns the context of channel in the subtree.
func (c *RecyclingContext) FindChannel(channel *Channel) *RecyclingContext {
	if c.channel == channel {
		return c
	}
	for _, child := range c.Children() {
		if found := child.FindChannel(channel); found != nil {
			return found
		}
	}
	return nil
}

// Ancestor returns the nearest context, c included, bound to channel.
func (c *RecyclingContext) Ancestor(channel *Channel) *RecyclingContext {
	for ctx := c; ctx != nil; ctx = ctx.Parent() {
		if ctx.channel == channel {
			return ctx
		}
	}
	return nil
}

// AddChild ...
func (c *RecyclingContext) AddChild(child *RecyclingContext) {
	child.mu.Lock()
	child.parent = c
	child.mu.Unlock()
	c.mu.Lock()
	c.children = append(c.children, child)
	c.mu.Unlock()
}

// RemoveChild ...
func (c *RecyclingContext) RemoveChild(child *RecyclingContext) bool {
	c.mu.Lock()
	found := false
	for i, ctx := range c.children {
		if ctx == child {
			c.children = append(c.children[:i], c.children[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if found {
		child.mu.Lock()
		child.parent = nil
		child.mu.Unlock()
	}
	return found
}

// ResetRecycling replaces old by r in the whole subtree and returns how many
// slots changed.
func (c *RecyclingContext) ResetRecycling(old, r *Recycling) int {
	count := 0
	c.mu.Lock()
	for i, recycling := range c.recyclings {
		if recycling == old {
			c.recyclings[i] = r
			count++
		}
	}
	c.mu.Unlock()
	for _, child := range c.Children() {
		count += child.ResetRecycling(old, r)
	}
	return count
}

// IsEmpty reports whether the node holds nothing and has no children.
func (c *RecyclingContext) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recyclings) == 0 && len(c.children) == 0
}

// Walk visits the subtree children first.
func (c *RecyclingContext) Walk(fn func(*RecyclingContext)) {
	for _, child := range c.Children() {
		child.Walk(fn)
	}
	fn(c)
}

// ----- Scope Lookup ----- //

// FindScope returns the first id of scope in ids.
func FindScope(ids []*RecallID, scope SoundScope) *RecallID {
	for _, id := range ids {
		if id.Scope() == scope {
			return id
		}
	}
	return nil
}
