package audio

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

type instanceKey struct {
	template *Recall
	id       *RecallID
}

// ----- Recall Container ----- //

// RecallContainer groups templates added together to a channel and owns the
// instances duplicated from them.
type RecallContainer struct {
	mu        sync.Mutex
	name      string
	channel   *Channel // non-owning
	templates []*Recall
	byKey     map[instanceKey]*Recall
	byID      map[*RecallID][]*Recall
	finalized atomic.Uint64
}

// NewRecallContainer ...
func NewRecallContainer(name string, templates ...*Recall) *RecallContainer {
	c := &RecallContainer{
		name:  name,
		byKey: make(map[instanceKey]*Recall),
		byID:  make(map[*RecallID][]*Recall),
	}
	for _, template := range templates {
		c.Add(template)
	}
	return c
}

// Name ...
func (c *RecallContainer) Name() string {
	return c.name
}

// Channel ...
func (c *RecallContainer) Channel() *Channel {
	return c.channel
}

// Add appends a template.
func (c *RecallContainer) Add(template *Recall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	template.container = c
	template.channel = c.channel
	c.templates = append(c.templates, template)
}

// Templates ...
func (c *RecallContainer) Templates() []*Recall {
	c.mu.Lock()
	defer c.mu.Unlock()
	templates := make([]*Recall, len(c.templates))
	copy(templates, c.templates)
	return templates
}

// Instance returns the live instance of template for id.
func (c *RecallContainer) Instance(template *Recall, id *RecallID) *Recall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byKey[instanceKey{template, id}]
}

// Instances returns the live instances bound to id.
func (c *RecallContainer) Instances(id *RecallID) []*Recall {
	c.mu.Lock()
	defer c.mu.Unlock()
	instances := make([]*Recall, len(c.byID[id]))
	copy(instances, c.byID[id])
	return instances
}

// Len is the number of live instances.
func (c *RecallContainer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

// Finalized is the number of instances whose last reference was released.
func (c *RecallContainer) Finalized() uint64 {
	return c.finalized.Load()
}

// Remove removes every instance bound to id.
func (c *RecallContainer) Remove(id *RecallID) int {
	instances := c.Instances(id)
	for _, r := range instances {
		r.Remove()
	}
	return len(instances)
}

func (c *RecallContainer) drop(r *Recall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := instanceKey{r.template, r.recallID}
	if c.byKey[key] == r {
		delete(c.byKey, key)
	}
	instances := c.byID[r.recallID]
	for i, instance := range instances {
		if instance == r {
			instances = append(instances[:i], instances[i+1:]...)
			break
		}
	}
	if len(instances) == 0 {
		delete(c.byID, r.recallID)
	} else {
		c.byID[r.recallID] = instances
	}
}

// ----- Duplicate ----- //

// Duplicate returns the instance of template for id, creating it on first
// use. The parent template is duplicated first, in the nearest context above
// id that belongs to the parent's channel, and the new instance is linked
// below it.
func Duplicate(template *Recall, id *RecallID) (*Recall, error) {
	if !template.IsTemplate() {
		return nil, ErrNotTemplate
	}
	if id == nil || id.Released() {
		return nil, ErrNoRecallID
	}
	if template.HasFlag(FlagBroken) {
		return nil, errors.Wrap(ErrBrokenChain, template.name)
	}
	c := template.container
	if c == nil {
		return nil, errors.Wrap(ErrNoContainer, template.name)
	}
	if r := c.Instance(template, id); r != nil {
		return r, nil
	}

	var parent *Recall
	if pt := template.parentTemplate; pt != nil {
		ctx := id.context.Ancestor(pt.channel)
		if ctx == nil {
			return nil, errors.Wrapf(ErrBrokenChain, "%s: no %s context above %v", template.name, pt.name, id)
		}
		var err error
		parent, err = Duplicate(pt, RecallIDFor(ctx, id.scope))
		if err != nil {
			return nil, errors.Wrapf(err, "parent of %s", template.name)
		}
	}

	c.mu.Lock()
	key := instanceKey{template, id}
	if r, ok := c.byKey[key]; ok {
		c.mu.Unlock()
		return r, nil
	}
	r := template.instantiate(id)
	c.byKey[key] = r
	c.byID[id] = append(c.byID[id], r)
	c.mu.Unlock()

	id.addInstance(r)
	if parent != nil {
		parent.addChild(r)
	}
	r.ResolveDependencies()
	return r, nil
}

func (t *Recall) instantiate(id *RecallID) *Recall {
	r := &Recall{
		name:           t.name,
		childType:      t.childType,
		scopes:         t.scopes,
		template:       t,
		container:      t.container,
		channel:        t.channel,
		recallID:       id,
		parentTemplate: t.parentTemplate,
		behavior:       t.behavior.Clone(),
		dependencies:   t.dependencies,
	}
	r.ports = make([]*Port, len(t.ports))
	for i, port := range t.ports {
		r.ports[i] = port.clone()
	}
	r.state.Store(int32(StateInitialRun))
	r.flags.Store(uint32(t.Flags() &^ (FlagBroken | FlagDone | FlagCancel | FlagRemove)))
	if len(r.dependencies) > 0 {
		r.setFlags(FlagInert)
	}
	r.refs.Store(1)
	t.Ref()
	return r
}

// orderInstances sorts instances so that dependencies come first, keeping the
// duplication order otherwise.
func orderInstances(instances []*Recall) []*Recall {
	index := make(map[string]int, len(instances))
	for i, r := range instances {
		if _, ok := index[r.name]; !ok {
			index[r.name] = i
		}
	}
	ordered := make([]*Recall, 0, len(instances))
	visited := make([]bool, len(instances))
	var visit func(i int, depth int)
	visit = func(i int, depth int) {
		if visited[i] || depth > len(instances) {
			return
		}
		visited[i] = true
		r := instances[i]
		deps := make([]int, 0, len(r.dependencies))
		for _, name := range r.dependencies {
			if j, ok := index[name]; ok {
				deps = append(deps, j)
			}
		}
		sort.Ints(deps)
		for _, j := range deps {
			visit(j, depth+1)
		}
		ordered = append(ordered, r)
	}
	for i := range instances {
		visit(i, 0)
	}
	return ordered
}
