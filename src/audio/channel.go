package audio

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrLinked is returned when routing a channel that already feeds another one.
var ErrLinked = errors.New("audio: channel already linked")

// ErrCycle is returned when a link would make the routing graph cyclic.
var ErrCycle = errors.New("audio: routing cycle")

// ----- Channel ----- //

// Channel is a node of the audio-routing graph. Inputs feed the channel;
// output channels mix into the master bus.
type Channel struct {
	mu         sync.Mutex
	name       string
	output     bool
	link       *Channel // downstream, non-owning
	inputs     []*Channel
	containers []*RecallContainer
	recyclings []*Recycling
	recallIDs  []*RecallID
	sample     []float64
	observers  *observers // set by the engine, non-owning
}

// NewChannel ...
func NewChannel(name string) *Channel {
	return &Channel{name: name}
}

// Name ...
func (c *Channel) Name() string {
	return c.name
}

func (c *Channel) String() string {
	return c.name
}

// SetOutput makes the channel mix into the master bus.
func (c *Channel) SetOutput(output bool) {
	c.mu.Lock()
	c.output = output
	c.mu.Unlock()
}

// IsOutput ...
func (c *Channel) IsOutput() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output
}

// Link returns the downstream channel.
func (c *Channel) Link() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

// AddInput routes in into c.
func (c *Channel) AddInput(in *Channel) error {
	if c.IsUpstreamOf(in) {
		return ErrCycle
	}
	in.mu.Lock()
	if in.link != nil {
		in.mu.Unlock()
		return ErrLinked
	}
	in.link = c
	in.mu.Unlock()
	c.mu.Lock()
	c.inputs = append(c.inputs, in)
	c.mu.Unlock()
	return nil
}

// RemoveInput ...
func (c *Channel) RemoveInput(in *Channel) {
	c.mu.Lock()
	for i, input := range c.inputs {
		if input == in {
			c.inputs = append(c.inputs[:i], c.inputs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	in.mu.Lock()
	if in.link == c {
		in.link = nil
	}
	in.mu.Unlock()
}

// Inputs ...
func (c *Channel) Inputs() []*Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	inputs := make([]*Channel, len(c.inputs))
	copy(inputs, c.inputs)
	return inputs
}

// IsUpstreamOf reports whether c feeds other, directly or not. A channel is
// upstream of itself.
func (c *Channel) IsUpstreamOf(other *Channel) bool {
	for ch := c; ch != nil; ch = ch.Link() {
		if ch == other {
			return true
		}
	}
	return false
}

// Upstream returns c and every channel feeding it, depth first.
func (c *Channel) Upstream() []*Channel {
	channels := []*Channel{c}
	for _, in := range c.Inputs() {
		channels = append(channels, in.Upstream()...)
	}
	return channels
}

// ----- Recall Containers ----- //

// AddContainer attaches a container of templates.
func (c *Channel) AddContainer(container *RecallContainer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	container.channel = c
	for _, template := range container.Templates() {
		template.channel = c
	}
	c.containers = append(c.containers, container)
}

// Containers ...
func (c *Channel) Containers() []*RecallContainer {
	c.mu.Lock()
	defer c.mu.Unlock()
	containers := make([]*RecallContainer, len(c.containers))
	copy(containers, c.containers)
	return containers
}

// Template returns the first template named name.
func (c *Channel) Template(name string) *Recall {
	for _, container := range c.Containers() {
		for _, template := range container.Templates() {
			if template.Name() == name {
				return template
			}
		}
	}
	return nil
}

// Templates returns the templates active in scope, in container order.
func (c *Channel) Templates(scope SoundScope) []*Recall {
	var templates []*Recall
	for _, container := range c.Containers() {
		for _, template := range container.Templates() {
			if template.Scopes().Has(scope) {
				templates = append(templates, template)
			}
		}
	}
	return templates
}

// ----- Recyclings ----- //

func (c *Channel) addRecycling(r *Recycling) {
	c.mu.Lock()
	c.recyclings = append(c.recyclings, r)
	c.mu.Unlock()
}

func (c *Channel) removeRecycling(r *Recycling) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, recycling := range c.recyclings {
		if recycling == r {
			c.recyclings = append(c.recyclings[:i], c.recyclings[i+1:]...)
			return
		}
	}
}

// Recyclings ...
func (c *Channel) Recyclings() []*Recycling {
	c.mu.Lock()
	defer c.mu.Unlock()
	recyclings := make([]*Recycling, len(c.recyclings))
	copy(recyclings, c.recyclings)
	return recyclings
}

// ----- Recall IDs ----- //

func (c *Channel) addRecallID(id *RecallID) {
	c.mu.Lock()
	c.recallIDs = append(c.recallIDs, id)
	c.mu.Unlock()
}

func (c *Channel) removeRecallID(id *RecallID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, recallID := range c.recallIDs {
		if recallID == id {
			c.recallIDs = append(c.recallIDs[:i], c.recallIDs[i+1:]...)
			return
		}
	}
}

// RecallIDs returns the live RecallIDs touching the channel.
func (c *Channel) RecallIDs() []*RecallID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]*RecallID, len(c.recallIDs))
	copy(ids, c.recallIDs)
	return ids
}

// ----- Sample ----- //

// SetSample sets the data played by WAVE scope samplers.
func (c *Channel) SetSample(data []float64) {
	c.mu.Lock()
	c.sample = data
	c.mu.Unlock()
}

// Sample ...
func (c *Channel) Sample() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sample
}
