package audio

import (
	"sync"
)

// ----- Registry ----- //

// Registry runs periodic housekeeping, such as peak resets, once every few
// buffers. It is owned by the engine and driven by the AudioLoop.
type Registry struct {
	mu      sync.Mutex
	every   int
	count   int
	entries map[*Recall]func()
}

// NewRegistry ...
func NewRegistry(every int) *Registry {
	if every < 1 {
		every = 1
	}
	return &Registry{
		every:   every,
		entries: make(map[*Recall]func()),
	}
}

// Add registers a reset function for r.
func (g *Registry) Add(r *Recall, reset func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[r] = reset
}

// Remove ...
func (g *Registry) Remove(r *Recall) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, r)
}

// Len ...
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Tick counts one buffer and runs the resets when the period elapsed.
func (g *Registry) Tick() bool {
	g.mu.Lock()
	g.count++
	if g.count < g.every {
		g.mu.Unlock()
		return false
	}
	g.count = 0
	resets := make([]func(), 0, len(g.entries))
	for _, reset := range g.entries {
		resets = append(resets, reset)
	}
	g.mu.Unlock()
	for _, reset := range resets {
		reset()
	}
	return true
}
