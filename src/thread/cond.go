package thread

import (
	"sync"
)

// Cond is a condition variable that can be selected on.
// Waiters take the channel before checking their predicate so a Broadcast
// between the check and the select is never lost.
type Cond struct {
	mu  sync.Mutex
	ch  chan struct{}
	one chan struct{}
}

// NewCond ...
func NewCond() *Cond {
	return &Cond{
		ch:  make(chan struct{}),
		one: make(chan struct{}, 1),
	}
}

// C returns a channel that is closed by the next Broadcast.
func (c *Cond) C() <-chan struct{} {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	return ch
}

// One returns the channel that receives a single token per Signal.
func (c *Cond) One() <-chan struct{} {
	return c.one
}

// Broadcast wakes every waiter.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	close(c.ch)
	c.ch = make(chan struct{})
	c.mu.Unlock()
}

// Signal wakes at most one waiter.
func (c *Cond) Signal() {
	select {
	case c.one <- struct{}{}:
	default:
	}
}
