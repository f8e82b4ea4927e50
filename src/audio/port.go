package audio

import (
	"sync"
	"sync/atomic"
)

// ----- Port ----- //

// Port is a control value of a recall. Template ports are set from the
// control surface; instance ports copy them and follow changes at the
// automate stage.
type Port struct {
	mu      sync.RWMutex
	name    string
	value   float64
	min     float64
	max     float64
	version atomic.Uint64
	source  *Port // template port, non-owning
	seen    uint64
}

// NewPort ...
func NewPort(name string, value, min, max float64) *Port {
	p := &Port{name: name, min: min, max: max}
	p.value = p.clamp(value)
	return p
}

// Name ...
func (p *Port) Name() string {
	return p.name
}

func (p *Port) clamp(value float64) float64 {
	if p.min < p.max {
		if value < p.min {
			return p.min
		}
		if value > p.max {
			return p.max
		}
	}
	return value
}

// Get ...
func (p *Port) Get() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// Set clamps value to the port range.
func (p *Port) Set(value float64) {
	p.mu.Lock()
	p.value = p.clamp(value)
	p.mu.Unlock()
	p.version.Add(1)
}

// Range ...
func (p *Port) Range() (float64, float64) {
	return p.min, p.max
}

func (p *Port) clone() *Port {
	c := &Port{
		name:   p.name,
		value:  p.Get(),
		min:    p.min,
		max:    p.max,
		source: p,
		seen:   p.version.Load(),
	}
	return c
}

// sync copies the template value when it changed since the last sync.
func (p *Port) sync() bool {
	if p.source == nil {
		return false
	}
	v := p.source.version.Load()
	if v == p.seen {
		return false
	}
	value := p.source.Get()
	p.mu.Lock()
	p.value = value
	p.mu.Unlock()
	p.seen = v
	return true
}
