package audio

import (
	"math"
)

var effectScopes = ScopePlayback.Mask() | ScopeNotation.Mask() | ScopeWave.Mask()

// ----- Filter ----- //

type filterBehavior struct {
	filter filter
}

func newFilterTemplate() *Recall {
	return NewTemplate("filter", &filterBehavior{}, effectScopes, 0,
		NewPort("kind", float64(filterNone), 0, float64(filterKindCount-1)),
		NewPort("freq", 2000, 20, 20000),
		NewPort("q", 1/math.Sqrt2, 0.1, 20),
		NewPort("gain", 0, -24, 24),
	)
}

func (b *filterBehavior) Clone() Behavior {
	return &filterBehavior{}
}

func (b *filterBehavior) configure(r *Recall, sampleRate int) {
	b.filter.configure(filterKind(r.value("kind", 0)), r.value("freq", 2000), r.value("q", 1/math.Sqrt2), r.value("gain", 0), sampleRate)
}

func (b *filterBehavior) RunInit(r *Recall, p *Pass) {
	if p.Stage == StageRunInitPre {
		b.configure(r, p.SampleRate)
	}
}

func (b *filterBehavior) Automate(r *Recall, p *Pass) {
	b.configure(r, p.SampleRate)
}

func (b *filterBehavior) Run(r *Recall, p *Pass) {
	if p.Stage != StageRunInter || b.filter.kind == filterNone {
		return
	}
	if sig := p.Signal(); sig != nil {
		b.filter.process(sig.Buffer)
	}
}

func (b *filterBehavior) Empty(r *Recall, p *Pass) bool {
	return processorEmpty(r)
}

// filterShape returns the magnitude response of the filter configured by the
// ports of template.
func filterShape(template *Recall, sampleRate int, fft *FFT) []float64 {
	f := &filter{}
	f.configure(filterKind(template.value("kind", 0)), template.value("freq", 2000), template.value("q", 1/math.Sqrt2), template.value("gain", 0), sampleRate)
	return frequencyResponse(f.a, f.b, fft)
}

// ----- Echo ----- //

type echoBehavior struct {
	echo echo
}

func newEchoTemplate() *Recall {
	return NewTemplate("echo", &echoBehavior{}, effectScopes, 0,
		NewPort("delay", 250, 10, 2000),
		NewPort("feedback", 0.3, 0, 0.95),
		NewPort("mix", 0, 0, 1),
	)
}

func (b *echoBehavior) Clone() Behavior {
	return &echoBehavior{}
}

func (b *echoBehavior) RunInit(r *Recall, p *Pass) {
	if p.Stage == StageRunInitPre {
		b.Automate(r, p)
	}
}

func (b *echoBehavior) Automate(r *Recall, p *Pass) {
	b.echo.applyParams(r.value("delay", 250), r.value("feedback", 0.3), r.value("mix", 0), p.SampleRate)
}

func (b *echoBehavior) Run(r *Recall, p *Pass) {
	if p.Stage != StageRunInter {
		return
	}
	sig := p.Signal()
	if sig == nil {
		return
	}
	b.echo.process(sig.Buffer)
}

func (b *echoBehavior) Empty(r *Recall, p *Pass) bool {
	return processorEmpty(r)
}

// ----- Peak ----- //

// peakBehavior holds the highest absolute sample since the last reset by the
// housekeeping registry in its "peak" port.
type peakBehavior struct {
	registry *Registry
}

func newPeakTemplate(registry *Registry) *Recall {
	return NewTemplate("peak", &peakBehavior{registry: registry}, effectScopes, 0,
		NewPort("peak", 0, 0, 0),
	)
}

func (b *peakBehavior) Clone() Behavior {
	return &peakBehavior{registry: b.registry}
}

func (b *peakBehavior) RunInit(r *Recall, p *Pass) {
	if p.Stage != StageRunInitPre || b.registry == nil {
		return
	}
	port := r.Port("peak")
	template := r.Template()
	b.registry.Add(r, func() {
		port.Set(0)
		if template != nil {
			template.Port("peak").Set(0)
		}
	})
}

func (b *peakBehavior) Feedback(r *Recall, p *Pass) {
	sig := p.Signal()
	if sig == nil {
		return
	}
	port := r.Port("peak")
	if peak := sig.Peak(); peak > port.Get() {
		port.Set(peak)
		if template := r.Template(); template != nil {
			if tp := template.Port("peak"); peak > tp.Get() {
				tp.Set(peak)
			}
		}
	}
}

func (b *peakBehavior) Empty(r *Recall, p *Pass) bool {
	return processorEmpty(r)
}

func (b *peakBehavior) Finalize(r *Recall) {
	if b.registry != nil {
		b.registry.Remove(r)
	}
}
