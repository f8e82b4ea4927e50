package audio

import (
	"encoding/json"
	"io"
	"log"

	"github.com/pkg/errors"
)

// ----- Tree ----- //

type templateJSON struct {
	Name      string             `json:"name"`
	Container string             `json:"container"`
	Scopes    []string           `json:"scopes"`
	Ports     map[string]float64 `json:"ports"`
}

type channelJSON struct {
	Name      string         `json:"name"`
	Output    bool           `json:"output"`
	Link      string         `json:"link,omitempty"`
	Templates []templateJSON `json:"templates"`
}

type instrumentJSON struct {
	Name   string `json:"name"`
	Layers int    `json:"layers"`
}

type playbackJSON struct {
	Channel string `json:"channel"`
	Scope   string `json:"scope"`
	Key     int    `json:"key"`
	Frame   uint64 `json:"frame"`
}

type treeJSON struct {
	BPM         float64           `json:"bpm"`
	Numerator   int               `json:"numerator"`
	Denominator int               `json:"denominator"`
	Patterns    map[string]string `json:"patterns,omitempty"`
	Instruments []instrumentJSON  `json:"instruments"`
	Channels    []channelJSON     `json:"channels"`
	Playbacks   []playbackJSON    `json:"playbacks,omitempty"`
}

func templateToJSON(template *Recall) templateJSON {
	j := templateJSON{
		Name:  template.name,
		Ports: make(map[string]float64),
	}
	if template.container != nil {
		j.Container = template.container.name
	}
	for s := SoundScope(0); s < scopeCount; s++ {
		if template.scopes.Has(s) {
			j.Scopes = append(j.Scopes, s.String())
		}
	}
	for _, port := range template.ports {
		j.Ports[port.name] = port.Get()
	}
	return j
}

func (c *Channel) toJSON() channelJSON {
	j := channelJSON{
		Name:   c.name,
		Output: c.IsOutput(),
	}
	if link := c.Link(); link != nil {
		j.Link = link.name
	}
	for _, container := range c.Containers() {
		for _, template := range container.Templates() {
			j.Templates = append(j.Templates, templateToJSON(template))
		}
	}
	return j
}

// applyJSON sets the template ports found in j. Unknown templates and ports
// are logged and skipped.
func (c *Channel) applyJSON(j channelJSON) {
	for _, tj := range j.Templates {
		template := c.Template(tj.Name)
		if template == nil {
			log.Printf("unknown template %s on %s\n", tj.Name, c.name)
			continue
		}
		for name, value := range tj.Ports {
			port := template.Port(name)
			if port == nil {
				log.Printf("unknown port %s.%s on %s\n", tj.Name, name, c.name)
				continue
			}
			port.Set(value)
		}
	}
}

func (a *Audio) treeToJSON() *treeJSON {
	snapshot := a.timer.Snapshot()
	t := &treeJSON{
		BPM:         snapshot.BPM,
		Numerator:   snapshot.Numerator,
		Denominator: snapshot.Denominator,
		Patterns:    a.patterns(),
	}
	for _, name := range a.instrumentNames() {
		inst := a.instrument(name)
		t.Instruments = append(t.Instruments, instrumentJSON{Name: name, Layers: len(inst.Layers)})
	}
	for _, ch := range a.Channels() {
		t.Channels = append(t.Channels, ch.toJSON())
	}
	for _, pb := range a.loop.Playbacks() {
		t.Playbacks = append(t.Playbacks, playbackJSON{
			Channel: pb.channel.name,
			Scope:   pb.scope.String(),
			Key:     pb.key,
			Frame:   pb.frame,
		})
	}
	return t
}

// WriteTree writes the templates and the live topology as JSON.
func (a *Audio) WriteTree(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(a.treeToJSON()), "failed to write tree")
}

// ReadTree restores tempo, instruments and template ports written by
// WriteTree. Live playbacks are not restored.
func (a *Audio) ReadTree(r io.Reader) error {
	var t treeJSON
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return errors.Wrap(err, "failed to read tree")
	}
	return a.applyTree(&t)
}

func (a *Audio) applyTree(t *treeJSON) error {
	if t.BPM > 0 {
		if err := a.SetBPM(t.BPM); err != nil {
			return err
		}
	}
	if t.Numerator > 0 && t.Denominator > 0 {
		if err := a.timer.SetSignature(t.Numerator, t.Denominator); err != nil {
			return err
		}
	}
	for name, pattern := range t.Patterns {
		a.SetPattern(name, pattern)
	}
	for _, ij := range t.Instruments {
		if a.instrument(ij.Name) != nil {
			continue
		}
		if _, err := a.AddInstrument(ij.Name, ij.Layers); err != nil {
			return err
		}
	}
	for _, cj := range t.Channels {
		ch := a.Channel(cj.Name)
		if ch == nil {
			log.Printf("unknown channel %s\n", cj.Name)
			continue
		}
		ch.applyJSON(cj)
	}
	a.Changes.Add("data")
	return nil
}
