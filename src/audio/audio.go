package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

const fftSize = 2048

// ErrUnknownChannel is returned when a name resolves to no channel.
var ErrUnknownChannel = errors.New("audio: unknown channel")

// ErrUnknownPort is returned when a recall or port name resolves to nothing.
var ErrUnknownPort = errors.New("audio: unknown port")

// ----- Changes ----- //

// Changes is the set of report topics that need to be resent.
type Changes struct {
	sync.Mutex
	dict map[string]struct{}
}

// Add ...
func (c *Changes) Add(key string) {
	c.Lock()
	c.dict[key] = struct{}{}
	c.Unlock()
}

// Has ...
func (c *Changes) Has(key string) bool {
	c.Lock()
	_, ok := c.dict[key]
	c.Unlock()
	return ok
}

// Delete ...
func (c *Changes) Delete(key string) {
	c.Lock()
	delete(c.dict, key)
	c.Unlock()
}

// ----- Audio ----- //

// Audio is the engine: it owns the channels, the timer and the AudioLoop, and
// feeds the soundcard.
type Audio struct {
	ctx        context.Context
	config     *Config
	soundcard  Soundcard
	CommandCh  chan []string
	Changes    *Changes
	timer      *Timer
	loop       *AudioLoop
	registry   *Registry
	observers  *observers
	wavetables *Wavetables
	presets    *presetManager

	mu          sync.Mutex
	channels    map[string]*Channel
	order       []string
	instruments map[string]*Instrument
	midiTarget  string

	outMu     sync.Mutex
	fifo      []byte
	chunk     []byte
	spectrum  *spectrum
}

var _ io.Reader = (*Audio)(nil)

// NewAudio ...
func NewAudio(cfg *Config, soundcard Soundcard) (*Audio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timer, err := NewTimerFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	wavetables, err := LoadWavetables(cfg.WavetableDir)
	if err != nil {
		log.Printf("wavetables unavailable, using naive waveforms: %v\n", err)
		wavetables = nil
	}
	if err := soundcard.Open(cfg); err != nil {
		return nil, err
	}
	registry := NewRegistry(cfg.PeakResetEvery)
	a := &Audio{
		ctx:       context.Background(),
		config:    cfg,
		soundcard: soundcard,
		CommandCh: make(chan []string, 256),
		Changes: &Changes{
			dict: make(map[string]struct{}),
		},
		timer:       timer,
		loop:        NewAudioLoop(cfg, timer, registry),
		registry:    registry,
		observers:   newObservers(),
		wavetables:  wavetables,
		presets:     newPresetManager(cfg.PresetDir),
		channels:    make(map[string]*Channel),
		instruments: make(map[string]*Instrument),
		spectrum:    newSpectrum(fftSize, cfg.FFTWindow),
	}
	a.loop.observers = a.observers
	a.loop.dispatch = a.dispatch
	go processCommands(a, a.CommandCh)
	return a, nil
}

// Config ...
func (a *Audio) Config() *Config {
	return a.config
}

// Timer ...
func (a *Audio) Timer() *Timer {
	return a.timer
}

// Loop ...
func (a *Audio) Loop() *AudioLoop {
	return a.loop
}

// Subscribe registers an observer and returns a function that removes it.
func (a *Audio) Subscribe(o Observer) func() {
	return a.observers.add(o)
}

// ----- Channels ----- //

// AddChannel registers ch under its name.
func (a *Audio) AddChannel(ch *Channel) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.channels[ch.name]; ok {
		return errors.Errorf("channel %s already exists", ch.name)
	}
	ch.observers = a.observers
	a.channels[ch.name] = ch
	a.order = append(a.order, ch.name)
	return nil
}

// Channel returns the channel named name or nil.
func (a *Audio) Channel(name string) *Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.channels[name]
}

// Channels returns the channels in registration order.
func (a *Audio) Channels() []*Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	channels := make([]*Channel, 0, len(a.order))
	for _, name := range a.order {
		channels = append(channels, a.channels[name])
	}
	return channels
}

// Link routes the channel from into to.
func (a *Audio) Link(from, to string) error {
	src, dst := a.Channel(from), a.Channel(to)
	if src == nil {
		return errors.Wrap(ErrUnknownChannel, from)
	}
	if dst == nil {
		return errors.Wrap(ErrUnknownChannel, to)
	}
	if err := dst.AddInput(src); err != nil {
		return errors.Wrapf(err, "failed to link %s to %s", from, to)
	}
	a.observers.notify(Notification{Kind: NotifyTopologyChanged, Channel: to})
	return nil
}

// AddInstrument creates an output channel named name fed by layers
// oscillator channels.
func (a *Audio) AddInstrument(name string, layers int) (*Instrument, error) {
	inst, err := newInstrument(name, layers, a.registry, a.wavetables)
	if err != nil {
		return nil, err
	}
	for _, ch := range inst.Channels() {
		if err := a.AddChannel(ch); err != nil {
			return nil, err
		}
	}
	a.mu.Lock()
	a.instruments[name] = inst
	if a.midiTarget == "" {
		a.midiTarget = name
	}
	a.mu.Unlock()
	a.observers.notify(Notification{Kind: NotifyTopologyChanged, Channel: name})
	a.Changes.Add("data")
	return inst, nil
}

func (a *Audio) instrument(name string) *Instrument {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.instruments[name]
}

func (a *Audio) instrumentNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.instruments))
	for name := range a.instruments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetMidiTarget selects the channel receiving MIDI input.
func (a *Audio) SetMidiTarget(name string) error {
	if a.Channel(name) == nil {
		return errors.Wrap(ErrUnknownChannel, name)
	}
	a.mu.Lock()
	a.midiTarget = name
	a.mu.Unlock()
	return nil
}

// SetPattern sets the sequencer pattern of a channel.
func (a *Audio) SetPattern(name, pattern string) {
	a.loop.SetPattern(name, pattern)
	a.Changes.Add("data")
}

func (a *Audio) patterns() map[string]string {
	return a.loop.Patterns()
}

// LoadSample loads a WAV file as the sample played by the channel in the
// wave scope.
func (a *Audio) LoadSample(name, path string) error {
	ch := a.Channel(name)
	if ch == nil {
		return errors.Wrap(ErrUnknownChannel, name)
	}
	data, err := LoadSample(path, a.config.SampleRate)
	if err != nil {
		return err
	}
	ch.SetSample(data)
	return nil
}

// ----- Events ----- //

// Dispatch queues ev for the next buffer. Frames in the past apply at its
// start.
func (a *Audio) Dispatch(ev Event) {
	a.loop.Schedule(ev)
}

// NoteOn ...
func (a *Audio) NoteOn(channel string, key int, velocity float64) {
	a.Dispatch(Event{Frame: a.timer.Frame(), Kind: EventNoteOn, Key: key, Value: velocity, Scope: ScopeNotation, Channel: channel})
}

// NoteOff ...
func (a *Audio) NoteOff(channel string, key int) {
	a.Dispatch(Event{Frame: a.timer.Frame(), Kind: EventNoteOff, Key: key, Scope: ScopeNotation, Channel: channel})
}

// Play starts a playback of the channel in scope.
func (a *Audio) Play(channel string, scope SoundScope) {
	a.Dispatch(Event{Frame: a.timer.Frame(), Kind: EventNoteOn, Value: 1, Scope: scope, Channel: channel})
}

// Stop cancels the playbacks of the channel in scope.
func (a *Audio) Stop(channel string, scope SoundScope) {
	a.Dispatch(Event{Frame: a.timer.Frame(), Kind: EventStop, Scope: scope, Channel: channel})
}

// Cancel cancels every playback at once, without waiting for the next buffer.
func (a *Audio) Cancel() {
	for _, pb := range a.loop.Playbacks() {
		pb.Cancel()
	}
}

// dispatch runs on the audio loop at the start of a buffer.
func (a *Audio) dispatch(ev Event) {
	ch := a.Channel(ev.Channel)
	if ch == nil {
		log.Printf("dropped %v: %v\n", ev, ErrUnknownChannel)
		return
	}
	switch ev.Kind {
	case EventNoteOn:
		if max := a.config.MaxVoices; max > 0 && len(a.loop.Playbacks()) >= max {
			log.Printf("dropped %v: too many voices\n", ev)
			return
		}
		velocity := ev.Value
		if velocity <= 0 {
			velocity = 1
		}
		a.loop.Add(NewPlayback(ch, ev.Scope, ev.Key, velocity, ev.Frame))
		a.observers.notify(Notification{Kind: NotifyNoteOn, Channel: ch.name, Key: ev.Key, Value: velocity, Frame: ev.Frame})
	case EventNoteOff:
		for _, pb := range a.loop.Playbacks() {
			if pb.channel == ch && pb.key == ev.Key && pb.scope == ev.Scope {
				pb.Push(ev)
			}
		}
		a.observers.notify(Notification{Kind: NotifyNoteOff, Channel: ch.name, Key: ev.Key, Frame: ev.Frame})
	case EventControl:
		target, ok := controlPorts[ev.Key]
		if !ok {
			return
		}
		template := ch.Template(target.recall)
		if template == nil {
			return
		}
		port := template.Port(target.port)
		if port == nil {
			return
		}
		min, max := port.Range()
		a.setPort(ch, template, port, min+(max-min)*ev.Value)
	case EventStop:
		for _, pb := range a.loop.Playbacks() {
			if pb.channel == ch && pb.scope == ev.Scope {
				pb.Cancel()
			}
		}
	}
}

// AddMidiEvent parses a raw MIDI message for the MIDI target channel.
func (a *Audio) AddMidiEvent(data []byte) {
	ev, ok := parseMidiMessage(data)
	if !ok {
		return
	}
	a.mu.Lock()
	ev.Channel = a.midiTarget
	a.mu.Unlock()
	ev.Frame = a.timer.Frame()
	log.Printf("got %v\n", ev)
	a.Dispatch(ev)
}

// ----- Ports ----- //

func (a *Audio) lookupPort(channel, recall, name string) (*Channel, *Recall, *Port, error) {
	ch := a.Channel(channel)
	if ch == nil {
		return nil, nil, nil, errors.Wrap(ErrUnknownChannel, channel)
	}
	template := ch.Template(recall)
	if template == nil {
		return nil, nil, nil, errors.Wrapf(ErrUnknownPort, "%s.%s", channel, recall)
	}
	port := template.Port(name)
	if port == nil {
		return nil, nil, nil, errors.Wrapf(ErrUnknownPort, "%s.%s.%s", channel, recall, name)
	}
	return ch, template, port, nil
}

// GetPort returns the template value of a port.
func (a *Audio) GetPort(channel, recall, name string) (float64, error) {
	_, _, port, err := a.lookupPort(channel, recall, name)
	if err != nil {
		return 0, err
	}
	return port.Get(), nil
}

// SetPort sets the template value of a port. Live instances follow at their
// next automate stage.
func (a *Audio) SetPort(channel, recall, name string, value float64) error {
	ch, template, port, err := a.lookupPort(channel, recall, name)
	if err != nil {
		return err
	}
	a.setPort(ch, template, port, value)
	return nil
}

func (a *Audio) setPort(ch *Channel, template *Recall, port *Port, value float64) {
	port.Set(value)
	a.observers.notify(Notification{Kind: NotifyControlChanged, Channel: ch.name, Recall: template.name, Port: port.name, Value: port.Get()})
	if template.name == "filter" {
		a.Changes.Add("filter-shape")
	}
	a.Changes.Add("data")
}

// namedValue resolves enum ports set by name, e.g. "set out filter kind lowpass".
func namedValue(recall, port, s string) (float64, bool) {
	var value int
	switch {
	case recall == "filter" && port == "kind":
		value = int(filterKindFromString(s))
	case recall == "synth" && port == "kind", recall == "lfo" && port == "wave":
		value = int(waveKindFromString(s))
	case recall == "lfo" && port == "destination":
		value = int(destinationFromString(s))
	default:
		return 0, false
	}
	return float64(value), value != 0 || s == "none"
}

// ----- Timing ----- //

// SetBPM ...
func (a *Audio) SetBPM(bpm float64) error {
	if err := a.timer.SetBPM(bpm); err != nil {
		return err
	}
	a.Changes.Add("data")
	return nil
}

// SetBufferSize changes the frames rendered per buffer from the next one on.
func (a *Audio) SetBufferSize(size int) error {
	if size <= 0 || size > maxBufferSize {
		return errors.Errorf("buffer size out of range: %d", size)
	}
	a.outMu.Lock()
	defer a.outMu.Unlock()
	return a.timer.SetBufferSize(size)
}

// ----- JSON ----- //

type audioJSON struct {
	Tree json.RawMessage `json:"tree"`
}

// ApplyJSON ...
func (a *Audio) ApplyJSON(data []byte) {
	var audioJSON audioJSON
	err := json.Unmarshal(data, &audioJSON)
	if err != nil {
		log.Println("failed to apply JSON to Audio", err)
		return
	}
	var t treeJSON
	if err := json.Unmarshal(audioJSON.Tree, &t); err != nil {
		log.Println("failed to apply JSON to tree", err)
		return
	}
	if err := a.applyTree(&t); err != nil {
		log.Println("failed to apply tree", err)
	}
}

// ToJSON ...
func (a *Audio) ToJSON() []byte {
	bytes, err := json.Marshal(&audioJSON{Tree: toRawMessage(a.treeToJSON())})
	if err != nil {
		log.Println("failed to encode Audio", err)
		return nil
	}
	return bytes
}

// ----- Commands ----- //

func processCommands(audio *Audio, commandCh <-chan []string) {
	for command := range commandCh {
		if err := audio.update(command); err != nil {
			log.Printf("command %v failed: %v\n", command, err)
		}
	}
	log.Println("processCommands() ended.")
}

func parseScope(command []string, i int, def SoundScope) (SoundScope, error) {
	if len(command) <= i {
		return def, nil
	}
	return ParseSoundScope(command[i])
}

func (a *Audio) update(command []string) error {
	if len(command) == 0 {
		return errors.New("empty command")
	}
	args := command[1:]
	switch command[0] {
	case "set":
		if len(args) != 4 {
			return fmt.Errorf("usage: set <channel> <recall> <port> <value>: %v", args)
		}
		value, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			named, ok := namedValue(args[1], args[2], args[3])
			if !ok {
				return err
			}
			value = named
		}
		return a.SetPort(args[0], args[1], args[2], value)
	case "bpm":
		if len(args) != 1 {
			return fmt.Errorf("usage: bpm <value>: %v", args)
		}
		bpm, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		return a.SetBPM(bpm)
	case "buffer_size":
		if len(args) != 1 {
			return fmt.Errorf("usage: buffer_size <frames>: %v", args)
		}
		size, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		return a.SetBufferSize(size)
	case "signature":
		if len(args) != 2 {
			return fmt.Errorf("usage: signature <numerator> <denominator>: %v", args)
		}
		numerator, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		denominator, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		return a.timer.SetSignature(numerator, denominator)
	case "loop":
		if len(args) != 3 {
			return fmt.Errorf("usage: loop <left> <right> <on|off>: %v", args)
		}
		left, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return err
		}
		right, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return err
		}
		return a.timer.SetLoop(left, right, args[2] == "on")
	case "instrument":
		if len(args) != 2 {
			return fmt.Errorf("usage: instrument <name> <layers>: %v", args)
		}
		layers, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		_, err = a.AddInstrument(args[0], layers)
		return err
	case "pattern":
		if len(args) != 2 {
			return fmt.Errorf("usage: pattern <channel> <pattern>: %v", args)
		}
		a.SetPattern(args[0], args[1])
	case "sample":
		if len(args) != 2 {
			return fmt.Errorf("usage: sample <channel> <path>: %v", args)
		}
		return a.LoadSample(args[0], args[1])
	case "midi_target":
		if len(args) != 1 {
			return fmt.Errorf("usage: midi_target <channel>: %v", args)
		}
		return a.SetMidiTarget(args[0])
	case "note_on", "note_off":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s <channel> <key> [velocity]: %v", command[0], args)
		}
		key, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		if command[0] == "note_off" {
			a.NoteOff(args[0], key)
			return nil
		}
		velocity := 1.0
		if len(args) > 2 {
			if velocity, err = strconv.ParseFloat(args[2], 64); err != nil {
				return err
			}
		}
		a.NoteOn(args[0], key, velocity)
	case "play", "stop":
		if len(args) < 1 {
			return fmt.Errorf("usage: %s <channel> [scope]: %v", command[0], args)
		}
		scope, err := parseScope(args, 1, ScopeSequencer)
		if err != nil {
			return err
		}
		if command[0] == "play" {
			a.Play(args[0], scope)
		} else {
			a.Stop(args[0], scope)
		}
	case "preset":
		if len(args) != 2 {
			return fmt.Errorf("usage: preset <load|save> <name>: %v", args)
		}
		switch args[0] {
		case "load":
			return a.presets.applyTo(args[1], a)
		case "save":
			return a.presets.save(args[1], a)
		}
		return fmt.Errorf("unknown preset action %v", args[0])
	case "cancel":
		a.Cancel()
	default:
		return fmt.Errorf("unknown command %v", command[0])
	}
	return nil
}

// ----- I/O ----- //

// Read renders as many buffers as needed to fill buf.
func (a *Audio) Read(buf []byte) (int, error) {
	select {
	case <-a.ctx.Done():
		log.Println("Read() interrupted.")
		return 0, io.EOF
	default:
	}
	a.outMu.Lock()
	defer a.outMu.Unlock()
	for len(a.fifo) < len(buf) {
		size := a.timer.BufferSize() * a.config.BytesPerFrame()
		if cap(a.chunk) < size {
			a.chunk = make([]byte, size)
		}
		a.chunk = a.chunk[:size]
		if err := a.loop.Fill(a.ctx, a.chunk); err != nil {
			return 0, err
		}
		a.spectrum.record(a.loop.bus.Buffer())
		a.fifo = append(a.fifo, a.chunk...)
	}
	n := copy(buf, a.fifo)
	a.fifo = a.fifo[:copy(a.fifo, a.fifo[n:])]
	return n, nil
}

// Start plays until ctx is canceled.
func (a *Audio) Start(ctx context.Context) error {
	a.ctx = ctx
	err := a.soundcard.Play(ctx, a)
	log.Println("Start() ended.")
	return err
}

// Close ...
func (a *Audio) Close() error {
	log.Println("Closing Audio...")
	close(a.CommandCh)
	a.loop.Close()
	return a.soundcard.Close()
}

// ----- Reports ----- //

// GetFilterShape returns the magnitude response of a channel's filter.
func (a *Audio) GetFilterShape(channel string) []float64 {
	ch := a.Channel(channel)
	if ch == nil {
		return nil
	}
	template := ch.Template("filter")
	if template == nil {
		return nil
	}
	return filterShape(template, a.config.SampleRate, NewFFT(fftSize, false))
}

// GetFFT returns the spectrum of the latest fftSize frames.
func (a *Audio) GetFFT() []float64 {
	return a.spectrum.analyze()
}

// Presets lists the saved presets.
func (a *Audio) Presets() ([]string, error) {
	return a.presets.getList()
}

// Peaks returns the peak meter of every output channel.
func (a *Audio) Peaks() map[string]float64 {
	peaks := make(map[string]float64)
	for _, ch := range a.Channels() {
		if !ch.IsOutput() {
			continue
		}
		if template := ch.Template("peak"); template != nil {
			peaks[ch.name] = template.Port("peak").Get()
		}
	}
	return peaks
}
