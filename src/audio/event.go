package audio

import (
	"fmt"
)

// ----- Event ----- //

// EventKind ...
type EventKind int

const (
	EventNoteOn EventKind = iota
	EventNoteOff
	EventControl
	EventStop
)

func (k EventKind) String() string {
	switch k {
	case EventNoteOn:
		return "note-on"
	case EventNoteOff:
		return "note-off"
	case EventControl:
		return "control"
	case EventStop:
		return "stop"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is the normalized input shape produced by MIDI and command parsers.
// Frame is absolute; events in the past apply at the start of the next buffer.
type Event struct {
	Frame   uint64
	Kind    EventKind
	Key     int
	Value   float64
	Scope   SoundScope
	Channel string
}

func (e Event) String() string {
	return fmt.Sprintf("%v %s key=%d value=%.3f scope=%v frame=%d", e.Kind, e.Channel, e.Key, e.Value, e.Scope, e.Frame)
}

// controlPorts maps MIDI controller numbers to the port they drive on the
// channel receiving the event. Values are normalized to [0,1].
var controlPorts = map[int]struct {
	recall string
	port   string
}{
	7:  {"volume", "gain"},
	71: {"filter", "q"},
	74: {"filter", "freq"},
	91: {"echo", "mix"},
}

// parseMidiMessage converts a raw channel message into an event.
func parseMidiMessage(data []byte) (Event, bool) {
	if len(data) < 3 {
		return Event{}, false
	}
	status := data[0] >> 4
	switch {
	case status == 8 || status == 9 && data[2] == 0:
		return Event{Kind: EventNoteOff, Key: int(data[1]), Scope: ScopeNotation}, true
	case status == 9:
		return Event{Kind: EventNoteOn, Key: int(data[1]), Value: float64(data[2]) / 127, Scope: ScopeNotation}, true
	case status == 0xb:
		return Event{Kind: EventControl, Key: int(data[1]), Value: float64(data[2]) / 127, Scope: ScopeNotation}, true
	}
	return Event{}, false
}
