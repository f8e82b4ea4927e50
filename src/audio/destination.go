package audio

// ----- Destination ----- //

// destination is what an LFO modulates on the synth of its voice.
type destination int

const (
	destNone destination = iota
	destVibrato
	destTremolo
	destFM
	destPM
	destAM
	destinationCount
)

var destinationNames = [...]string{"none", "vibrato", "tremolo", "fm", "pm", "am"}

func (d destination) String() string {
	if d < 0 || d >= destinationCount {
		return "none"
	}
	return destinationNames[d]
}

func destinationFromString(s string) destination {
	for i, name := range destinationNames {
		if name == s {
			return destination(i)
		}
	}
	return destNone
}
