package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/pkg/errors"
)

func expectNoError(t *testing.T, err error) {
	if err != nil {
		t.Errorf("expected no error, but got: %v", err)
	}
}

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BufferSize = 256
	cfg.Timelock = -1
	cfg.WavetableDir = t.TempDir()
	cfg.PresetDir = t.TempDir()
	return cfg
}

func newTestAudio(t *testing.T) *Audio {
	t.Helper()
	audio, err := NewAudio(newTestConfig(t), &HeadlessSoundcard{})
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	t.Cleanup(func() {
		expectNoError(t, audio.Close())
	})
	return audio
}

func readBuffers(t *testing.T, audio *Audio, n int) {
	t.Helper()
	out := make([]byte, audio.Config().BufferSizeInBytes())
	for i := 0; i < n; i++ {
		_, err := audio.Read(out)
		expectNoError(t, err)
	}
}

// drain returns the notifications received so far.
func drain(o *ChanObserver) []Notification {
	var list []Notification
	for {
		select {
		case n := <-o.C:
			list = append(list, n)
		default:
			return list
		}
	}
}

func TestBenchmark(t *testing.T) {
	polyphony := 10
	times := 200

	audio := newTestAudio(t)
	_, err := audio.AddInstrument("lead", 2)
	expectNoError(t, err)
	expectNoError(t, audio.update([]string{"set", "lead", "filter", "kind", "1"}))
	expectNoError(t, audio.update([]string{"set", "lead", "echo", "mix", "0.3"}))
	expectNoError(t, audio.update([]string{"set", "lead.osc1", "lfo", "destination", "1"}))
	expectNoError(t, audio.update([]string{"set", "lead.osc1", "lfo", "amount", "50"}))
	readBuffers(t, audio, 1)
	for n := 0; n < polyphony; n++ {
		audio.NoteOn("lead", 60+n, 1)
	}
	start := now()
	readBuffers(t, audio, times)
	end := now()
	averageProcessTime := (end - start) / float64(times) * 1000
	fmt.Printf("average process time: %.2fms\n", averageProcessTime)
	expectEqual(t, len(audio.Loop().Playbacks()), polyphony)
}

func TestCommands(t *testing.T) {
	audio := newTestAudio(t)
	expectNoError(t, audio.update([]string{"instrument", "bass", "2"}))
	if audio.Channel("bass.osc2") == nil {
		t.Fatalf("expected a channel per layer")
	}
	if audio.Channel("bass.osc1").Link() != audio.Channel("bass") {
		t.Errorf("expected the layers to feed the output")
	}
	expectNoError(t, audio.update([]string{"bpm", "90"}))
	expectEqual(t, audio.Timer().BPM(), 90.0)
	expectNoError(t, audio.update([]string{"set", "bass", "filter", "freq", "1000"}))
	freq, err := audio.GetPort("bass", "filter", "freq")
	expectNoError(t, err)
	expectEqual(t, freq, 1000.0)
	expectNoError(t, audio.update([]string{"set", "bass", "filter", "kind", "highpass"}))
	kind, _ := audio.GetPort("bass", "filter", "kind")
	expectEqual(t, filterKind(kind), filterHighpass)
	if err := audio.update([]string{"set", "bass", "filter", "kind", "bandstop"}); err == nil {
		t.Errorf("expected an error for an unknown filter kind")
	}
	expectNoError(t, audio.update([]string{"pattern", "bass", "x.x."}))
	pattern, _ := audio.Loop().Pattern("bass")
	expectEqual(t, pattern, "x.x.")
	expectNoError(t, audio.update([]string{"signature", "3", "4"}))
	expectEqual(t, audio.Timer().Snapshot().Numerator, 3)
	expectNoError(t, audio.update([]string{"buffer_size", "512"}))
	expectEqual(t, audio.Timer().BufferSize(), 512)
	if !audio.Changes.Has("data") || !audio.Changes.Has("filter-shape") {
		t.Errorf("expected data and filter-shape to be marked changed")
	}
}

func TestCommandErrors(t *testing.T) {
	audio := newTestAudio(t)
	_, err := audio.AddInstrument("lead", 1)
	expectNoError(t, err)

	err = audio.update([]string{"set", "lead", "filter", "nope", "1"})
	if !errors.Is(err, ErrUnknownPort) {
		t.Errorf("expected ErrUnknownPort, but got: %v", err)
	}
	err = audio.update([]string{"set", "nope", "filter", "freq", "1"})
	if !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, but got: %v", err)
	}
	for _, command := range [][]string{
		{},
		{"bogus"},
		{"bpm", "fast"},
		{"bpm", "-1"},
		{"instrument", "lead", "1"},
		{"instrument", "big", "100"},
		{"play", "lead", "nowhere"},
		{"midi_target", "nope"},
		{"buffer_size", "0"},
		{"preset", "load", "missing"},
		{"preset", "rename", "x"},
	} {
		if err := audio.update(command); err == nil {
			t.Errorf("expected %v to fail", command)
		}
	}
}

func TestObserversReceiveChanges(t *testing.T) {
	audio := newTestAudio(t)
	_, err := audio.AddInstrument("lead", 1)
	expectNoError(t, err)
	observer := NewChanObserver(256)
	unsubscribe := audio.Subscribe(observer)

	expectNoError(t, audio.SetPort("lead", "volume", "gain", 5))
	list := drain(observer)
	if len(list) != 1 {
		t.Fatalf("expected 1 notification, but got: %v", list)
	}
	n := list[0]
	expectEqual(t, n.Kind, NotifyControlChanged)
	expectEqual(t, n.Channel, "lead")
	expectEqual(t, n.Port, "gain")
	expectEqual(t, n.Value, 2.0)

	unsubscribe()
	expectNoError(t, audio.SetPort("lead", "volume", "gain", 1))
	expectEqual(t, len(drain(observer)), 0)
}

func TestNotesReachObserversAndMeters(t *testing.T) {
	audio := newTestAudio(t)
	_, err := audio.AddInstrument("lead", 1)
	expectNoError(t, err)
	observer := NewChanObserver(1024)
	audio.Subscribe(observer)

	audio.AddMidiEvent([]byte{0x90, 64, 127})
	readBuffers(t, audio, 4)

	found := false
	for _, n := range drain(observer) {
		if n.Kind == NotifyNoteOn && n.Key == 64 {
			found = true
			expectEqual(t, n.Channel, "lead")
			expectEqual(t, n.Value, 1.0)
		}
	}
	if !found {
		t.Errorf("expected a note-on notification")
	}
	if peak := audio.Peaks()["lead"]; peak <= 0 {
		t.Errorf("expected a positive peak, but got: %v", peak)
	}
	spectrum := audio.GetFFT()
	expectEqual(t, len(spectrum), fftSize/2)

	audio.AddMidiEvent([]byte{0x80, 64, 0})
	audio.AddMidiEvent([]byte{0xb0, 74, 127})
	readBuffers(t, audio, 1)
	freq, err := audio.GetPort("lead", "filter", "freq")
	expectNoError(t, err)
	expectEqual(t, freq, 20000.0)
}

func TestNoteOffEndsVoice(t *testing.T) {
	audio := newTestAudio(t)
	_, err := audio.AddInstrument("lead", 1)
	expectNoError(t, err)
	expectNoError(t, audio.SetPort("lead.osc1", "envelope", "release", 0))
	observer := NewChanObserver(1024)
	audio.Subscribe(observer)

	audio.NoteOn("lead", 60, 1)
	readBuffers(t, audio, 2)
	expectEqual(t, len(audio.Loop().Playbacks()), 1)
	audio.NoteOff("lead", 60)
	readBuffers(t, audio, 10)
	expectEqual(t, len(audio.Loop().Playbacks()), 0)

	done := false
	for _, n := range drain(observer) {
		if n.Kind == NotifyPlaybackDone && n.Key == 60 {
			done = true
		}
	}
	if !done {
		t.Errorf("expected a playback-done notification")
	}
}

func TestSequencerSchedulesNotes(t *testing.T) {
	audio := newTestAudio(t)
	_, err := audio.AddInstrument("drums", 1)
	expectNoError(t, err)
	audio.SetPattern("drums", "xxxxxxxxxxxxxxxx")
	observer := NewChanObserver(4096)
	audio.Subscribe(observer)

	audio.Play("drums", ScopeSequencer)
	// one tic is 6000 frames at 120 bpm
	readBuffers(t, audio, 60)

	notes := 0
	for _, n := range drain(observer) {
		if n.Kind == NotifyNoteOn && n.Key == 60 {
			notes++
		}
	}
	if notes < 2 {
		t.Errorf("expected at least 2 sequenced notes, but got: %d", notes)
	}

	audio.Stop("drums", ScopeSequencer)
	readBuffers(t, audio, 40)
	for _, pb := range audio.Loop().Playbacks() {
		if pb.Scope() == ScopeSequencer {
			t.Errorf("expected the sequencer playback to be stopped")
		}
	}
}

func TestTreeRoundTrip(t *testing.T) {
	audio := newTestAudio(t)
	_, err := audio.AddInstrument("lead", 2)
	expectNoError(t, err)
	expectNoError(t, audio.SetPort("lead", "filter", "freq", 1234))
	expectNoError(t, audio.SetPort("lead.osc2", "synth", "coarse", 7))
	expectNoError(t, audio.SetBPM(95))
	audio.SetPattern("lead", "x.o.")

	var buf bytes.Buffer
	expectNoError(t, audio.WriteTree(&buf))

	restored := newTestAudio(t)
	expectNoError(t, restored.ReadTree(bytes.NewReader(buf.Bytes())))
	if restored.Channel("lead.osc2") == nil {
		t.Fatalf("expected the instrument to be restored")
	}
	freq, err := restored.GetPort("lead", "filter", "freq")
	expectNoError(t, err)
	expectEqual(t, freq, 1234.0)
	coarse, err := restored.GetPort("lead.osc2", "synth", "coarse")
	expectNoError(t, err)
	expectEqual(t, coarse, 7.0)
	expectEqual(t, restored.Timer().BPM(), 95.0)
	pattern, _ := restored.Loop().Pattern("lead")
	expectEqual(t, pattern, "x.o.")

	// JSON entry point used by the UI
	other := newTestAudio(t)
	other.ApplyJSON(audio.ToJSON())
	freq, err = other.GetPort("lead", "filter", "freq")
	expectNoError(t, err)
	expectEqual(t, freq, 1234.0)
}

func TestPresets(t *testing.T) {
	audio := newTestAudio(t)
	_, err := audio.AddInstrument("lead", 1)
	expectNoError(t, err)
	expectNoError(t, audio.SetPort("lead", "echo", "delay", 500))
	expectNoError(t, audio.update([]string{"preset", "save", "slow-echo"}))
	expectNoError(t, audio.update([]string{"preset", "save", "slow-echo"}))
	list, err := audio.Presets()
	expectNoError(t, err)
	if len(list) != 1 || list[0] != "slow-echo" {
		t.Errorf("expected [slow-echo], but got: %v", list)
	}

	expectNoError(t, audio.SetPort("lead", "echo", "delay", 100))
	expectNoError(t, audio.update([]string{"preset", "load", "slow-echo"}))
	delay, err := audio.GetPort("lead", "echo", "delay")
	expectNoError(t, err)
	expectEqual(t, delay, 500.0)
}

func TestExportWritesWav(t *testing.T) {
	cfg := newTestConfig(t)
	path := filepath.Join(t.TempDir(), "out.wav")
	export := &ExportSoundcard{Path: path, Frames: 4096}
	audio, err := NewAudio(cfg, export)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	_, err = audio.AddInstrument("lead", 1)
	expectNoError(t, err)
	audio.NoteOn("lead", 69, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	expectNoError(t, audio.Start(ctx))
	expectEqual(t, export.Written(), uint64(4096))
	expectNoError(t, audio.Close())

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	defer f.Close()
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		t.Fatalf("expected a valid wav file")
	}
	expectEqual(t, int(d.SampleRate), cfg.SampleRate)
	expectEqual(t, int(d.NumChans), cfg.ChannelNum)
	expectNoError(t, d.Rewind())
	pcm, err := d.FullPCMBuffer()
	expectNoError(t, err)
	expectEqual(t, len(pcm.Data), 4096*cfg.ChannelNum)
}

func TestHeadlessPlaysBuffers(t *testing.T) {
	cfg := newTestConfig(t)
	var sink bytes.Buffer
	soundcard := &HeadlessSoundcard{Sink: &sink, Buffers: 8}
	audio, err := NewAudio(cfg, soundcard)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	defer audio.Close()
	expectNoError(t, audio.Start(context.Background()))
	expectEqual(t, soundcard.Played(), 8)
	expectEqual(t, sink.Len(), 8*cfg.BufferSizeInBytes())
	expectEqual(t, audio.Loop().Iterations(), uint64(8))
}

func TestBufferSizeChangeWhilePlaying(t *testing.T) {
	audio := newTestAudio(t)
	_, err := audio.AddInstrument("lead", 1)
	expectNoError(t, err)
	audio.NoteOn("lead", 60, 1)
	readBuffers(t, audio, 4)
	expectEqual(t, audio.Timer().Frame(), uint64(4*256))

	expectNoError(t, audio.SetBufferSize(2048))
	out := make([]byte, audio.Config().BufferSizeInBytes())
	_, err = audio.Read(out)
	expectNoError(t, err)
	expectEqual(t, audio.Timer().BufferSize(), 2048)
	expectEqual(t, audio.Timer().Frame(), uint64(4*256+2048))
	readBuffers(t, audio, 64)

	// 120 BPM at 48kHz: one tic every 6000 frames from frame 0
	frame := audio.Timer().Frame()
	expectEqual(t, audio.Timer().Snapshot().Tic, (frame-1)/6000+1)
	expectEqual(t, len(audio.Loop().Playbacks()), 1)
	heard := false
	for _, b := range out {
		if b != 0 {
			heard = true
			break
		}
	}
	if !heard {
		t.Errorf("expected the voice in the first 2048-frame buffer")
	}
}
