package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jinjor/desktop-sequencer/src/audio"
	"golang.org/x/sync/errgroup"
)

const sockFileName = "/tmp/desktop-sequencer.sock"

var (
	exportPath = flag.String("export", "", "render the sequencer into this WAV file instead of playing")
	seconds    = flag.Float64("seconds", 8, "length of the export")
	midiIn     = flag.String("midi", "", "MIDI IN port name (first port when empty)")
	instrument = flag.String("instrument", "main", "name of the default instrument")
	layers     = flag.Int("layers", 2, "oscillator layers of the default instrument")
	bpm        = flag.Float64("bpm", 0, "tempo, overrides DESKTOP_SEQUENCER_BPM when positive")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Lshortfile)
	log.Printf("NumCPU: %v\n", runtime.NumCPU())

	cfg, err := audio.LoadConfig()
	if err != nil {
		log.Fatalf("error: %v\n", err)
	}
	if *bpm > 0 {
		cfg.BPM = *bpm
	}

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var soundcard audio.Soundcard = &audio.OtoSoundcard{}
	if *exportPath != "" {
		soundcard = &audio.ExportSoundcard{
			Path:   *exportPath,
			Frames: uint64(*seconds * float64(cfg.SampleRate)),
		}
	}
	engine, err := audio.NewAudio(cfg, soundcard)
	if err != nil {
		log.Fatalf("error: %v\n", err)
	}
	defer engine.Close()
	if _, err := engine.AddInstrument(*instrument, *layers); err != nil {
		log.Fatalf("error: %v\n", err)
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(signalCh)
		cancel()
	}()
	go func() {
		sig := <-signalCh
		log.Printf("Caught signal %s: shutting down...\n", sig)
		cancel()
	}()

	if *exportPath != "" {
		engine.Play(*instrument, audio.ScopeSequencer)
		if err := engine.Start(ctx); err != nil {
			log.Fatalf("error: %v\n", err)
		}
		log.Println("main() ended.")
		return
	}

	go engine.ForwardMidi(audio.ListenToMidiIn(ctx, *midiIn))
	err = withIPCConnection(ctx, func(conn net.Conn) error {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return engine.Start(ctx)
		})
		g.Go(func() error {
			return receiveCommands(ctx, conn, engine.CommandCh)
		})
		g.Go(func() error {
			return sendReports(ctx, conn, engine)
		})
		return g.Wait()
	})
	if err != nil {
		log.Fatalf("error: %v\n", err)
	}
	log.Println("main() ended.")
}

func withIPCConnection(ctx context.Context, f func(net.Conn) error) error {
	os.Remove(sockFileName)
	listener, err := new(net.ListenConfig).Listen(ctx, "unix", sockFileName)
	if err != nil {
		return err
	}
	defer func() {
		log.Println("Closeing IPC...")
		err := listener.Close()
		if err != nil {
			log.Printf("error while closing listener: %v", err)
		}
		os.Remove(sockFileName)
	}()
	log.Printf("start listening...\n")
	conn, err := listener.Accept()
	if err != nil {
		return err
	}
	defer func() {
		err := conn.Close()
		if err != nil {
			log.Printf("error while closing connection: %v", err)
		}
	}()
	return f(conn)
}

func receiveCommands(ctx context.Context, conn net.Conn, commandCh chan<- []string) error {
	reader := bufio.NewReader(conn)
	var line []byte
loop:
	for {
		select {
		case <-ctx.Done():
			log.Println("Connection interrupted")
			break loop
		default:
		}
		next, isPrefix, err := reader.ReadLine()
		if err == io.EOF {
			break loop
		}
		if err != nil {
			return err
		}
		line = append(line, next...)
		if isPrefix {
			continue
		}
		command, err := parseCommand(string(line))
		if err != nil {
			return err
		}
		commandCh <- command
		log.Printf("received: %s\n", string(line))
		line = []byte{}
	}
	log.Println("receiveCommands() ended.")
	return nil
}

func parseCommand(line string) ([]string, error) {
	lineStr := strings.Split(line, " ")
	for i, item := range lineStr {
		escaped, err := url.QueryUnescape(item)
		if err != nil {
			return nil, err
		}
		lineStr[i] = escaped
	}
	return lineStr, nil
}

func formatFloats(name string, values []float64) string {
	s := name
	for _, value := range values {
		s += " " + strconv.FormatFloat(value, 'f', 6, 64)
	}
	return s
}

func sendReports(ctx context.Context, conn net.Conn, engine *audio.Audio) error {
	t := time.NewTicker(time.Second / 60)
	defer t.Stop()
	notifications := audio.NewChanObserver(1024)
	defer engine.Subscribe(notifications)()
loop:
	for {
		var lines []string
		select {
		case <-ctx.Done():
			log.Println("sendReports() interrupted")
			break loop
		case n := <-notifications.C:
			if n.Kind == audio.NotifyTimelockSkip {
				log.Printf("WARN: %v tics skipped\n", n.Value)
			}
			continue
		case <-t.C:
			lines = append(lines, formatFloats("fft", engine.GetFFT()))
			for channel, peak := range engine.Peaks() {
				lines = append(lines, "peak "+url.QueryEscape(channel)+" "+strconv.FormatFloat(peak, 'f', 6, 64))
			}
			if engine.Changes.Has("data") {
				engine.Changes.Delete("data")
				lines = append(lines, "data "+string(engine.ToJSON()))
			}
			if engine.Changes.Has("filter-shape") {
				engine.Changes.Delete("filter-shape")
				lines = append(lines, formatFloats("filter-shape", engine.GetFilterShape(*instrument)))
			}
		}
		select {
		case <-ctx.Done():
			log.Println("sendReports() interrupted")
			break loop
		default:
			for _, line := range lines {
				if _, err := conn.Write([]byte(line + "\n")); err != nil {
					return err
				}
			}
		}
	}
	log.Println("sendReports() ended.")
	return nil
}
