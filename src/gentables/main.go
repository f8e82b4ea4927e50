package main

import (
	"context"
	"flag"
	"log"
	"path/filepath"

	"github.com/jinjor/desktop-sequencer/src/audio"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const numTables = 128
const numSamples = 4096

var (
	sampleRate = flag.Int("rate", 48000, "sample rate the tables are band-limited for")
	bufferSize = flag.Int("buffer", 1024, "buffer size used to print the tic tables")
	bpm        = flag.Float64("bpm", 0, "print the tic tables of this tempo when positive")
)

func main() {
	flag.Parse()
	dir := flag.Arg(0)
	if dir == "" {
		panic("dir is not passed")
	}
	log.SetFlags(log.Lshortfile)

	ctx := context.Background()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return generate(filepath.Join(dir, "square.wt"), audio.CalcPartialSquareAtPhase)
	})
	g.Go(func() error {
		return generate(filepath.Join(dir, "saw.wt"), audio.CalcPartialSawAtPhase)
	})
	err := g.Wait()
	if err != nil {
		log.Fatalf("error: %v\n", err)
	}
	log.Println("Successfully generated wavetables.")

	if *bpm > 0 {
		if err := printTicTables(*bpm); err != nil {
			log.Fatalf("error: %v\n", err)
		}
	}
}

func generate(path string, partial func(n int, phase float64) float64) error {
	wts := audio.NewWavetableSet(numTables, numSamples)
	if err := wts.MakeBandLimitedTablesForAllNotes(numSamples, *sampleRate, partial); err != nil {
		return errors.Wrapf(err, "failed to generate %s", path)
	}
	log.Printf("generated %s\n", path)
	if err := wts.Save(path); err != nil {
		return err
	}
	log.Printf("saved %s\n", path)
	return nil
}

// printTicTables logs the attack and delay of every tic of one tact.
func printTicTables(bpm float64) error {
	timer, err := audio.NewTimer(*sampleRate, *bufferSize, bpm, 4, 4, 1.0)
	if err != nil {
		return err
	}
	for i := 0; i < timer.TicsPerTact(); i++ {
		log.Printf("tic %2d: attack=%4d delay=%.4f frames=%d\n", i, timer.Attack(i), timer.Delay(i), timer.DelayFrames(i))
	}
	return nil
}
