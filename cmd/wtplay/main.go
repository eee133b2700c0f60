package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/cbegin/wtsynth-go"
)

// testChord is a C major triad held for a second when no file is given.
var testChord = []int{60, 64, 67}

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		midiPath   = flag.String("file", "", "path to a Standard MIDI File")
		patchPath  = flag.String("patch", "", "Lua patch script")
		tablePath  = flag.String("wavetable", "", "WAV file imported into wavetable slot 0")
		waveLen    = flag.Int("wave-len", 256, "samples per wave for -wavetable")
		samplePath = flag.String("sample", "", "WAV file loaded into sample slot 0")
		loop       = flag.Bool("loop", false, "loop playback; use with -loops to count then stop")
		loops      = flag.Int("loops", 3, "when -loop, stop after N loops (0 = loop forever)")
		volume     = flag.Float64("volume", 1.0, "master volume scalar")
		octave     = flag.Int("octave", 0, "master octave shift (-4..+4)")
		polyphony  = flag.Int("polyphony", 16, "voice pool size")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	pl, err := wtsynth.NewPlayer(*sampleRate,
		wtsynth.WithLogger(logger),
		wtsynth.WithPolyphony(*polyphony),
		wtsynth.WithLoopPlayback(*loop),
	)
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if *tablePath != "" {
		if err := pl.LoadWavetable(0, *tablePath, *waveLen); err != nil {
			log.Fatal(err)
		}
	}
	if *samplePath != "" {
		if err := pl.LoadSample(0, *samplePath); err != nil {
			log.Fatal(err)
		}
	}
	if *patchPath != "" {
		if err := pl.LoadPatchScript(ctx, *patchPath); err != nil {
			log.Fatal(err)
		}
	}
	pl.SetMasterVolume(*volume)
	pl.SetTranspose(*octave)

	if *midiPath == "" {
		if err := playChord(ctx, pl); err != nil {
			log.Fatal(err)
		}
		return
	}

	ch := pl.Watch()
	if err := pl.PlayMIDIFile(*midiPath); err != nil {
		log.Fatal(err)
	}
	go func() {
		<-ctx.Done()
		_ = pl.Stop()
	}()
	loopCount := 0
	for event := range ch {
		switch event.Kind {
		case wtsynth.EventPlaybackEnded:
			fmt.Println("playback completed")
			goto done
		case wtsynth.EventLoopCompleted:
			loopCount++
			fmt.Printf("loop %d completed\n", loopCount)
			if *loop && *loops > 0 && loopCount >= *loops {
				_ = pl.Stop()
			}
		}
	}
done:
	pl.Wait()
}

func playChord(ctx context.Context, pl *wtsynth.Player) error {
	if err := pl.Live(); err != nil {
		return err
	}
	defer pl.Stop()
	ids := make([]int, 0, len(testChord))
	for i, note := range testChord {
		id, err := pl.NoteOn(note, 100, (i-1)*32)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
	}
	for _, id := range ids {
		if err := pl.NoteOff(id); err != nil {
			return err
		}
	}
	// Let the release tail ring out.
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
	}
	return nil
}
