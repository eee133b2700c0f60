package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/cbegin/wtsynth-go"
	intseq "github.com/cbegin/wtsynth-go/internal/sequencer"
	"github.com/cbegin/wtsynth-go/internal/voice"
)

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		midiPath   = flag.String("file", "", "Standard MIDI File to render; a test chord if empty")
		outPath    = flag.String("o", "out.wav", "output WAV path, - for stdout (32-bit only)")
		bits       = flag.Int("bits", 16, "sample format: 16, 24 or 32 (float)")
		seconds    = flag.Float64("seconds", 0, "render length; 0 = score length plus -tail")
		tail       = flag.Float64("tail", 1, "seconds rendered past the last event")
		patchPath  = flag.String("patch", "", "Lua patch script")
		tablePath  = flag.String("wavetable", "", "WAV file imported into wavetable slot 0")
		waveLen    = flag.Int("wave-len", 256, "samples per wave for -wavetable")
		samplePath = flag.String("sample", "", "WAV file loaded into sample slot 0")
		seed       = flag.Uint64("seed", 1, "random seed")
	)
	flag.Parse()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *bits != 16 && *bits != 24 && *bits != 32 {
		log.Fatalf("invalid -bits %d (expected 16|24|32)", *bits)
	}
	if *outPath == "-" {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			log.Fatal("refusing to write WAV data to a terminal")
		}
		if *bits != 32 {
			log.Fatal("stdout output needs -bits 32")
		}
	}

	pl, err := wtsynth.NewPlayer(*sampleRate, wtsynth.WithLogger(logger), wtsynth.WithSeed(*seed))
	if err != nil {
		log.Fatal(err)
	}
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
		if err := pl.LoadPatchScript(context.Background(), *patchPath); err != nil {
			log.Fatal(err)
		}
	}

	inst := pl.Instrument()
	var samples []float32
	if *midiPath != "" {
		score, err := intseq.LoadSMFFile(*midiPath)
		if err != nil {
			log.Fatal(err)
		}
		length := *seconds
		if length <= 0 {
			length = float64(score.Length)/1e6 + *tail
		}
		samples = wtsynth.RenderWith(inst, score, length)
	} else {
		length := *seconds
		if length <= 0 {
			length = 1 + *tail
		}
		var notes []wtsynth.NoteSpec
		for i, key := range []int{60, 64, 67} {
			notes = append(notes, wtsynth.NoteSpec{
				Note:     voice.Note{Freq: wtsynth.MIDIToFreq(key), Velocity: 0.8, Pan: float64(i-1) * 0.5},
				Start:    float64(i) * 0.05,
				Duration: 1,
			})
		}
		samples, err = wtsynth.RenderNotes(context.Background(), inst.Snapshot(), inst.Bank(), *sampleRate, notes, length)
		if err != nil {
			log.Fatal(err)
		}
	}

	if err := write(*outPath, samples, *sampleRate, *bits); err != nil {
		log.Fatal(err)
	}
	logger.Info("rendered", "out", *outPath, "frames", len(samples)/2, "bits", *bits)
}

func write(path string, samples []float32, sampleRate, bits int) (err error) {
	if path == "-" {
		w := bufio.NewWriter(os.Stdout)
		if err := wtsynth.WriteWAVFloat32(w, samples, sampleRate, 2); err != nil {
			return err
		}
		return w.Flush()
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	if bits == 32 {
		w := bufio.NewWriter(f)
		if err := wtsynth.WriteWAVFloat32(w, samples, sampleRate, 2); err != nil {
			return err
		}
		return w.Flush()
	}
	return wtsynth.WriteWAV(f, samples, sampleRate, bits)
}
