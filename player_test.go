package wtsynth

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	intseq "github.com/cbegin/wtsynth-go/internal/sequencer"
	"github.com/cbegin/wtsynth-go/internal/wavestore"
)

func TestNewPlayerRejectsBadRate(t *testing.T) {
	if _, err := NewPlayer(0); err == nil {
		t.Fatal("expected error")
	}
}

func TestPlayerMasterVolumeRuntimeAPI(t *testing.T) {
	pl, err := NewPlayer(48000)
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	base := pl.Instrument().MasterGain()
	if got := pl.MasterVolume(); got != 1 {
		t.Fatalf("default master volume = %v, want 1", got)
	}
	pl.SetMasterVolume(0.35)
	if got := pl.MasterVolume(); got != 0.35 {
		t.Fatalf("master volume = %v, want 0.35", got)
	}
	if got := pl.Instrument().MasterGain(); got != base*0.35 {
		t.Fatalf("instrument gain = %v, want %v", got, base*0.35)
	}
	pl.SetMasterVolume(-2)
	if got := pl.MasterVolume(); got != 0 {
		t.Fatalf("master volume should clamp to 0, got %v", got)
	}
}

func TestPlayerLoadPatchScript(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	pl, err := NewPlayer(48000, WithLogger(logger), WithPolyphony(4), WithSeed(9))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "patch.lua")
	src := `
		main(0, {morph = 40, unison = 3})
		macro(2, 0.3, {depth = 0.1, rate = 4, wave = "triangle"})
	`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := pl.LoadPatchScript(context.Background(), path); err != nil {
		t.Fatalf("LoadPatchScript: %v", err)
	}
	snap := pl.Instrument().Snapshot()
	if snap.Main[0].Morph != 40 || snap.Main[0].UnisonVoices != 3 || snap.Macro[2] != 0.3 {
		t.Fatalf("patch not published: %+v macro %v", snap.Main[0], snap.Macro)
	}
	if !strings.Contains(logs.String(), "loaded patch script") {
		t.Fatalf("missing log line, got %q", logs.String())
	}
}

func writeWAV(t *testing.T, frames, channels int, fn func(i int) int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	data := make([]int, frames*channels)
	for i := range data {
		data[i] = fn(i)
	}
	enc := wav.NewEncoder(f, 48000, 16, channels, 1)
	if err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: 48000},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPlayerLoadWaveforms(t *testing.T) {
	pl, err := NewPlayer(48000)
	if err != nil {
		t.Fatal(err)
	}
	path := writeWAV(t, 1024, 1, func(i int) int { return (i % 64) * 256 })
	if err := pl.LoadWavetable(3, path, 64); err != nil {
		t.Fatalf("LoadWavetable: %v", err)
	}
	if got := pl.Instrument().Bank().Table(3).WaveLen(); got != 64 {
		t.Fatalf("waveLen = %d", got)
	}
	if err := pl.LoadSample(1, path); err != nil {
		t.Fatalf("LoadSample: %v", err)
	}
	if got := pl.Instrument().Bank().Sample(1).Frames(); got != 1024 {
		t.Fatalf("sample frames = %d", got)
	}
	if err := pl.LoadWavetable(wavestore.NumTables, path, 64); err == nil {
		t.Fatal("out-of-range table slot accepted")
	}
	if err := pl.LoadSample(0, filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestLateEndEventLeavesNewRunOpen(t *testing.T) {
	pl, err := NewPlayer(48000)
	if err != nil {
		t.Fatal(err)
	}
	events := pl.Watch()
	first := newPlayback()
	pl.begin(first)
	src := &source{inst: pl.Instrument()}
	onEvent := pl.sequenceEvents(src, first)

	second := newPlayback()
	pl.begin(second)
	select {
	case <-first.ch:
	default:
		t.Fatal("replaced run still open")
	}

	onEvent(intseq.EventPlaybackEnded)
	onEvent(intseq.EventPlaybackEnded) // closing twice must not panic
	if !src.Finished() {
		t.Fatal("source not marked finished")
	}
	select {
	case <-second.ch:
		t.Fatal("end of the first run closed the second")
	default:
	}
	if pl.done.Load() != second {
		t.Fatal("second run is no longer current")
	}
	if ev := <-events; ev.Kind != EventPlaybackEnded {
		t.Fatalf("event = %d, want EventPlaybackEnded", ev.Kind)
	}

	onEvent = pl.sequenceEvents(src, second)
	onEvent(intseq.EventPlaybackEnded)
	pl.Wait() // returns once the current run has ended
	if pl.done.Load() != nil {
		t.Fatal("ended run still current")
	}
}
