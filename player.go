// Package wtsynth plays and renders a polyphonic wavetable instrument.
//
// A Player owns one synth.Instrument and streams it to the sound card, either
// driven by a Standard MIDI File or by live NoteOn/NoteOff calls.
package wtsynth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	intaudio "github.com/cbegin/wtsynth-go/internal/audio"
	"github.com/cbegin/wtsynth-go/internal/patchscript"
	"github.com/cbegin/wtsynth-go/internal/scope"
	intseq "github.com/cbegin/wtsynth-go/internal/sequencer"
	"github.com/cbegin/wtsynth-go/internal/synth"
	"github.com/cbegin/wtsynth-go/internal/voice"
	"github.com/cbegin/wtsynth-go/internal/wavestore"
)

// PlaybackEvent carries playback events from Watch().
type PlaybackEvent struct {
	Kind int // EventLoopCompleted or EventPlaybackEnded
}

const (
	EventLoopCompleted int = iota
	EventPlaybackEnded
)

type PlayerOption func(*playerConfig)

type playerConfig struct {
	logger       *slog.Logger
	scope        *scope.Ring
	synth        synth.Params
	loopPlayback bool
	bufferSize   time.Duration
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		logger: slog.New(slog.DiscardHandler),
		synth:  synth.DefaultParams(),
	}
}

// WithLogger routes the player's diagnostics to logger.
func WithLogger(logger *slog.Logger) PlayerOption {
	return func(cfg *playerConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithScope feeds a decimated mono copy of the output into r.
func WithScope(r *scope.Ring) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.scope = r
	}
}

func WithPolyphony(voices int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.synth.Polyphony = voices
	}
}

// WithSeed fixes the per-voice random streams.
func WithSeed(seed uint64) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.synth.Seed = seed
	}
}

func WithLoopPlayback(enabled bool) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.loopPlayback = enabled
	}
}

// WithBufferSize sets the device buffer duration.
func WithBufferSize(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.bufferSize = d
	}
}

type Player struct {
	mu           sync.Mutex
	sampleRate   int
	logger       *slog.Logger
	inst         *synth.Instrument
	audio        *intaudio.Stream
	bufferSize   time.Duration
	baseGain     float64
	volume       float64
	transpose    int
	loopPlayback bool
	done         atomic.Pointer[playback]
	eventCh      chan PlaybackEvent
	eventChMu    sync.Mutex
}

// playback is one Play or Live run. Its channel closes once, when the run
// ends or is replaced.
type playback struct {
	ch   chan struct{}
	once sync.Once
}

func newPlayback() *playback { return &playback{ch: make(chan struct{})} }

func (pb *playback) finish() { pb.once.Do(func() { close(pb.ch) }) }

// begin makes pb the current run and releases waiters on the previous one.
func (p *Player) begin(pb *playback) {
	if old := p.done.Swap(pb); old != nil {
		old.finish()
	}
}

// source is what the audio stream pulls from: a sequencer when a score is
// playing, the bare instrument for live input.
type source struct {
	seq      *intseq.Sequencer
	inst     *synth.Instrument
	finished atomic.Bool
}

func (s *source) Process(dst []float32) {
	if s.seq != nil {
		s.seq.Process(dst)
		return
	}
	s.inst.Process(dst)
}

func (s *source) Finished() bool {
	return s.finished.Load()
}

func NewPlayer(sampleRate int, opts ...PlayerOption) (*Player, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	inst, err := synth.New(sampleRate, cfg.synth)
	if err != nil {
		return nil, err
	}
	inst.SetScope(cfg.scope)
	return &Player{
		sampleRate:   sampleRate,
		logger:       cfg.logger,
		inst:         inst,
		bufferSize:   cfg.bufferSize,
		baseGain:     inst.MasterGain(),
		volume:       1,
		loopPlayback: cfg.loopPlayback,
	}, nil
}

// Instrument exposes the underlying instrument for patch edits and bank
// changes. Its control-side methods are safe while audio is running.
func (p *Player) Instrument() *synth.Instrument { return p.inst }

// LoadPatchScript runs a Lua patch script against the current patch and
// publishes the result.
func (p *Player) LoadPatchScript(ctx context.Context, path string) error {
	res, err := patchscript.RunFile(ctx, p.inst.Snapshot(), path)
	if err != nil {
		return err
	}
	p.inst.Publish(res.Snapshot)
	for i, s := range res.LFOs {
		p.inst.SetMacroLFO(i, s)
	}
	p.logger.Info("loaded patch script", "path", path,
		"main", res.Snapshot.MainTop(), "sub", res.Snapshot.SubTop(),
		"filters", res.Snapshot.FilterTop(), "mods", res.Snapshot.ModTop(),
		"lfos", len(res.LFOs))
	return nil
}

// LoadWavetable imports a WAV file into table slot i, cutting it into
// 256 waveforms of waveLen samples.
func (p *Player) LoadWavetable(i int, path string, waveLen int) error {
	if i < 0 || i >= wavestore.NumTables {
		return fmt.Errorf("wavetable slot %d out of range", i)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	tbl, err := wavestore.TableFromWAV(f, waveLen)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	p.inst.EditBank(func(b *wavestore.Bank) { b.Tables[i] = tbl })
	p.logger.Debug("loaded wavetable", "path", path, "slot", i, "waveLen", tbl.WaveLen())
	return nil
}

// LoadSample imports a WAV file into sample slot i.
func (p *Player) LoadSample(i int, path string) error {
	if i < 0 || i >= wavestore.NumSamples {
		return fmt.Errorf("sample slot %d out of range", i)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	smp, err := wavestore.LoadSampleWAV(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	p.inst.EditBank(func(b *wavestore.Bank) { b.Samples[i] = smp })
	p.logger.Debug("loaded sample", "path", path, "slot", i, "frames", smp.Frames(), "rate", smp.Rate)
	return nil
}

// PlayMIDIFile loads and plays a Standard MIDI File.
func (p *Player) PlayMIDIFile(path string) error {
	score, err := intseq.LoadSMFFile(path)
	if err != nil {
		return err
	}
	p.logger.Info("loaded midi file", "path", path, "events", len(score.Events),
		"seconds", float64(score.Length)/1e6)
	return p.Play(score)
}

// Play starts a score, replacing whatever was playing.
func (p *Player) Play(score *intseq.Score) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pb := newPlayback()
	p.begin(pb)

	src := &source{inst: p.inst}
	src.seq = intseq.NewWithOptions(score, p.inst, p.sampleRate, intseq.Options{
		Loop:      p.loopPlayback,
		OnEvent:   p.sequenceEvents(src, pb),
		Transpose: p.transpose * 12,
	})
	return p.start(src)
}

// sequenceEvents forwards sequencer events for the run pb. It is called on
// the audio thread.
func (p *Player) sequenceEvents(src *source, pb *playback) func(intseq.EventKind) {
	return func(kind intseq.EventKind) {
		if kind == intseq.EventPlaybackEnded {
			src.finished.Store(true)
		}
		p.sendEvent(PlaybackEvent{Kind: int(kind)})
		if kind == intseq.EventPlaybackEnded {
			p.signalDone(pb)
		}
	}
}

// Live starts streaming the instrument with no score, for NoteOn/NoteOff.
func (p *Player) Live() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.begin(newPlayback())
	return p.start(&source{inst: p.inst})
}

// start must be called with p.mu held.
func (p *Player) start(src *source) error {
	// The instrument has a single consumer; the old stream must be gone
	// before the new one starts pulling.
	if p.audio != nil {
		if err := p.audio.Close(); err != nil {
			p.logger.Warn("stopping previous stream", "err", err)
		}
		p.audio = nil
	}
	p.inst.Reset()
	backend, err := intaudio.Open(p.sampleRate, src, p.bufferSize)
	if err != nil {
		return err
	}
	p.audio = backend
	p.audio.Play()
	p.logger.Debug("audio started", "rate", p.sampleRate, "score", src.seq != nil)
	return nil
}

// NoteOn queues a live note. pan is -64..64.
func (p *Player) NoteOn(note, velocity, pan int) (int, error) {
	return p.inst.PostNoteOn(voice.Note{
		Freq:     synth.MIDIToFreq(note + p.Transpose()*12),
		Velocity: float64(velocity) / 127,
		Pan:      float64(pan) / 64,
	})
}

// MIDIToFreq converts a MIDI note number to Hz, A4 = 69 = 440 Hz.
func MIDIToFreq(note int) float64 { return synth.MIDIToFreq(note) }

// NoteOff releases a live note.
func (p *Player) NoteOff(id int) error {
	return p.inst.PostNoteOff(id, 0)
}

func (p *Player) sendEvent(ev PlaybackEvent) {
	p.eventChMu.Lock()
	ch := p.eventCh
	p.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full or closed; drop event
		}
	}
}

// signalDone ends pb only. It runs on the audio thread and never takes p.mu,
// so a replacement run started meanwhile is left alone.
func (p *Player) signalDone(pb *playback) {
	p.done.CompareAndSwap(pb, nil)
	pb.finish()
}

func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		p.audio.Pause()
	}
}

func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		p.audio.Play()
	}
}

func (p *Player) Stop() error {
	p.mu.Lock()
	if p.audio == nil {
		p.mu.Unlock()
		return nil
	}
	err := p.audio.Close()
	p.audio = nil
	pb := p.done.Swap(nil)
	p.mu.Unlock()
	p.sendEvent(PlaybackEvent{Kind: EventPlaybackEnded})
	if pb != nil {
		pb.finish()
	}
	return err
}

// Wait blocks until the current playback ends. When loop playback is enabled,
// Wait blocks indefinitely (use Watch for loop-counting instead).
// Wait returns immediately if no playback is active or if it was stopped.
func (p *Player) Wait() {
	if pb := p.done.Load(); pb != nil {
		<-pb.ch
	}
}

// Watch returns a channel that receives playback events. The channel is
// buffered (cap 8); receive in a goroutine to avoid dropping events.
// Only the most recent Watch() channel receives events; call Watch before Play.
func (p *Player) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 8)
	p.eventChMu.Lock()
	p.eventCh = ch
	p.eventChMu.Unlock()
	return ch
}

// SetMasterVolume sets runtime volume scalar. 1.0 is default.
func (p *Player) SetMasterVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
	p.inst.SetMasterGain(p.baseGain * p.volume)
}

func (p *Player) MasterVolume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetTranspose sets the master octave shift applied to all notes.
// Takes effect on the next Play call and on subsequent live notes.
func (p *Player) SetTranspose(octaves int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transpose = octaves
}

// Transpose returns the current master octave shift.
func (p *Player) Transpose() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transpose
}

// PlaybackPosition returns the current output position of the audio driver,
// i.e. what the listener actually hears right now. Returns 0 if not playing.
func (p *Player) PlaybackPosition() int64 {
	p.mu.Lock()
	a := p.audio
	p.mu.Unlock()
	if a == nil {
		return 0
	}
	pos := a.Position()
	return int64(pos.Seconds() * float64(p.sampleRate))
}
