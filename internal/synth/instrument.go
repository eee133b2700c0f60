// Package synth is the polyphonic wavetable instrument: a pool of
// voice.Voice kernels with amplitude envelopes, voice stealing, macro LFOs
// and a scope tap.
//
// Methods fall into two groups. Process, RenderFrame, NoteOn, Trigger,
// NoteOff, AllNotesOff and Reset belong to the audio thread (a sequencer
// driving the instrument calls them from inside its own Process). Edit,
// Publish, SetBank, EditBank, SetMasterGain, SetMacroLFO, PostNoteOn and
// PostNoteOff may be called from any other goroutine.
package synth

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cbegin/wtsynth-go/internal/lfo"
	"github.com/cbegin/wtsynth-go/internal/params"
	"github.com/cbegin/wtsynth-go/internal/scope"
	"github.com/cbegin/wtsynth-go/internal/voice"
	"github.com/cbegin/wtsynth-go/internal/wavestore"
)

const maxVoices = 64

// ErrQueueFull is returned when the audio thread has fallen behind the
// control thread.
var ErrQueueFull = errors.New("synth: event queue full")

// Params controls the instrument.
type Params struct {
	Polyphony     int
	MaxOversample int // upper bound for Snapshot.Oversample
	MasterGain    float64
	VelocityAmp   float64
	ControlBlock  int // frames between event drains and macro LFO updates
	ScopeDecimate int
	Seed          uint64
}

// DefaultParams returns sensible defaults.
func DefaultParams() Params {
	return Params{
		Polyphony:     16,
		MaxOversample: 3,
		MasterGain:    0.42,
		VelocityAmp:   0.8,
		ControlBlock:  64,
		ScopeDecimate: 4,
		Seed:          1,
	}
}

type envState int

const (
	envAttack envState = iota
	envDecay
	envSustain
	envRelease
	envOff
)

type slot struct {
	v         *voice.Voice
	active    bool
	id        int
	velocity  float64
	env       float64
	envState  envState
	relStep   float64
	delay     int // frames left before the voice sounds
	releaseIn int // frames left before release, -1 when none pending
}

type macroLFOs [params.NumMacro]lfo.Setting

// Instrument implements sequencer.VoiceEngine.
type Instrument struct {
	sampleRate float64
	params     Params
	slots      []slot

	snap atomic.Pointer[params.Snapshot]
	bank atomic.Pointer[wavestore.Bank]
	lfos atomic.Pointer[macroLFOs]

	masterGain atomic.Uint64
	nextID     atomic.Int64
	active     atomic.Int32
	events     queue

	mu sync.Mutex // serializes control-side publishers and queue producers

	// audio thread only
	curBank  *wavestore.Bank
	curLFOs  *macroLFOs
	macro    [params.NumMacro]lfo.LFO
	offsets  [params.NumMacro]float64
	ctrlLeft int
	tap      *scope.Tap
}

// New creates an instrument at the given sample rate with the default patch
// and waveform bank.
func New(sampleRate int, p Params) (*Instrument, error) {
	if sampleRate <= 0 {
		return nil, errors.New("synth: sampleRate must be positive")
	}
	if p.Polyphony <= 0 {
		p.Polyphony = DefaultParams().Polyphony
	}
	if p.Polyphony > maxVoices {
		p.Polyphony = maxVoices
	}
	if p.ControlBlock <= 0 {
		p.ControlBlock = 1
	}
	if p.MaxOversample < 0 {
		p.MaxOversample = 0
	}
	if p.MaxOversample > params.MaxOversample {
		p.MaxOversample = params.MaxOversample
	}
	inst := &Instrument{
		sampleRate: float64(sampleRate),
		params:     p,
		slots:      make([]slot, p.Polyphony),
	}
	for i := range inst.slots {
		inst.slots[i].v = voice.New(inst.sampleRate, p.MaxOversample, p.Seed+uint64(i)*0x9e37)
		inst.slots[i].releaseIn = -1
	}
	for i := range inst.macro {
		inst.macro[i].Seed(p.Seed + uint64(i) + 1)
	}
	inst.snap.Store(params.Default())
	inst.bank.Store(wavestore.NewBank())
	inst.lfos.Store(&macroLFOs{})
	inst.SetMasterGain(p.MasterGain)
	return inst, nil
}

// SampleRate is the output rate in Hz.
func (in *Instrument) SampleRate() int { return int(in.sampleRate) }

// Snapshot returns the published patch. It must not be modified.
func (in *Instrument) Snapshot() *params.Snapshot { return in.snap.Load() }

// Bank returns the published waveform bank. It must not be modified.
func (in *Instrument) Bank() *wavestore.Bank { return in.bank.Load() }

// Edit applies fn to a copy of the published patch and publishes the result.
// Voices pick it up on their next frame.
func (in *Instrument) Edit(fn func(*params.Snapshot)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	c := in.snap.Load().Clone()
	fn(c)
	c.Sync()
	in.snap.Store(c)
}

// Publish replaces the patch with a copy of s.
func (in *Instrument) Publish(s *params.Snapshot) {
	c := s.Clone()
	c.Sync()
	in.mu.Lock()
	in.snap.Store(c)
	in.mu.Unlock()
}

// SetBank publishes a new waveform bank. The caller hands over b and must
// not modify it afterwards.
func (in *Instrument) SetBank(b *wavestore.Bank) {
	if b == nil {
		return
	}
	in.bank.Store(b)
}

// EditBank applies fn to a shallow copy of the published bank. fn must
// replace tables and samples rather than write into shared ones.
func (in *Instrument) EditBank(fn func(*wavestore.Bank)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	c := in.bank.Load().Clone()
	fn(c)
	in.bank.Store(c)
}

// SetMasterGain sets the master gain atomically.
func (in *Instrument) SetMasterGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	in.masterGain.Store(math.Float64bits(gain))
}

// MasterGain returns the current master gain.
func (in *Instrument) MasterGain() float64 {
	return math.Float64frombits(in.masterGain.Load())
}

// SetMacroLFO configures the LFO that offsets macro i.
func (in *Instrument) SetMacroLFO(i int, s lfo.Setting) {
	if i < 0 || i >= params.NumMacro {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	next := *in.lfos.Load()
	next[i] = s
	in.lfos.Store(&next)
}

// SetScope attaches a visualizer ring. Call before audio starts.
func (in *Instrument) SetScope(r *scope.Ring) {
	if r == nil {
		in.tap = nil
		return
	}
	in.tap = scope.NewTap(r, in.params.ScopeDecimate)
}

// PostNoteOn queues a note for the audio thread and returns its id.
func (in *Instrument) PostNoteOn(n voice.Note) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	id := int(in.nextID.Add(1))
	if !in.events.push(Event{Type: EventNoteOn, ID: id, Note: n}) {
		return 0, ErrQueueFull
	}
	return id, nil
}

// PostNoteOff queues a release offset frames into the next control block.
func (in *Instrument) PostNoteOff(id, offset int) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.events.push(Event{Type: EventNoteOff, ID: id, Note: voice.Note{Offset: offset}}) {
		return ErrQueueFull
	}
	return nil
}

// PostAllNotesOff queues a release of every voice.
func (in *Instrument) PostAllNotesOff() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.events.push(Event{Type: EventAllNotesOff}) {
		return ErrQueueFull
	}
	return nil
}

// NoteOn starts a voice for a MIDI note. pan is -64..64.
func (in *Instrument) NoteOn(note int, velocity int, pan int) int {
	return in.Trigger(voice.Note{
		Freq:     MIDIToFreq(note),
		Velocity: clamp(float64(velocity)/127.0, 0, 1),
		Pan:      clamp(float64(pan), -64, 64) / 64,
	})
}

// Trigger starts a voice for n and returns its id.
func (in *Instrument) Trigger(n voice.Note) int {
	id := int(in.nextID.Add(1))
	in.start(id, n)
	return id
}

// NoteOff releases a voice by id.
func (in *Instrument) NoteOff(id int) {
	in.release(id, 0)
}

// AllNotesOff releases every sounding voice.
func (in *Instrument) AllNotesOff() {
	for i := range in.slots {
		s := &in.slots[i]
		if s.active && s.envState < envRelease {
			in.beginRelease(s)
		}
	}
}

// Reset silences every voice and drops queued events. It must not run
// concurrently with Process.
func (in *Instrument) Reset() {
	for i := range in.slots {
		in.slots[i].active = false
		in.slots[i].env = 0
		in.slots[i].envState = envOff
		in.slots[i].releaseIn = -1
	}
	for {
		if _, ok := in.events.pop(); !ok {
			break
		}
	}
	for i := range in.macro {
		in.macro[i].Reset()
	}
	in.ctrlLeft = 0
	in.active.Store(0)
}

// ActiveVoiceCount returns the number of voices that are sounding or
// waiting to start. Safe from any goroutine.
func (in *Instrument) ActiveVoiceCount() int { return int(in.active.Load()) }

// Process renders interleaved stereo frames into dst.
func (in *Instrument) Process(dst []float32) {
	for i := 0; i+1 < len(dst); i += 2 {
		dst[i], dst[i+1] = in.RenderFrame()
	}
}

// RenderFrame produces one stereo sample pair.
func (in *Instrument) RenderFrame() (float32, float32) {
	if in.ctrlLeft <= 0 {
		in.control()
		in.ctrlLeft = in.params.ControlBlock
	}
	in.ctrlLeft--

	snap := in.snap.Load()
	gain := in.MasterGain() * snap.Gain
	var l, r float64
	var n int32
	for i := range in.slots {
		s := &in.slots[i]
		if !s.active {
			continue
		}
		n++
		if s.delay > 0 {
			s.delay--
			continue
		}
		if s.releaseIn >= 0 {
			if s.releaseIn == 0 && s.envState < envRelease {
				in.beginRelease(s)
			}
			s.releaseIn--
		}
		env := in.advanceEnv(s, snap)
		if !s.active {
			n--
			continue
		}
		vl, vr := s.v.Render(snap)
		amp := env * gain * (0.2 + s.velocity*in.params.VelocityAmp)
		l += vl * amp
		r += vr * amp
	}
	in.active.Store(n)
	l = clamp(l, -1, 1)
	r = clamp(r, -1, 1)
	in.tap.Feed(float32((l + r) / 2))
	return float32(l), float32(r)
}

// control runs once per control block on the audio thread.
func (in *Instrument) control() {
	for {
		e, ok := in.events.pop()
		if !ok {
			break
		}
		switch e.Type {
		case EventNoteOn:
			in.start(e.ID, e.Note)
		case EventNoteOff:
			in.release(e.ID, e.Note.Offset)
		case EventAllNotesOff:
			in.AllNotesOff()
		}
	}

	if b := in.bank.Load(); b != in.curBank {
		in.curBank = b
		for i := range in.slots {
			if in.slots[i].active {
				in.slots[i].v.SetBank(b)
			}
		}
	}

	if set := in.lfos.Load(); set != in.curLFOs {
		in.curLFOs = set
		for i := range in.macro {
			in.macro[i].Apply(set[i])
		}
	}
	frames := in.params.ControlBlock
	for i := range in.macro {
		in.offsets[i] = in.macro[i].Value()
		in.macro[i].Advance(frames, in.sampleRate)
	}
	for i := range in.slots {
		if in.slots[i].active {
			in.slots[i].v.SetMacroOffsets(in.offsets)
		}
	}
}

func (in *Instrument) start(id int, n voice.Note) {
	idx := in.stealVoice()
	s := &in.slots[idx]
	n.Velocity = clamp(n.Velocity, 0, 1)
	n.Pan = clamp(n.Pan, -1, 1)
	if n.Offset < 0 {
		n.Offset = 0
	}
	s.v.Start(n, in.snap.Load(), in.bank.Load())
	s.v.SetMacroOffsets(in.offsets)
	s.active = true
	s.id = id
	s.velocity = n.Velocity
	s.env = 0
	s.envState = envAttack
	s.delay = n.Offset
	s.releaseIn = -1
	in.active.Store(int32(in.countActive()))
}

func (in *Instrument) release(id, offset int) {
	for i := range in.slots {
		s := &in.slots[i]
		if !s.active || s.id != id || s.envState >= envRelease {
			continue
		}
		if offset > 0 {
			// Counted from when the voice starts sounding.
			s.releaseIn = offset
			continue
		}
		if s.delay > 0 {
			// Released before it ever sounded.
			s.active = false
			s.envState = envOff
			continue
		}
		in.beginRelease(s)
	}
	in.active.Store(int32(in.countActive()))
}

func (in *Instrument) beginRelease(s *slot) {
	s.envState = envRelease
	s.relStep = s.env * stepFor(in.snap.Load().Release, in.sampleRate)
	s.releaseIn = -1
}

func (in *Instrument) countActive() int {
	n := 0
	for i := range in.slots {
		if in.slots[i].active {
			n++
		}
	}
	return n
}

func (in *Instrument) stealVoice() int {
	for i := range in.slots {
		if !in.slots[i].active {
			return i
		}
	}
	quiet := 0
	minEnv := in.slots[0].env
	for i := 1; i < len(in.slots); i++ {
		if in.slots[i].env < minEnv {
			minEnv = in.slots[i].env
			quiet = i
		}
	}
	return quiet
}

func (in *Instrument) advanceEnv(s *slot, snap *params.Snapshot) float64 {
	sustain := clamp(snap.Sustain, 0, 1)
	switch s.envState {
	case envAttack:
		s.env += stepFor(snap.Attack, in.sampleRate)
		if s.env >= 1 {
			s.env = 1
			s.envState = envDecay
		}
	case envDecay:
		s.env -= (1 - sustain) * stepFor(snap.Decay, in.sampleRate)
		if s.env <= sustain {
			s.env = sustain
			s.envState = envSustain
		}
	case envSustain:
		s.env = sustain
	case envRelease:
		step := s.relStep
		if step <= 0 {
			step = 1
		}
		s.env -= step
		if s.env <= 0.0001 {
			s.env = 0
			s.envState = envOff
			s.active = false
		}
	case envOff:
		s.active = false
		s.env = 0
	}
	return s.env
}

// stepFor is the per-sample increment that covers a unit level in sec
// seconds. Stages shorter than one sample complete immediately.
func stepFor(sec, sampleRate float64) float64 {
	frames := sec * sampleRate
	if !(frames > 1) {
		return 1
	}
	return 1 / frames
}

// MIDIToFreq converts a MIDI note number to Hz, A4 = 69 = 440 Hz.
func MIDIToFreq(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
