// Package voice is the per-note synthesis kernel. A Voice turns the current
// parameter snapshot and waveform bank into one stereo frame per call.
//
// Each output frame runs the stages in a fixed order: modulation matrix,
// main oscillators, sub oscillators, sample oscillators, filter bank,
// mixdown, then rollback of every field the modulation matrix touched. With
// oversampling the whole sequence repeats at the multiplied rate and only the
// final frame is kept.
//
// Nothing on the Render path allocates, locks or returns an error.
package voice

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/cbegin/wtsynth-go/internal/params"
	"github.com/cbegin/wtsynth-go/internal/wavestore"
)

// Note is the per-note input of a voice.
type Note struct {
	Freq     float64 // fundamental, Hz
	Velocity float64 // [0, 1]
	Pan      float64 // [-1, 1]
	Offset   int     // frame offset into the block the note starts in
}

// defaultBank stands in for a nil bank. Banks are never mutated once built,
// so one copy is shared.
var defaultBank = sync.OnceValue(wavestore.NewBank)

// Voice owns all per-note state. It is reused across notes through Start.
type Voice struct {
	baseRate      float64
	maxOversample int
	rate          float64 // internal rate, baseRate * (oversample+1)

	note      Note
	humanizer float64
	rng       *rand.Rand

	src  *params.Snapshot // authoritative
	work params.Snapshot  // modulated copy, restored every sample
	bank *wavestore.Bank

	main   [params.NumMain]mainState
	sub    [params.NumSub]subState
	sample [params.NumSample]sampleState
	filter [params.NumFilter]filterState

	mainOut    [params.NumMain]float64
	mainEnv    [params.NumMain]float64
	mainFresh  [params.NumMain]bool
	subOut     [params.NumSub]float64
	subEnv     [params.NumSub]float64
	subFresh   [params.NumSub]bool
	sampleOut  [params.NumSample]float64
	filterOut  [params.NumFilter]float64
	filterPrev [params.NumFilter]float64
	filterAcc  [params.NumFilter]float64

	macroOffset [params.NumMacro]float64

	journal journal
}

// New allocates a voice for the given output rate. Feedback delay lines are
// pre-sized for the lowest supported pitch at the highest internal rate the
// voice will run at.
func New(sampleRate float64, maxOversample int, seed uint64) *Voice {
	maxOversample = clamp(maxOversample, 0, params.MaxOversample)
	v := &Voice{
		baseRate:      sampleRate,
		maxOversample: maxOversample,
		rate:          sampleRate,
		rng:           rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	ringLen := int(math.Ceil(sampleRate*float64(maxOversample+1)/minFeedbackHz)) + 1
	for i := range v.filter {
		v.filter[i].ring = make([]float64, ringLen)
	}
	return v
}

// Start resets the voice for a new note. Per-note random values are drawn
// here and nowhere else. A nil bank plays the default sine bank.
func (v *Voice) Start(n Note, snap *params.Snapshot, bank *wavestore.Bank) {
	if bank == nil {
		bank = defaultBank()
	}
	v.note = n
	v.src = snap
	v.work = *snap
	v.bank = bank
	v.humanizer = v.rng.Float64()*2 - 1
	v.rate = v.internalRate()

	v.mainOut = [params.NumMain]float64{}
	v.mainEnv = [params.NumMain]float64{}
	v.mainFresh = [params.NumMain]bool{}
	v.subOut = [params.NumSub]float64{}
	v.subEnv = [params.NumSub]float64{}
	v.subFresh = [params.NumSub]bool{}
	v.sampleOut = [params.NumSample]float64{}
	v.filterOut = [params.NumFilter]float64{}
	v.filterPrev = [params.NumFilter]float64{}
	v.filterAcc = [params.NumFilter]float64{}
	v.macroOffset = [params.NumMacro]float64{}
	v.journal.reset()

	for i := range v.main {
		v.startMain(i)
	}
	for i := range v.sub {
		v.sub[i] = subState{dir: 1}
	}
	for i := range v.sample {
		v.startSample(i)
	}
	for i := range v.filter {
		v.filter[i].reset()
	}
}

// Render produces one output frame. snap is the currently published snapshot;
// the work copy is refreshed when it changes.
func (v *Voice) Render(snap *params.Snapshot) (float64, float64) {
	if snap != nil && snap != v.src {
		v.src = snap
		v.work = *snap
	}
	v.rate = v.internalRate()
	var l, r float64
	for n := v.oversample(); n >= 0; n-- {
		l, r = v.tick()
	}
	return l, r
}

// SetBank swaps the waveform bank of a sounding voice. nil is ignored.
func (v *Voice) SetBank(b *wavestore.Bank) {
	if b != nil {
		v.bank = b
	}
}

// SetMacroOffsets sets the automation offsets added to the macro sources.
func (v *Voice) SetMacroOffsets(off [params.NumMacro]float64) { v.macroOffset = off }

func (v *Voice) Note() Note        { return v.note }
func (v *Voice) Humanizer() float64 { return v.humanizer }

// Internal accessors, mostly for tests and visualizers.
func (v *Voice) Work() *params.Snapshot     { return &v.work }
func (v *Voice) MainOutput(i int) float64   { return v.mainOut[i%params.NumMain] }
func (v *Voice) MainEnvelope(i int) float64 { return v.mainEnv[i%params.NumMain] }
func (v *Voice) MainWrapped(i int) bool     { return v.mainFresh[i%params.NumMain] }
func (v *Voice) SubOutput(i int) float64    { return v.subOut[i%params.NumSub] }
func (v *Voice) SubWrapped(i int) bool      { return v.subFresh[i%params.NumSub] }
func (v *Voice) FilterOutput(i int) float64 { return v.filterOut[i%params.NumFilter] }

// InternalRate is the rate the stages currently run at.
func (v *Voice) InternalRate() float64 { return v.rate }

func (v *Voice) oversample() int { return clamp(v.work.Oversample, 0, v.maxOversample) }

func (v *Voice) internalRate() float64 { return v.baseRate * float64(v.oversample()+1) }

// tick evaluates every stage once at the internal rate.
func (v *Voice) tick() (float64, float64) {
	v.filterAcc = [params.NumFilter]float64{}
	v.modulate()

	var l, r float64
	v.renderMain(&l, &r)
	v.renderSub(&l, &r)
	v.renderSample(&l, &r)
	v.renderFilters(&l, &r)

	v.journal.rollback()
	return l, r
}
