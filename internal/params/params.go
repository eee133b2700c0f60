// Package params holds the Parameter Snapshot: the flat per-slot control
// values read by every voice of the instrument.
//
// A Snapshot is never mutated once published. The control thread clones the
// current snapshot, edits the clone, calls Sync and publishes it with an
// atomic pointer store; voices keep their own work copy.
package params

import "golang.org/x/exp/constraints"

// Slot family capacities. Indices are stable for the life of an instrument.
const (
	NumMain   = 8
	NumSub    = 64
	NumSample = 8
	NumFilter = 8
	NumMod    = 64
	NumMacro  = 8

	MaxUnison     = 32
	MaxSlope      = 8
	MaxOversample = 7

	// DefaultWaveLen is the single-cycle length used when nothing else is set.
	DefaultWaveLen = 2048
	// MaxWaveLen bounds waveLen for every table.
	MaxWaveLen = 1 << 16
	// MorphMax is the highest morph index of a 256-slot table.
	MorphMax = 254
)

type ModifyMode uint8

const (
	ModifyNone ModifyMode = iota
	ModifyPulseWidth
	ModifyPowerRight
	ModifyPowerLeft
	ModifyPowerSquish
	ModifyPowerStretch
	ModifyCutLeft
	ModifyCutRight
	ModifySquarify
	ModifyPulsify
	NumModifyModes
)

var modifyNames = [NumModifyModes]string{
	"none", "pulsewidth", "powerright", "powerleft", "powersquish",
	"powerstretch", "cutleft", "cutright", "squarify", "pulsify",
}

func (m ModifyMode) String() string {
	if m < NumModifyModes {
		return modifyNames[m]
	}
	return "invalid"
}

// ParseModifyMode maps a mode name back to its value.
func ParseModifyMode(name string) (ModifyMode, bool) {
	for i, n := range modifyNames {
		if n == name {
			return ModifyMode(i), true
		}
	}
	return ModifyNone, false
}

type FilterType uint8

const (
	FilterLowpass FilterType = iota
	FilterHighpass
	FilterBandpass
	FilterLowShelf
	FilterHighShelf
	FilterPeak
	FilterNotch
	FilterAllpass
	FilterMoog
	NumFilterTypes
)

var filterNames = [NumFilterTypes]string{
	"lowpass", "highpass", "bandpass", "lowshelf", "highshelf",
	"peak", "notch", "allpass", "moog",
}

func (f FilterType) String() string {
	if f < NumFilterTypes {
		return filterNames[f]
	}
	return "invalid"
}

func ParseFilterType(name string) (FilterType, bool) {
	for i, n := range filterNames {
		if n == name {
			return FilterType(i), true
		}
	}
	return FilterLowpass, false
}

// Combine selects how a modulation slot merges its two curved inputs.
type Combine uint8

const (
	CombineBiAdd Combine = iota
	CombineBiMul
	CombineUniAdd
	CombineUniMul
	NumCombines
)

var combineNames = [NumCombines]string{"biadd", "bimul", "uniadd", "unimul"}

func (c Combine) String() string {
	if c < NumCombines {
		return combineNames[c]
	}
	return "invalid"
}

func ParseCombine(name string) (Combine, bool) {
	for i, n := range combineNames {
		if n == name {
			return Combine(i), true
		}
	}
	return CombineBiAdd, false
}

// Bidirectional reports whether inputs are treated as bipolar [-1, 1].
func (c Combine) Bidirectional() bool { return c == CombineBiAdd || c == CombineBiMul }

// Multiplies reports whether the two inputs are multiplied rather than added.
func (c Combine) Multiplies() bool { return c == CombineBiMul || c == CombineUniMul }

// MainOsc is one wavetable oscillator slot.
type MainOsc struct {
	Enabled bool
	Mute    bool

	Morph      float64 // waveform index, [0, MorphMax]
	Range      float64 // blend half-width in waveform slots
	Modify     float64 // [0, waveLen-1]
	ModifyMode ModifyMode
	Detune     float64 // semitones
	Phase      float64 // percent of a cycle
	PhaseRand  float64 // percent of a cycle, drawn per note
	Volume     float64
	Pan        float64

	UnisonVoices int
	UnisonDetune float64 // cents
	UnisonMorph  float64
	UnisonModify float64
	UnisonPan    float64

	AddTail int // silent samples appended to each cycle
}

// SubOsc is a single-cycle auxiliary oscillator slot.
type SubOsc struct {
	Enabled bool
	Mute    bool

	Wave      int
	Detune    float64
	Keytrack  bool
	TempoSync bool
	Tempo     float64 // BPM
	Phase     float64
	Volume    float64
	Pan       float64
	Noise     bool
	RateLimit float64 // samples to traverse full scale, 0 disables
}

// SampleOsc plays an imported stereo buffer.
type SampleOsc struct {
	Enabled bool
	Mute    bool

	Sample    int
	Start     float64
	End       float64
	Loop      bool
	UseGraph  bool
	Detune    float64
	Keytrack  bool
	Phase     float64
	PhaseRand float64
	Volume    float64
	Pan       float64
}

// Filter is one slot of the filter bank.
type Filter struct {
	Enabled bool
	Mute    bool

	Type       FilterType
	Slope      int
	Cutoff     float64 // Hz
	Resonance  float64 // [0, 1]
	Gain       float64 // dB, shelf and peak types only
	Saturation float64 // [0, 1]
	Balance    float64 // wet amount
	Feedback   float64 // percent
	Keytrack   bool
	Detune     float64 // feedback delay pitch, semitones
	Pan        float64
	Input      Source
}

// ModSlot is one routing entry of the modulation matrix.
type ModSlot struct {
	Enabled bool

	A, B             Source
	AmountA, AmountB float64
	CurveA, CurveB   float64
	Combine          Combine
	Target           Target
}

// Snapshot is the complete control state of an instrument.
type Snapshot struct {
	Main   [NumMain]MainOsc
	Sub    [NumSub]SubOsc
	Sample [NumSample]SampleOsc
	Filter [NumFilter]Filter
	Mod    [NumMod]ModSlot
	Macro  [NumMacro]float64

	Oversample int
	Gain       float64
	Attack     float64 // seconds
	Decay      float64
	Sustain    float64 // level
	Release    float64

	mainTop, subTop, sampleTop, filterTop, modTop int
}

// Default returns a snapshot with one plain oscillator enabled.
func Default() *Snapshot {
	s := &Snapshot{
		Gain:    0.5,
		Attack:  0.005,
		Decay:   0.1,
		Sustain: 0.8,
		Release: 0.2,
	}
	for i := range s.Main {
		s.Main[i] = MainOsc{Range: 1, Volume: 1, UnisonVoices: 1, UnisonPan: 1}
	}
	s.Main[0].Enabled = true
	for i := range s.Sub {
		s.Sub[i] = SubOsc{Keytrack: true, Tempo: 120, Volume: 1}
	}
	for i := range s.Sample {
		s.Sample[i] = SampleOsc{Sample: i, End: 1, Volume: 1}
	}
	for i := range s.Filter {
		s.Filter[i] = Filter{Slope: 1, Cutoff: 1000, Balance: 1, Keytrack: true}
	}
	for i := range s.Mod {
		s.Mod[i] = ModSlot{AmountA: 1, AmountB: 1, CurveA: 1, CurveB: 1}
	}
	s.Sync()
	return s
}

// Clone returns an independent copy suitable for editing.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	return &c
}

// Sync clamps every field into range and recomputes the enabled counters.
// Call it before publishing an edited snapshot.
func (s *Snapshot) Sync() {
	for i := range s.Main {
		m := &s.Main[i]
		m.UnisonVoices = clamp(m.UnisonVoices, 1, MaxUnison)
		m.AddTail = clamp(m.AddTail, 0, MaxWaveLen)
		if m.ModifyMode >= NumModifyModes {
			m.ModifyMode = ModifyNone
		}
	}
	for i := range s.Sub {
		if s.Sub[i].Wave < 0 {
			s.Sub[i].Wave = 0
		}
	}
	for i := range s.Sample {
		if s.Sample[i].Sample < 0 {
			s.Sample[i].Sample = 0
		}
	}
	for i := range s.Filter {
		f := &s.Filter[i]
		f.Slope = clamp(f.Slope, 1, MaxSlope)
		if f.Type >= NumFilterTypes {
			f.Type = FilterLowpass
		}
	}
	for i := range s.Mod {
		if s.Mod[i].Combine >= NumCombines {
			s.Mod[i].Combine = CombineBiAdd
		}
	}
	for f := Field(1); f < NumFields; f++ {
		spec := fieldSpecs[f]
		n := spec.Family.Capacity()
		for slot := 0; slot < n; slot++ {
			p := s.Ptr(Target{Field: f, Index: uint8(slot)})
			if p == nil {
				continue
			}
			if *p != *p { // NaN
				*p = spec.Min
			}
			*p = clamp(*p, spec.Min, spec.Max)
		}
	}
	s.Oversample = clamp(s.Oversample, 0, MaxOversample)
	s.Gain = clamp(s.Gain, 0, 4)
	s.Sustain = clamp(s.Sustain, 0, 1)
	s.recount()
}

func (s *Snapshot) recount() {
	s.mainTop, s.subTop, s.sampleTop, s.filterTop, s.modTop = 0, 0, 0, 0, 0
	for i := range s.Main {
		if s.Main[i].Enabled {
			s.mainTop = i + 1
		}
	}
	for i := range s.Sub {
		if s.Sub[i].Enabled {
			s.subTop = i + 1
		}
	}
	for i := range s.Sample {
		if s.Sample[i].Enabled {
			s.sampleTop = i + 1
		}
	}
	for i := range s.Filter {
		if s.Filter[i].Enabled {
			s.filterTop = i + 1
		}
	}
	for i := range s.Mod {
		if s.Mod[i].Enabled {
			s.modTop = i + 1
		}
	}
}

// Top counters: one past the highest enabled slot of each family.
func (s *Snapshot) MainTop() int   { return s.mainTop }
func (s *Snapshot) SubTop() int    { return s.subTop }
func (s *Snapshot) SampleTop() int { return s.sampleTop }
func (s *Snapshot) FilterTop() int { return s.filterTop }
func (s *Snapshot) ModTop() int    { return s.modTop }

func (s *Snapshot) SetMainEnabled(i int, on bool) {
	s.Main[i%NumMain].Enabled = on
	s.recount()
}

func (s *Snapshot) SetSubEnabled(i int, on bool) {
	s.Sub[i%NumSub].Enabled = on
	s.recount()
}

func (s *Snapshot) SetSampleEnabled(i int, on bool) {
	s.Sample[i%NumSample].Enabled = on
	s.recount()
}

func (s *Snapshot) SetFilterEnabled(i int, on bool) {
	s.Filter[i%NumFilter].Enabled = on
	s.recount()
}

func (s *Snapshot) SetModEnabled(i int, on bool) {
	s.Mod[i%NumMod].Enabled = on
	s.recount()
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
