package params

import (
	"fmt"
	"strconv"
	"strings"
)

// Family identifies one of the slot families a modulation target lives in.
type Family uint8

const (
	FamilyNone Family = iota
	FamilyMain
	FamilySub
	FamilySample
	FamilyFilter
	FamilyMod
	FamilyMacro
)

// Capacity is the number of slots in the family.
func (f Family) Capacity() int {
	switch f {
	case FamilyMain:
		return NumMain
	case FamilySub:
		return NumSub
	case FamilySample:
		return NumSample
	case FamilyFilter:
		return NumFilter
	case FamilyMod:
		return NumMod
	case FamilyMacro:
		return NumMacro
	}
	return 0
}

type SourceKind uint8

const (
	SourceNone SourceKind = iota
	SourceMainOsc
	SourceMainOscEnv
	SourceSubOsc
	SourceSubOscEnv
	SourceSampleOsc
	SourceFilter
	SourceVelocity
	SourcePanning
	SourceHumanizer
	SourceMacro
	NumSourceKinds
)

var sourceNames = [NumSourceKinds]string{
	"none", "main", "mainenv", "sub", "subenv", "sample",
	"filter", "velocity", "panning", "humanizer", "macro",
}

func (k SourceKind) String() string {
	if k < NumSourceKinds {
		return sourceNames[k]
	}
	return "invalid"
}

func ParseSourceKind(name string) (SourceKind, bool) {
	for i, n := range sourceNames {
		if n == name {
			return SourceKind(i), true
		}
	}
	return SourceNone, false
}

func (k SourceKind) capacity() int {
	switch k {
	case SourceMainOsc, SourceMainOscEnv:
		return NumMain
	case SourceSubOsc, SourceSubOscEnv:
		return NumSub
	case SourceSampleOsc:
		return NumSample
	case SourceFilter:
		return NumFilter
	case SourceMacro:
		return NumMacro
	}
	return 1
}

// Source names a modulation or filter input.
type Source struct {
	Kind  SourceKind
	Index uint8
}

// Slot returns the index reduced into the kind's capacity.
func (s Source) Slot() int { return int(s.Index) % s.Kind.capacity() }

func (s Source) String() string {
	if s.Kind.capacity() == 1 {
		return s.Kind.String()
	}
	return fmt.Sprintf("%s[%d]", s.Kind, s.Slot())
}

func MainOut(i int) Source    { return Source{Kind: SourceMainOsc, Index: uint8(i)} }
func MainEnv(i int) Source    { return Source{Kind: SourceMainOscEnv, Index: uint8(i)} }
func SubOut(i int) Source     { return Source{Kind: SourceSubOsc, Index: uint8(i)} }
func SubEnv(i int) Source     { return Source{Kind: SourceSubOscEnv, Index: uint8(i)} }
func SampleOut(i int) Source  { return Source{Kind: SourceSampleOsc, Index: uint8(i)} }
func FilterOut(i int) Source  { return Source{Kind: SourceFilter, Index: uint8(i)} }
func MacroValue(i int) Source { return Source{Kind: SourceMacro, Index: uint8(i)} }

var (
	Velocity  = Source{Kind: SourceVelocity}
	Panning   = Source{Kind: SourcePanning}
	Humanizer = Source{Kind: SourceHumanizer}
)

// Field is an addressable modulation target field.
type Field uint8

const (
	FieldNone Field = iota

	MainMorph
	MainRange
	MainModify
	MainDetune
	MainPhase
	MainVolume
	MainPan
	MainUnisonDetune
	MainUnisonMorph
	MainUnisonModify
	MainUnisonPan

	SubDetune
	SubTempo
	SubPhase
	SubVolume
	SubPan
	SubRateLimit

	SampleStart
	SampleEnd
	SampleDetune
	SamplePhase
	SampleVolume
	SamplePan

	FilterCutoff
	FilterResonance
	FilterGain
	FilterSaturation
	FilterBalance
	FilterFeedback
	FilterDetune
	FilterPan
	FilterInput

	ModAmountA
	ModAmountB
	ModCurveA
	ModCurveB

	Macro

	NumFields
)

// ApplyMode says how a modulation value lands on a field.
type ApplyMode uint8

const (
	// ApplyAdd adds a bounded delta to the knob value.
	ApplyAdd ApplyMode = iota
	// ApplyReplace maps the modulation value onto the field range.
	ApplyReplace
	// ApplyAccumulate adds the raw value into a per-sample accumulator.
	ApplyAccumulate
)

// FieldSpec describes the range of a target field. Span is the delta applied
// at full positive unidirectional modulation.
type FieldSpec struct {
	Name   string
	Family Family
	Min    float64
	Max    float64
	Span   float64
	Apply  ApplyMode
}

var fieldSpecs = [NumFields]FieldSpec{
	MainMorph:        {"main.morph", FamilyMain, 0, MorphMax, MorphMax, ApplyAdd},
	MainRange:        {"main.range", FamilyMain, 0, 255, 255, ApplyAdd},
	MainModify:       {"main.modify", FamilyMain, 0, MaxWaveLen - 1, DefaultWaveLen, ApplyAdd},
	MainDetune:       {"main.detune", FamilyMain, -48, 48, 24, ApplyAdd},
	MainPhase:        {"main.phase", FamilyMain, 0, 100, 100, ApplyAdd},
	MainVolume:       {"main.volume", FamilyMain, 0, 1, 1, ApplyAdd},
	MainPan:          {"main.pan", FamilyMain, -1, 1, 2, ApplyAdd},
	MainUnisonDetune: {"main.unisondetune", FamilyMain, 0, 100, 100, ApplyAdd},
	MainUnisonMorph:  {"main.unisonmorph", FamilyMain, 0, 255, 255, ApplyAdd},
	MainUnisonModify: {"main.unisonmodify", FamilyMain, 0, MaxWaveLen - 1, DefaultWaveLen, ApplyAdd},
	MainUnisonPan:    {"main.unisonpan", FamilyMain, 0, 1, 1, ApplyAdd},

	SubDetune:    {"sub.detune", FamilySub, -48, 48, 24, ApplyAdd},
	SubTempo:     {"sub.tempo", FamilySub, 1, 999, 240, ApplyAdd},
	SubPhase:     {"sub.phase", FamilySub, 0, 100, 100, ApplyAdd},
	SubVolume:    {"sub.volume", FamilySub, 0, 1, 1, ApplyAdd},
	SubPan:       {"sub.pan", FamilySub, -1, 1, 2, ApplyAdd},
	SubRateLimit: {"sub.ratelimit", FamilySub, 0, 10000, 1000, ApplyAdd},

	SampleStart:  {"sample.start", FamilySample, 0, 1, 1, ApplyAdd},
	SampleEnd:    {"sample.end", FamilySample, 0, 1, 1, ApplyAdd},
	SampleDetune: {"sample.detune", FamilySample, -48, 48, 24, ApplyAdd},
	SamplePhase:  {"sample.phase", FamilySample, 0, 100, 100, ApplyAdd},
	SampleVolume: {"sample.volume", FamilySample, 0, 1, 1, ApplyAdd},
	SamplePan:    {"sample.pan", FamilySample, -1, 1, 2, ApplyAdd},

	FilterCutoff:     {"filter.cutoff", FamilyFilter, 10, 22000, 10000, ApplyAdd},
	FilterResonance:  {"filter.resonance", FamilyFilter, 0, 1, 1, ApplyAdd},
	FilterGain:       {"filter.gain", FamilyFilter, -24, 24, 24, ApplyAdd},
	FilterSaturation: {"filter.saturation", FamilyFilter, 0, 1, 1, ApplyAdd},
	FilterBalance:    {"filter.balance", FamilyFilter, 0, 1, 1, ApplyAdd},
	FilterFeedback:   {"filter.feedback", FamilyFilter, 0, 100, 100, ApplyAdd},
	FilterDetune:     {"filter.detune", FamilyFilter, -48, 48, 24, ApplyAdd},
	FilterPan:        {"filter.pan", FamilyFilter, -1, 1, 2, ApplyAdd},
	FilterInput:      {"filter.input", FamilyFilter, -1, 1, 1, ApplyAccumulate},

	ModAmountA: {"mod.amounta", FamilyMod, -1, 1, 1, ApplyAdd},
	ModAmountB: {"mod.amountb", FamilyMod, -1, 1, 1, ApplyAdd},
	ModCurveA:  {"mod.curvea", FamilyMod, 0.001, 16, 4, ApplyAdd},
	ModCurveB:  {"mod.curveb", FamilyMod, 0.001, 16, 4, ApplyAdd},

	Macro: {"macro", FamilyMacro, 0, 1, 1, ApplyReplace},
}

// Spec returns the field's range description.
func (f Field) Spec() FieldSpec {
	if f < NumFields {
		return fieldSpecs[f]
	}
	return FieldSpec{}
}

func (f Field) String() string {
	if s := f.Spec(); s.Name != "" {
		return s.Name
	}
	return "none"
}

// splitIndexed splits "name[i]" into its parts. A bare name has index 0.
func splitIndexed(s string) (string, int, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '[')
	if open < 0 {
		return s, 0, nil
	}
	if !strings.HasSuffix(s, "]") {
		return "", 0, fmt.Errorf("params: malformed index in %q", s)
	}
	i, err := strconv.Atoi(s[open+1 : len(s)-1])
	if err != nil || i < 0 || i > 255 {
		return "", 0, fmt.Errorf("params: bad index in %q", s)
	}
	return s[:open], i, nil
}

// ParseSource is the inverse of Source.String, e.g. "sub[3]" or "velocity".
func ParseSource(s string) (Source, error) {
	name, i, err := splitIndexed(s)
	if err != nil {
		return Source{}, err
	}
	k, ok := ParseSourceKind(name)
	if !ok {
		return Source{}, fmt.Errorf("params: unknown source %q", name)
	}
	return Source{Kind: k, Index: uint8(i)}, nil
}

// ParseTarget is the inverse of Target.String, e.g. "filter.cutoff[0]".
func ParseTarget(s string) (Target, error) {
	name, i, err := splitIndexed(s)
	if err != nil {
		return Target{}, err
	}
	f, ok := ParseField(name)
	if !ok {
		return Target{}, fmt.Errorf("params: unknown field %q", name)
	}
	return Target{Field: f, Index: uint8(i)}, nil
}

// ParseField looks a field up by its dotted name.
func ParseField(name string) (Field, bool) {
	for f := Field(1); f < NumFields; f++ {
		if fieldSpecs[f].Name == name {
			return f, true
		}
	}
	return FieldNone, false
}

// Target addresses one field of one slot.
type Target struct {
	Field Field
	Index uint8
}

// Slot returns the index reduced into the field family's capacity.
func (t Target) Slot() int {
	n := t.Field.Spec().Family.Capacity()
	if n == 0 {
		return 0
	}
	return int(t.Index) % n
}

func (t Target) String() string { return fmt.Sprintf("%s[%d]", t.Field, t.Slot()) }

// Ptr returns the address of the targeted field, or nil for FieldNone and
// the FilterInput pseudo-field which has no snapshot storage.
func (s *Snapshot) Ptr(t Target) *float64 {
	i := t.Slot()
	switch t.Field {
	case MainMorph:
		return &s.Main[i].Morph
	case MainRange:
		return &s.Main[i].Range
	case MainModify:
		return &s.Main[i].Modify
	case MainDetune:
		return &s.Main[i].Detune
	case MainPhase:
		return &s.Main[i].Phase
	case MainVolume:
		return &s.Main[i].Volume
	case MainPan:
		return &s.Main[i].Pan
	case MainUnisonDetune:
		return &s.Main[i].UnisonDetune
	case MainUnisonMorph:
		return &s.Main[i].UnisonMorph
	case MainUnisonModify:
		return &s.Main[i].UnisonModify
	case MainUnisonPan:
		return &s.Main[i].UnisonPan

	case SubDetune:
		return &s.Sub[i].Detune
	case SubTempo:
		return &s.Sub[i].Tempo
	case SubPhase:
		return &s.Sub[i].Phase
	case SubVolume:
		return &s.Sub[i].Volume
	case SubPan:
		return &s.Sub[i].Pan
	case SubRateLimit:
		return &s.Sub[i].RateLimit

	case SampleStart:
		return &s.Sample[i].Start
	case SampleEnd:
		return &s.Sample[i].End
	case SampleDetune:
		return &s.Sample[i].Detune
	case SamplePhase:
		return &s.Sample[i].Phase
	case SampleVolume:
		return &s.Sample[i].Volume
	case SamplePan:
		return &s.Sample[i].Pan

	case FilterCutoff:
		return &s.Filter[i].Cutoff
	case FilterResonance:
		return &s.Filter[i].Resonance
	case FilterGain:
		return &s.Filter[i].Gain
	case FilterSaturation:
		return &s.Filter[i].Saturation
	case FilterBalance:
		return &s.Filter[i].Balance
	case FilterFeedback:
		return &s.Filter[i].Feedback
	case FilterDetune:
		return &s.Filter[i].Detune
	case FilterPan:
		return &s.Filter[i].Pan

	case ModAmountA:
		return &s.Mod[i].AmountA
	case ModAmountB:
		return &s.Mod[i].AmountB
	case ModCurveA:
		return &s.Mod[i].CurveA
	case ModCurveB:
		return &s.Mod[i].CurveB

	case Macro:
		return &s.Macro[i]
	}
	return nil
}
