package voice

import (
	"math"

	"github.com/cbegin/wtsynth-go/internal/params"
)

// minCurve bounds the curve exponent 1/c.
const minCurve = 1e-3

type journalEntry struct {
	field *float64
	value float64
}

// journal records the original value of every work-copy field the matrix
// writes during one sample so the whole sample can be rolled back.
type journal struct {
	entries [params.NumMod]journalEntry
	n       int
}

func (j *journal) reset() { j.n = 0 }

// touch saves p the first time it is written this sample.
func (j *journal) touch(p *float64) {
	for k := 0; k < j.n; k++ {
		if j.entries[k].field == p {
			return
		}
	}
	if j.n == len(j.entries) {
		return
	}
	j.entries[j.n] = journalEntry{field: p, value: *p}
	j.n++
}

func (j *journal) rollback() {
	for k := j.n - 1; k >= 0; k-- {
		*j.entries[k].field = j.entries[k].value
	}
	j.n = 0
}

// Touched reports how many fields the last evaluated sample modulated. It is
// zero between samples.
func (v *Voice) Touched() int { return v.journal.n }

// shape applies the slot's curve to one input.
func shape(x, c float64, bidirectional bool) float64 {
	if c < minCurve {
		c = minCurve
	}
	x = clamp(x, -1, 1)
	if c == 1 {
		return x
	}
	if bidirectional {
		return 2*math.Pow((x+1)/2, 1/c) - 1
	}
	return sign(x) * math.Pow(math.Abs(x), 1/c)
}

// source returns the current value of a modulation or filter input.
func (v *Voice) source(s params.Source) float64 {
	i := s.Slot()
	switch s.Kind {
	case params.SourceMainOsc:
		return v.mainOut[i]
	case params.SourceMainOscEnv:
		return v.mainEnv[i]
	case params.SourceSubOsc:
		return v.subOut[i]
	case params.SourceSubOscEnv:
		return v.subEnv[i]
	case params.SourceSampleOsc:
		return v.sampleOut[i]
	case params.SourceFilter:
		return v.filterPrev[i]
	case params.SourceVelocity:
		return v.note.Velocity
	case params.SourcePanning:
		return v.note.Pan
	case params.SourceHumanizer:
		return v.humanizer
	case params.SourceMacro:
		return clamp(v.work.Macro[i]+v.macroOffset[i], 0, 1)
	}
	return 0
}

// modulate evaluates every enabled matrix slot in index order. Scratch values
// still hold the previous sample's outputs at this point.
func (v *Voice) modulate() {
	v.filterPrev = v.filterOut
	top := v.work.ModTop()
	for i := 0; i < top; i++ {
		m := &v.work.Mod[i]
		if !m.Enabled || m.Target.Field == params.FieldNone {
			continue
		}
		bi := m.Combine.Bidirectional()
		a := shape(v.source(m.A)*m.AmountA, m.CurveA, bi)

		var out float64
		if m.B.Kind == params.SourceNone {
			out = a
		} else {
			b := shape(v.source(m.B)*m.AmountB, m.CurveB, bi)
			if m.Combine.Multiplies() {
				out = a * b
			} else {
				out = a + b
			}
		}
		v.apply(m.Target, clamp(out, -1, 1), bi)
	}
}

func (v *Voice) apply(t params.Target, m float64, bidirectional bool) {
	spec := t.Field.Spec()
	switch spec.Apply {
	case params.ApplyAccumulate:
		v.filterAcc[t.Slot()] += m
		return
	case params.ApplyReplace:
		p := v.work.Ptr(t)
		if p == nil {
			return
		}
		v.journal.touch(p)
		if bidirectional {
			*p = spec.Min + (m+1)/2*(spec.Max-spec.Min)
		} else {
			*p = spec.Min + clamp(m, 0, 1)*(spec.Max-spec.Min)
		}
		return
	}
	p := v.work.Ptr(t)
	if p == nil {
		return
	}
	v.journal.touch(p)
	delta := m * spec.Span
	if bidirectional {
		delta /= 2
	}
	*p = clamp(*p+delta, spec.Min, spec.Max)
}
