package voice

import (
	"math"

	"github.com/cbegin/wtsynth-go/internal/params"
)

const (
	minCutoff     = 10
	maxCutoffFrac = 0.49

	minFeedbackHz = 8
	maxFeedbackHz = 14000

	butterworthQ = 0.7071
)

type biquadCoeffs struct {
	b0, b1, b2, a1, a2 float64
}

// biquad is one direct form I stage.
type biquad struct {
	x1, x2, y1, y2 float64
}

func (s *biquad) process(c *biquadCoeffs, x float64) float64 {
	y := c.b0*x + c.b1*s.x1 + c.b2*s.x2 - c.a1*s.y1 - c.a2*s.y2
	s.x2, s.x1 = s.x1, x
	s.y2, s.y1 = s.y1, y
	return y
}

// ladder is a four pole Moog-style lowpass with a cubic clipper on the last
// pole.
type ladder struct {
	b0, b1, b2, b3, b4 float64
}

// process runs one sample. fc is normalized so 1 is Nyquist; res is [0, 1].
func (s *ladder) process(x, fc, res float64) float64 {
	q := 1 - fc
	p := fc + 0.8*fc*q
	f := p + p - 1
	q = 4 * res * (1 + 0.5*q*(1-q+5.6*q*q))

	x = clamp(x, -1, 1) - q*s.b4
	t1 := s.b1
	s.b1 = (x+s.b0)*p - s.b1*f
	t2 := s.b2
	s.b2 = (s.b1+t1)*p - s.b2*f
	t1 = s.b3
	s.b3 = (s.b2+t2)*p - s.b3*f
	s.b4 = clamp((s.b3+t1)*p-s.b4*f, -math.Sqrt2, math.Sqrt2)
	s.b4 -= s.b4 * s.b4 * s.b4 * 0.166667
	s.b0 = x
	return s.b4
}

type filterKey struct {
	kind                    params.FilterType
	cutoff, res, gain, rate float64
}

type filterState struct {
	stages [params.MaxSlope]biquad
	moog   [params.MaxSlope]ladder

	coeffs biquadCoeffs
	key    filterKey
	valid  bool

	ring []float64
	pos  int
	tap  float64
}

func (f *filterState) reset() {
	f.stages = [params.MaxSlope]biquad{}
	f.moog = [params.MaxSlope]ladder{}
	f.valid = false
	clear(f.ring)
	f.pos = 0
	f.tap = 0
}

// designBiquad computes RBJ cookbook coefficients normalized by a0.
func designBiquad(kind params.FilterType, cutoff, res, gainDB, rate float64) biquadCoeffs {
	w0 := twoPi * cutoff / rate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	q := butterworthQ * math.Exp2(5*res)
	alpha := sinw / (2 * q)
	a := math.Pow(10, gainDB/40)

	var b0, b1, b2, a0, a1, a2 float64
	switch kind {
	case params.FilterHighpass:
		b0 = (1 + cosw) / 2
		b1 = -(1 + cosw)
		b2 = (1 + cosw) / 2
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	case params.FilterBandpass:
		b0, b1, b2 = alpha, 0, -alpha
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	case params.FilterNotch:
		b0, b1, b2 = 1, -2*cosw, 1
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	case params.FilterAllpass:
		b0, b1, b2 = 1-alpha, -2*cosw, 1+alpha
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	case params.FilterPeak:
		b0, b1, b2 = 1+alpha*a, -2*cosw, 1-alpha*a
		a0, a1, a2 = 1+alpha/a, -2*cosw, 1-alpha/a
	case params.FilterLowShelf:
		sq := 2 * math.Sqrt(a) * alpha
		b0 = a * ((a + 1) - (a-1)*cosw + sq)
		b1 = 2 * a * ((a - 1) - (a+1)*cosw)
		b2 = a * ((a + 1) - (a-1)*cosw - sq)
		a0 = (a + 1) + (a-1)*cosw + sq
		a1 = -2 * ((a - 1) + (a+1)*cosw)
		a2 = (a + 1) + (a-1)*cosw - sq
	case params.FilterHighShelf:
		sq := 2 * math.Sqrt(a) * alpha
		b0 = a * ((a + 1) + (a-1)*cosw + sq)
		b1 = -2 * a * ((a - 1) + (a+1)*cosw)
		b2 = a * ((a + 1) + (a-1)*cosw - sq)
		a0 = (a + 1) - (a-1)*cosw + sq
		a1 = 2 * ((a - 1) - (a+1)*cosw)
		a2 = (a + 1) - (a-1)*cosw - sq
	default: // lowpass
		b0 = (1 - cosw) / 2
		b1 = 1 - cosw
		b2 = (1 - cosw) / 2
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	}
	return biquadCoeffs{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

// feedbackDelay returns the comb delay in samples for a pitch, always within
// [1, capacity].
func feedbackDelay(freq, rate float64, capacity int) int {
	freq = clamp(freq, minFeedbackHz, maxFeedbackHz)
	n := int(math.Round(rate / freq))
	return clamp(n, 1, capacity)
}

func (v *Voice) renderFilters(l, r *float64) {
	top := v.work.FilterTop()
	for i := 0; i < top; i++ {
		o := &v.work.Filter[i]
		if !o.Enabled {
			v.filterOut[i] = 0
			continue
		}
		st := &v.filter[i]
		in := v.source(o.Input) + v.filterAcc[i] + st.tap
		cutoff := clamp(o.Cutoff, minCutoff, maxCutoffFrac*v.rate)

		y := in
		slope := clamp(o.Slope, 1, params.MaxSlope)
		if o.Type == params.FilterMoog {
			fc := 2 * cutoff / v.rate
			for s := 0; s < slope; s++ {
				y = st.moog[s].process(y, fc, o.Resonance)
			}
		} else {
			key := filterKey{kind: o.Type, cutoff: cutoff, res: o.Resonance, gain: o.Gain, rate: v.rate}
			if !st.valid || key != st.key {
				st.coeffs = designBiquad(o.Type, cutoff, o.Resonance, o.Gain, v.rate)
				st.key = key
				st.valid = true
			}
			for s := 0; s < slope; s++ {
				y = st.stages[s].process(&st.coeffs, y)
			}
		}
		if o.Saturation > 0 && y != 0 {
			y = sign(y) * math.Pow(math.Abs(y), 1-o.Saturation)
		}
		out := lerp(in, y, o.Balance)

		pitch := float64(fixedPitchHz)
		if o.Keytrack {
			pitch = v.note.Freq
		}
		delay := feedbackDelay(pitch*semitones(o.Detune), v.rate, len(st.ring))
		st.ring[st.pos] = math.Tanh(out) * o.Feedback / 100
		st.pos++
		if st.pos == len(st.ring) {
			st.pos = 0
		}
		st.tap = st.ring[wrapIndex(st.pos-delay, len(st.ring))]

		v.filterOut[i] = out
		if !o.Mute {
			gl, gr := balance(o.Pan)
			*l += out * gl
			*r += out * gr
		}
	}
}
