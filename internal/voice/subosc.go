package voice

import (
	"math"

	"github.com/cbegin/wtsynth-go/internal/params"
)

const (
	fixedPitchHz = 440
	// tempoDivisor turns a BPM value into a frequency multiplier so that at
	// the fixed pitch one cycle lasts one beat.
	tempoDivisor = 60 * fixedPitchHz
)

type subState struct {
	cursor float64
	last   float64
	dir    float64
}

func (v *Voice) subFreq(o *params.SubOsc) float64 {
	f := float64(fixedPitchHz)
	if o.Keytrack {
		f = v.note.Freq
	}
	f *= semitones(o.Detune)
	if o.TempoSync {
		f *= o.Tempo / tempoDivisor
	}
	return f
}

func (v *Voice) renderSub(l, r *float64) {
	top := v.work.SubTop()
	for i := 0; i < top; i++ {
		v.subFresh[i] = false
		o := &v.work.Sub[i]
		if !o.Enabled {
			v.subOut[i] = 0
			continue
		}
		wave := v.bank.Sub(o.Wave)
		n := len(wave)
		if n == 0 {
			v.subOut[i] = 0
			continue
		}
		st := &v.sub[i]

		var s float64
		if o.Noise {
			step := float64(wave[v.rng.IntN(n)])
			s = st.last + st.dir*step
			if s > 1 || s < -1 {
				st.dir = -st.dir
				s = st.last + st.dir*step
			}
			s = clamp(s, -1, 1)
		} else {
			s = readLinear(wave, st.cursor+o.Phase*float64(n)/100)
		}
		if o.RateLimit > 0 {
			maxDelta := 2 / o.RateLimit
			s = st.last + clamp(s-st.last, -maxDelta, maxDelta)
		}
		st.last = s

		c := st.cursor + float64(n)*v.subFreq(o)/v.rate
		if c >= float64(n) || c < 0 {
			c = math.Mod(c, float64(n))
			if c < 0 {
				c += float64(n)
			}
			v.subFresh[i] = true
		}
		st.cursor = c

		out := s * o.Volume
		v.subOut[i] = out
		if v.subFresh[i] {
			v.subEnv[i] = out
		}
		if !o.Mute {
			gl, gr := balance(o.Pan)
			*l += out * gl
			*r += out * gr
		}
	}
}
