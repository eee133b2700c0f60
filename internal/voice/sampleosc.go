package voice

import (
	"math"

	"github.com/cbegin/wtsynth-go/internal/params"
)

// middleC is the pitch a keytracked sample plays at its recorded speed.
const middleC = 261.6256

type sampleState struct {
	progress float64 // [0, 1) through the Start..End span
	done     bool
}

func (v *Voice) startSample(i int) {
	o := &v.work.Sample[i]
	phase := o.Phase
	if o.PhaseRand > 0 {
		phase += v.rng.Float64() * o.PhaseRand
	}
	p := math.Mod(phase/100, 1)
	if p < 0 {
		p++
	}
	v.sample[i] = sampleState{progress: p}
}

// sampleSpan returns the playback bounds in frames, ordered and at least one
// frame wide.
func sampleSpan(o *params.SampleOsc, frames int) (float64, float64) {
	n := float64(frames)
	start := clamp(o.Start, 0, 1) * n
	end := clamp(o.End, 0, 1) * n
	if start > end {
		start, end = end, start
	}
	if end-start < 1 {
		end = start + 1
		if end > n {
			end = n
			start = n - 1
		}
	}
	return start, end
}

func (v *Voice) renderSample(l, r *float64) {
	top := v.work.SampleTop()
	for i := 0; i < top; i++ {
		o := &v.work.Sample[i]
		st := &v.sample[i]
		smp := v.bank.Sample(o.Sample)
		frames := smp.Frames()
		if !o.Enabled || frames == 0 || st.done {
			v.sampleOut[i] = 0
			continue
		}
		start, end := sampleSpan(o, frames)
		span := end - start

		pos := st.progress
		if o.UseGraph {
			pos = v.bank.Graph(i).At(pos)
		}
		idx := start + pos*span
		if idx >= end {
			idx = end - 1
		}
		sl := readLinear(smp.L, idx)
		sr := readLinear(smp.R, idx)

		speed := float64(smp.Rate) / v.rate * semitones(o.Detune)
		if o.Keytrack {
			speed *= v.note.Freq / middleC
		}
		st.progress += speed / span
		if st.progress >= 1 {
			if o.Loop {
				st.progress = math.Mod(st.progress, 1)
			} else {
				st.done = true
			}
		}

		sl *= o.Volume
		sr *= o.Volume
		v.sampleOut[i] = (sl + sr) / 2
		if !o.Mute {
			gl, gr := balance(o.Pan)
			*l += sl * gl
			*r += sr * gr
		}
	}
}
