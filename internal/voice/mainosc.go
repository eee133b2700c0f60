package voice

import (
	"math"

	"github.com/cbegin/wtsynth-go/internal/params"
	"github.com/cbegin/wtsynth-go/internal/wavestore"
)

// minRange keeps the triangular blend kernel away from a zero width.
const minRange = 1e-6

type mainState struct {
	cursor [params.MaxUnison]float64
	spread [params.MaxUnison]float64 // per-voice detune factor in [-1, 1]
	wrap   bool
}

func (v *Voice) startMain(i int) {
	st := &v.main[i]
	*st = mainState{}
	o := &v.work.Main[i]
	w := float64(params.DefaultWaveLen)
	if tbl := v.bank.Table(i); tbl != nil {
		w = float64(tbl.WaveLen())
	}
	for u := 0; u < params.MaxUnison; u++ {
		if u > 0 {
			st.spread[u] = v.rng.Float64()*2 - 1
		}
		if o.PhaseRand > 0 {
			st.cursor[u] = v.rng.Float64() * o.PhaseRand / 100 * w
		}
	}
}

func (v *Voice) renderMain(l, r *float64) {
	top := v.work.MainTop()
	for i := 0; i < top; i++ {
		v.mainFresh[i] = false
		o := &v.work.Main[i]
		if !o.Enabled {
			v.mainOut[i] = 0
			continue
		}
		tbl := v.bank.Table(i)
		if tbl == nil {
			v.mainOut[i] = 0
			continue
		}
		var ml, mr, mono float64
		if o.UnisonVoices <= 1 {
			ml, mr, mono = v.mainSingle(i, o, tbl)
		} else {
			ml, mr, mono = v.mainUnison(i, o, tbl, o.UnisonVoices)
		}
		v.mainOut[i] = mono
		if v.main[i].wrap {
			v.mainEnv[i] = mono
			v.mainFresh[i] = true
		}
		if !o.Mute {
			*l += ml
			*r += mr
		}
	}
}

// mainSingle is the unison-free path.
func (v *Voice) mainSingle(i int, o *params.MainOsc, tbl *wavestore.Table) (float64, float64, float64) {
	st := &v.main[i]
	w := tbl.WaveLen()
	morph := clamp(o.Morph, 0, float64(tbl.MorphMax()))
	modify := clamp(o.Modify, 0, float64(w-1))

	s := readOsc(tbl, o, st.cursor[0], morph, modify) * o.Volume
	st.wrap = v.advanceMain(st, 0, o, w, 0)

	gl, gr := balance(o.Pan)
	return s * gl, s * gr, s
}

// mainUnison is the general path. With n == 1 it produces exactly what
// mainSingle does.
func (v *Voice) mainUnison(i int, o *params.MainOsc, tbl *wavestore.Table, n int) (float64, float64, float64) {
	st := &v.main[i]
	w := tbl.WaveLen()
	morphMax := float64(tbl.MorphMax())
	modMax := float64(w - 1)

	var sl, sr, sum float64
	st.wrap = false
	for u := 0; u < n; u++ {
		var morphOff, modOff, pos float64
		if n > 1 {
			t := float64(u) / float64(n-1)
			morphOff = -o.UnisonMorph/2 + t*o.UnisonMorph
			modOff = -o.UnisonModify/2 + t*o.UnisonModify
			pos = (-1 + 2*t) * o.UnisonPan
		}
		morph := clamp(o.Morph+morphOff, 0, morphMax)
		modify := clamp(o.Modify+modOff, 0, modMax)

		s := readOsc(tbl, o, st.cursor[u], morph, modify) * o.Volume
		sum += s
		sl += s * (1 - pos) / 2
		sr += s * (1 + pos) / 2

		wrapped := v.advanceMain(st, u, o, w, st.spread[u]*o.UnisonDetune)
		if u == 0 {
			st.wrap = wrapped
		}
	}
	half := float64(n) / 2
	gl, gr := balance(o.Pan)
	return sl / half * gl, sr / half * gr, sum / float64(n)
}

// advanceMain steps one unison cursor and reports whether it wrapped.
func (v *Voice) advanceMain(st *mainState, u int, o *params.MainOsc, w int, cents float64) bool {
	freq := v.note.Freq * semitones(o.Detune)
	if cents != 0 {
		freq *= math.Exp2(cents / 1200)
	}
	period := float64(w + o.AddTail)
	c := st.cursor[u] + float64(w)*freq/v.rate
	wrapped := false
	if c >= period || c < 0 {
		c = math.Mod(c, period)
		if c < 0 {
			c += period
		}
		wrapped = true
	}
	st.cursor[u] = c
	return wrapped
}

// readOsc reads one unison voice at its cursor. Cursor positions inside the
// add-tail extension are silent.
func readOsc(tbl *wavestore.Table, o *params.MainOsc, cursor, morph, modify float64) float64 {
	w := float64(tbl.WaveLen())
	if cursor >= w {
		return 0
	}
	p := math.Mod(cursor+o.Phase*w/100, w)
	if p < 0 {
		p += w
	}
	rng := o.Range

	switch o.ModifyMode {
	case params.ModifySquarify:
		k := modify / w
		return (1-k)*rangeRead(tbl, morph, rng, p) - k*rangeRead(tbl, morph, rng, p+w/2)
	case params.ModifyPulsify:
		k := modify / w
		return (1-k)*rangeRead(tbl, morph, rng, p) - k*rangeRead(tbl, morph, rng, w-p)
	}
	q, ok := warp(o.ModifyMode, p, w, modify)
	if !ok {
		return 0
	}
	return rangeRead(tbl, morph, rng, q)
}

// warp maps a read phase through a single-read modify mode. ok is false when
// the mode silences this phase.
func warp(mode params.ModifyMode, p, w, m float64) (float64, bool) {
	x := p / w
	e := m*10/w + 1
	switch mode {
	case params.ModifyPulseWidth:
		width := math.Max(w-m, 1)
		if p < width {
			return p * w / width, true
		}
		return 0, false
	case params.ModifyPowerRight:
		return w * math.Pow(x, e), true
	case params.ModifyPowerLeft:
		return w * (1 - math.Pow(1-x, e)), true
	case params.ModifyPowerSquish:
		c := 2*x - 1
		return w * (sign(c)*math.Pow(math.Abs(c), e) + 1) / 2, true
	case params.ModifyPowerStretch:
		c := 2*x - 1
		return w * (sign(c)*math.Pow(math.Abs(c), 1/e) + 1) / 2, true
	case params.ModifyCutLeft:
		if p < m {
			return 0, false
		}
	case params.ModifyCutRight:
		if p >= w-m {
			return 0, false
		}
	}
	return p, true
}

// rangeRead blends the slots around morph with a triangular kernel of
// half-width rng.
func rangeRead(tbl *wavestore.Table, morph, rng, p float64) float64 {
	if rng < minRange {
		rng = minRange
	}
	lo := int(math.Ceil(morph - rng))
	hi := int(math.Floor(morph + rng))
	lo = clamp(lo, 0, wavestore.TableSlots-1)
	hi = clamp(hi, 0, wavestore.TableSlots-1)

	var sum, wsum float64
	for k := lo; k <= hi; k++ {
		wk := 1 - math.Abs(morph-float64(k))/rng
		if wk <= 0 {
			continue
		}
		sum += wk * readLinear(tbl.Slot(k), p)
		wsum += wk
	}
	if wsum == 0 {
		return readLinear(tbl.Slot(int(math.Round(morph))), p)
	}
	return sum / wsum
}
