package voice

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/cbegin/wtsynth-go/internal/params"
	"github.com/cbegin/wtsynth-go/internal/wavestore"
)

func modSlot(a params.Source, combine params.Combine, field params.Field, index int) params.ModSlot {
	return params.ModSlot{
		Enabled: true,
		A:       a,
		AmountA: 1, AmountB: 1,
		CurveA: 1, CurveB: 1,
		Combine: combine,
		Target:  params.Target{Field: field, Index: uint8(index)},
	}
}

func startVoice(snap *params.Snapshot, bank *wavestore.Bank, n Note) *Voice {
	snap.Sync()
	v := New(testRate, params.MaxOversample, 7)
	v.Start(n, snap, bank)
	return v
}

func TestRollbackRestoresEveryTouchedField(t *testing.T) {
	snap := params.Default()
	snap.Main[0].Volume = 0.25
	snap.Sub[0].Enabled = true
	snap.Sub[0].Mute = true
	snap.Filter[0].Enabled = true
	snap.Filter[0].Input = params.MainOut(0)
	snap.Mod[0] = modSlot(params.Velocity, params.CombineUniAdd, params.MainVolume, 0)
	snap.Mod[1] = modSlot(params.Velocity, params.CombineUniAdd, params.MainVolume, 0)
	snap.Mod[2] = modSlot(params.Humanizer, params.CombineBiMul, params.FilterCutoff, 0)
	snap.Mod[2].B = params.MainOut(0)
	snap.Mod[3] = modSlot(params.MacroValue(1), params.CombineBiAdd, params.ModAmountA, 5)
	snap.Mod[4] = modSlot(params.MainEnv(0), params.CombineUniAdd, params.Macro, 2)
	snap.Mod[5] = modSlot(params.SubOut(0), params.CombineBiAdd, params.FilterInput, 0)
	snap.Mod[6] = modSlot(params.FilterOut(0), params.CombineUniMul, params.MainMorph, 0)
	snap.Mod[6].B = params.Panning
	snap.Mod[7] = modSlot(params.SampleOut(0), params.CombineBiAdd, params.SubRateLimit, 0)

	v := startVoice(snap, wavestore.NewBank(), Note{Freq: 330, Velocity: 0.5, Pan: -0.4})
	want := *snap
	for i := 0; i < 2000; i++ {
		v.Render(snap)
		if *v.Work() != want {
			t.Fatalf("frame %d: work copy differs from the published snapshot", i)
		}
		if v.Touched() != 0 {
			t.Fatalf("frame %d: journal not empty after the sample", i)
		}
	}
	if *snap != want {
		t.Fatalf("published snapshot was written")
	}
}

func TestModulationAppliesWithinTheSample(t *testing.T) {
	snap := params.Default()
	snap.Main[0].Volume = 0.25
	snap.Mod[0] = modSlot(params.Velocity, params.CombineUniAdd, params.MainVolume, 0)

	ref := params.Default()
	ref.Main[0].Volume = 0.75

	a := startVoice(snap, wavestore.NewBank(), Note{Freq: 440, Velocity: 0.5})
	b := startVoice(ref, wavestore.NewBank(), Note{Freq: 440, Velocity: 0.5})
	for i := 0; i < 500; i++ {
		l1, _ := a.Render(snap)
		l2, _ := b.Render(ref)
		if math.Abs(l1-l2) > 1e-12 {
			t.Fatalf("frame %d: modulated %v, reference %v", i, l1, l2)
		}
	}
}

func TestMacroReplaceFeedsLaterSlots(t *testing.T) {
	snap := params.Default()
	snap.Main[0].Volume = 0
	snap.Mod[0] = modSlot(params.Velocity, params.CombineUniAdd, params.Macro, 0)
	snap.Mod[1] = modSlot(params.MacroValue(0), params.CombineUniAdd, params.MainVolume, 0)

	ref := params.Default()
	ref.Main[0].Volume = 0.5

	a := startVoice(snap, wavestore.NewBank(), Note{Freq: 440, Velocity: 0.5})
	b := startVoice(ref, wavestore.NewBank(), Note{Freq: 440, Velocity: 0.5})
	for i := 0; i < 200; i++ {
		l1, _ := a.Render(snap)
		l2, _ := b.Render(ref)
		if math.Abs(l1-l2) > 1e-12 {
			t.Fatalf("frame %d: %v != %v", i, l1, l2)
		}
	}
}

func TestMacroOffsetsReachSources(t *testing.T) {
	snap := params.Default()
	snap.Macro[3] = 0.2
	v := startVoice(snap, wavestore.NewBank(), Note{Freq: 440})
	v.SetMacroOffsets([params.NumMacro]float64{3: 0.3})
	if got := v.source(params.MacroValue(3)); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("macro source = %v, want 0.5", got)
	}
	v.SetMacroOffsets([params.NumMacro]float64{3: 5})
	if got := v.source(params.MacroValue(3)); got != 1 {
		t.Fatalf("macro source = %v, want clamp to 1", got)
	}
}

func TestCurveShapes(t *testing.T) {
	tests := []struct {
		name string
		x, c float64
		bi   bool
		want float64
	}{
		{"linear", 0.3, 1, true, 0.3},
		{"uni square root", 0.25, 2, false, 0.5},
		{"uni keeps sign", -0.25, 2, false, -0.5},
		{"bi centre bends", 0, 2, true, 2*math.Sqrt(0.5) - 1},
		{"bi floor fixed", -1, 3, true, -1},
		{"bi ceiling fixed", 1, 0.2, true, 1},
		{"clamped input", 4, 1, false, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := shape(tc.x, tc.c, tc.bi); math.Abs(got-tc.want) > 1e-12 {
				t.Fatalf("shape = %v, want %v", got, tc.want)
			}
		})
	}
	for _, c := range []float64{0, -1, 1e-9} {
		if got := shape(0.5, c, false); math.IsNaN(got) || math.IsInf(got, 0) {
			t.Fatalf("curve %v: non-finite %v", c, got)
		}
	}
}

func TestFeedbackDelayLengthStaysPositive(t *testing.T) {
	capacity := len(New(44100, params.MaxOversample, 1).filter[0].ring)
	for os := 0; os <= params.MaxOversample; os++ {
		rate := 44100 * float64(os+1)
		for note := 0; note < 128; note++ {
			for _, det := range []float64{-48, -12, 0, 12, 48} {
				f := 440 * math.Exp2(float64(note-69)/12) * semitones(det)
				d := feedbackDelay(f, rate, capacity)
				if d < 1 || d > capacity {
					t.Fatalf("rate %v note %d detune %v: delay %d outside [1, %d]", rate, note, det, d, capacity)
				}
				if f >= minFeedbackHz && f <= maxFeedbackHz {
					if want := int(math.Round(rate / f)); d != want {
						t.Fatalf("rate %v f %v: delay %d, want %d", rate, f, d, want)
					}
				}
			}
		}
	}
}

func TestFullFeedbackStaysBounded(t *testing.T) {
	snap := params.Default()
	snap.Main[0].Mute = true
	snap.Filter[0].Enabled = true
	snap.Filter[0].Input = params.MainOut(0)
	snap.Filter[0].Feedback = 100
	snap.Filter[0].Resonance = 1
	snap.Filter[0].Slope = 2
	snap.Filter[0].Cutoff = 3000
	snap.Filter[1].Enabled = true
	snap.Filter[1].Type = params.FilterMoog
	snap.Filter[1].Input = params.FilterOut(1)
	snap.Filter[1].Feedback = 100
	snap.Filter[1].Resonance = 1
	for _, freq := range []float64{8.18, 440, 12543} {
		v := startVoice(snap, wavestore.NewBank(), Note{Freq: freq})
		for i := 0; i < 48000; i++ {
			l, r := v.Render(snap)
			if math.IsNaN(l) || math.IsInf(l, 0) || math.Abs(r) > 1e6 {
				t.Fatalf("freq %v frame %d: diverged (%v, %v)", freq, i, l, r)
			}
		}
	}
}

func TestSubTempoSyncCycleLength(t *testing.T) {
	for _, tempo := range []float64{120, 140} {
		snap := params.Default()
		snap.SetMainEnabled(0, false)
		snap.Sub[0].Keytrack = false
		snap.Sub[0].TempoSync = true
		snap.Sub[0].Tempo = tempo
		snap.SetSubEnabled(0, true)
		v := startVoice(snap, wavestore.NewBank(), Note{Freq: 100})

		want := testRate * 26400 / (tempo * 440)
		var wraps []int
		for i := 0; i < int(want*6); i++ {
			v.Render(snap)
			if v.SubWrapped(0) {
				wraps = append(wraps, i)
			}
		}
		if len(wraps) < 4 {
			t.Fatalf("tempo %v: only %d wraps", tempo, len(wraps))
		}
		for k := 1; k < len(wraps); k++ {
			if d := float64(wraps[k] - wraps[k-1]); math.Abs(d-want) > 1 {
				t.Fatalf("tempo %v: cycle %d lasted %v frames, want %v", tempo, k, d, want)
			}
		}
	}
}

func TestSubNoiseWalkIsBounded(t *testing.T) {
	snap := params.Default()
	snap.SetMainEnabled(0, false)
	snap.Sub[0].Noise = true
	snap.Sub[0].Wave = 1
	snap.SetSubEnabled(0, true)
	v := startVoice(snap, wavestore.NewBank(), Note{Freq: 440})
	moved := false
	for i := 0; i < 20000; i++ {
		l, _ := v.Render(snap)
		if math.Abs(l) > 1 {
			t.Fatalf("frame %d: walk left [-1, 1]: %v", i, l)
		}
		if l != 0 {
			moved = true
		}
	}
	if !moved {
		t.Fatalf("noise walk never moved")
	}
}

func TestSubRateLimitClampsDelta(t *testing.T) {
	snap := params.Default()
	snap.SetMainEnabled(0, false)
	snap.Sub[0].Wave = 2 // square
	snap.Sub[0].RateLimit = 50
	snap.SetSubEnabled(0, true)
	v := startVoice(snap, wavestore.NewBank(), Note{Freq: 440})
	prev := 0.0
	for i := 0; i < 5000; i++ {
		l, _ := v.Render(snap)
		if math.Abs(l-prev) > 2.0/50+1e-12 {
			t.Fatalf("frame %d: delta %v exceeds limit", i, l-prev)
		}
		prev = l
	}
}

func TestMoogNoResonanceHasUnityPassband(t *testing.T) {
	for _, cutoff := range []float64{50, 100, 400} {
		var s ladder
		fc := 2 * cutoff / testRate
		var y float64
		for i := 0; i < 2*int(testRate); i++ {
			y = s.process(0.01, fc, 0)
		}
		if math.Abs(y-0.01)/0.01 > 0.01 {
			t.Fatalf("cutoff %v: DC gain %v, want 1", cutoff, y/0.01)
		}
	}

	var s ladder
	fc := 2 * 100 / testRate
	peak := 0.0
	for i := 0; i < int(testRate); i++ {
		y := s.process(0.01*math.Sin(twoPi*8000*float64(i)/testRate), fc, 0)
		if i > int(testRate)/2 {
			peak = math.Max(peak, math.Abs(y))
		}
	}
	if peak > 1e-6 {
		t.Fatalf("8 kHz leaked through a 100 Hz ladder: %v", peak)
	}
}

func TestMoogThroughFilterInputAccumulator(t *testing.T) {
	snap := params.Default()
	snap.SetMainEnabled(0, false)
	snap.Filter[0].Type = params.FilterMoog
	snap.Filter[0].Cutoff = 100
	snap.Filter[0].Keytrack = false
	snap.SetFilterEnabled(0, true)
	snap.Mod[0] = modSlot(params.Velocity, params.CombineUniAdd, params.FilterInput, 0)
	v := startVoice(snap, wavestore.NewBank(), Note{Freq: 440, Velocity: 0.01})
	var l float64
	for i := 0; i < int(testRate); i++ {
		l, _ = v.Render(snap)
	}
	if math.Abs(l-0.01)/0.01 > 0.01 {
		t.Fatalf("filtered DC = %v, want 0.01", l)
	}
}

func response(c biquadCoeffs, f, rate float64) float64 {
	z := cmplx.Exp(complex(0, -twoPi*f/rate))
	num := complex(c.b0, 0) + complex(c.b1, 0)*z + complex(c.b2, 0)*z*z
	den := 1 + complex(c.a1, 0)*z + complex(c.a2, 0)*z*z
	return cmplx.Abs(num / den)
}

func TestBiquadResponses(t *testing.T) {
	const fc = 1000.0
	tests := []struct {
		name string
		kind params.FilterType
		gain float64
		f    float64
		want float64
	}{
		{"lowpass dc", params.FilterLowpass, 0, 1, 1},
		{"lowpass corner", params.FilterLowpass, 0, fc, butterworthQ},
		{"highpass nyquist", params.FilterHighpass, 0, testRate / 2 * 0.999, 1},
		{"bandpass centre", params.FilterBandpass, 0, fc, 1},
		{"notch centre", params.FilterNotch, 0, fc, 0},
		{"allpass flat", params.FilterAllpass, 0, 3210, 1},
		{"peak boost", params.FilterPeak, 12, fc, math.Pow(10, 12.0/20)},
		{"low shelf dc", params.FilterLowShelf, -6, 1, math.Pow(10, -6.0/20)},
		{"high shelf top", params.FilterHighShelf, 6, testRate / 2 * 0.999, math.Pow(10, 6.0/20)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := designBiquad(tc.kind, fc, 0, tc.gain, testRate)
			if got := response(c, tc.f, testRate); math.Abs(got-tc.want) > 1e-3 {
				t.Fatalf("|H(%v)| = %v, want %v", tc.f, got, tc.want)
			}
		})
	}
}

func rampSample(n int) *wavestore.Sample {
	s := &wavestore.Sample{L: make([]float32, n), R: make([]float32, n), Rate: int(testRate)}
	for i := 0; i < n; i++ {
		s.L[i] = float32(i) / float32(n)
		s.R[i] = -s.L[i]
	}
	return s
}

func sampleBank() *wavestore.Bank {
	b := wavestore.NewBank()
	b.Samples[0] = rampSample(100)
	b.Graphs[1] = wavestore.ReverseGraph()
	return b
}

func TestSampleOscillatorPlayback(t *testing.T) {
	tests := []struct {
		name  string
		setup func(o *params.SampleOsc)
		freq  float64
		frame int
		want  float64 // left channel
	}{
		{"straight", func(o *params.SampleOsc) {}, 440, 30, 0.30},
		{"phase offset", func(o *params.SampleOsc) { o.Phase = 50 }, 440, 0, 0.50},
		{"reversed bounds", func(o *params.SampleOsc) { o.Start, o.End = 0.5, 0.25 }, 440, 5, 0.30},
		{"keytrack octave", func(o *params.SampleOsc) { o.Keytrack = true }, 2 * middleC, 10, 0.20},
		{"stops at end", func(o *params.SampleOsc) {}, 440, 150, 0},
		{"loops", func(o *params.SampleOsc) { o.Loop = true }, 440, 130, 0.30},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap := params.Default()
			snap.SetMainEnabled(0, false)
			tc.setup(&snap.Sample[0])
			snap.SetSampleEnabled(0, true)
			v := startVoice(snap, sampleBank(), Note{Freq: tc.freq})
			var l, r float64
			for i := 0; i <= tc.frame; i++ {
				l, r = v.Render(snap)
			}
			if math.Abs(l-tc.want) > 1e-5 || math.Abs(r+tc.want) > 1e-5 {
				t.Fatalf("frame %d = (%v, %v), want (%v, %v)", tc.frame, l, r, tc.want, -tc.want)
			}
		})
	}
}

func TestSampleOscillatorGraph(t *testing.T) {
	snap := params.Default()
	snap.SetMainEnabled(0, false)
	snap.Sample[1].Sample = 0
	snap.Sample[1].UseGraph = true
	snap.SetSampleEnabled(1, true)
	v := startVoice(snap, sampleBank(), Note{Freq: 440})
	first, _ := v.Render(snap)
	if math.Abs(first-0.99) > 1e-5 {
		t.Fatalf("reverse graph first frame = %v, want 0.99", first)
	}
	var l float64
	for i := 1; i <= 50; i++ {
		l, _ = v.Render(snap)
	}
	if math.Abs(l-0.5) > 1e-4 {
		t.Fatalf("reverse graph midpoint = %v, want 0.5", l)
	}
}

func TestMoogSlopeCascadesLadders(t *testing.T) {
	peakAt := func(slope int) float64 {
		snap := params.Default()
		snap.Main[0].Mute = true
		snap.Filter[0].Type = params.FilterMoog
		snap.Filter[0].Input = params.MainOut(0)
		snap.Filter[0].Cutoff = 500
		snap.Filter[0].Keytrack = false
		snap.Filter[0].Slope = slope
		snap.SetFilterEnabled(0, true)
		v := startVoice(snap, wavestore.NewBank(), Note{Freq: 2000})
		peak := 0.0
		for i := 0; i < 8000; i++ {
			v.Render(snap)
			if i > 4000 {
				peak = math.Max(peak, math.Abs(v.FilterOutput(0)))
			}
		}
		return peak
	}
	one, two := peakAt(1), peakAt(2)
	if one == 0 {
		t.Fatalf("slope 1 output is silent")
	}
	if two >= one/4 {
		t.Fatalf("slope 2 peak %v, want well below slope 1 peak %v", two, one)
	}
	if eight := peakAt(8); eight >= two {
		t.Fatalf("slope 8 peak %v not below slope 2 peak %v", eight, two)
	}
}

func TestFilterShaping(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *params.Filter)
		in    float64
		want  float64
	}{
		{"saturation half on dc", func(f *params.Filter) { f.Saturation = 0.5 }, 0.25, 0.5},
		{"saturation keeps sign", func(f *params.Filter) { f.Saturation = 0.5 }, -0.25, -0.5},
		{"balance dry passes input", func(f *params.Filter) {
			f.Type = params.FilterHighpass
			f.Balance = 0
		}, 0.25, 0.25},
		{"balance half mixes", func(f *params.Filter) {
			f.Type = params.FilterHighpass
			f.Balance = 0.5
		}, 0.25, 0.125},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap := params.Default()
			snap.SetMainEnabled(0, false)
			snap.Filter[0].Keytrack = false
			tc.setup(&snap.Filter[0])
			snap.SetFilterEnabled(0, true)
			snap.Mod[0] = modSlot(params.Panning, params.CombineBiAdd, params.FilterInput, 0)
			v := startVoice(snap, wavestore.NewBank(), Note{Freq: 440, Pan: tc.in})
			for i := 0; i < int(testRate); i++ {
				v.Render(snap)
			}
			if got := v.FilterOutput(0); math.Abs(got-tc.want) > 1e-6 {
				t.Fatalf("output = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFeedbackTapReturnsAfterOnePeriod(t *testing.T) {
	snap := params.Default()
	snap.SetMainEnabled(0, false)
	snap.Filter[0].Keytrack = false
	snap.Filter[0].Balance = 0
	snap.Filter[0].Feedback = 50
	snap.SetFilterEnabled(0, true)
	quiet := snap.Clone()
	snap.Mod[0] = modSlot(params.Velocity, params.CombineUniAdd, params.FilterInput, 0)
	quiet.Sync()

	v := startVoice(snap, wavestore.NewBank(), Note{Freq: 100, Velocity: 1})
	v.Render(snap)
	if got := v.FilterOutput(0); got != 1 {
		t.Fatalf("impulse frame = %v, want 1", got)
	}
	delay := int(math.Round(testRate / fixedPitchHz))
	for i := 1; i < delay; i++ {
		v.Render(quiet)
		if got := v.FilterOutput(0); got != 0 {
			t.Fatalf("frame %d = %v before the tap returned", i, got)
		}
	}
	v.Render(quiet)
	if got, want := v.FilterOutput(0), math.Tanh(1)*0.5; math.Abs(got-want) > 1e-12 {
		t.Fatalf("frame %d = %v, want %v", delay, got, want)
	}
}

func TestNilBankPlaysDefault(t *testing.T) {
	snap := params.Default()
	snap.SetSubEnabled(0, true)
	snap.SetSampleEnabled(0, true)
	v := startVoice(snap, nil, Note{Freq: 440, Velocity: 1})
	v.SetBank(nil)
	moved := false
	for i := 0; i < 500; i++ {
		if l, _ := v.Render(snap); l != 0 {
			moved = true
		}
	}
	if !moved {
		t.Fatalf("default bank rendered silence")
	}
}
