// Package lfo provides the low-frequency oscillators that automate the
// instrument's global macros.
package lfo

import (
	"math"
	"math/rand/v2"
)

type Waveform int

const (
	WaveSaw Waveform = iota
	WaveSquare
	WaveTriangle
	WaveRandom
	WaveSine
	numWaveforms
)

var waveNames = [numWaveforms]string{"saw", "square", "triangle", "random", "sine"}

func (w Waveform) String() string {
	if w >= 0 && w < numWaveforms {
		return waveNames[w]
	}
	return "invalid"
}

// ParseWaveform maps a waveform name to its value.
func ParseWaveform(name string) (Waveform, bool) {
	for i, n := range waveNames {
		if n == name {
			return Waveform(i), true
		}
	}
	return WaveTriangle, false
}

// Setting is the control-side description of one LFO.
type Setting struct {
	Depth    float64
	RateHz   float64
	Waveform Waveform
}

// LFO is a low-frequency oscillator producing a value in [-depth, +depth].
// It is owned by the audio thread.
type LFO struct {
	depth    float64
	rateHz   float64
	waveform Waveform
	phase    float64 // [0, 1)
	randVal  float64 // held sample-and-hold value
	rng      *rand.Rand
}

// Set configures the LFO. The phase is kept so retuning does not click.
func (l *LFO) Set(depth, rateHz float64, waveform Waveform) {
	l.depth = depth
	l.rateHz = rateHz
	if waveform < 0 || waveform >= numWaveforms {
		waveform = WaveTriangle
	}
	l.waveform = waveform
}

// Apply configures the LFO from a Setting.
func (l *LFO) Apply(s Setting) { l.Set(s.Depth, s.RateHz, s.Waveform) }

// Seed makes the random waveform reproducible.
func (l *LFO) Seed(seed uint64) {
	l.rng = rand.New(rand.NewPCG(seed, seed+1))
}

// Value returns the current output without advancing.
func (l *LFO) Value() float64 {
	if l.depth == 0 {
		return 0
	}
	var v float64
	switch l.waveform {
	case WaveSaw:
		v = 1.0 - 2.0*l.phase
	case WaveSquare:
		if l.phase < 0.5 {
			v = 1.0
		} else {
			v = -1.0
		}
	case WaveRandom:
		v = l.randVal
	case WaveSine:
		v = math.Sin(2 * math.Pi * l.phase)
	default: // WaveTriangle
		if l.phase < 0.5 {
			v = 4.0*l.phase - 1.0
		} else {
			v = 3.0 - 4.0*l.phase
		}
	}
	return v * l.depth
}

// Sample returns the current value and advances by one sample.
// Returns 0 if depth or rate is zero.
func (l *LFO) Sample(sampleRate float64) float64 {
	if !l.Active() || sampleRate == 0 {
		return 0
	}
	v := l.Value()
	l.Advance(1, sampleRate)
	return v
}

// Advance moves the phase forward by frames samples, drawing a new random
// value at every cycle boundary crossed.
func (l *LFO) Advance(frames int, sampleRate float64) {
	if l.rateHz == 0 || sampleRate == 0 || frames <= 0 {
		return
	}
	next := l.phase + l.rateHz*float64(frames)/sampleRate
	if next >= 1 {
		next -= math.Floor(next)
		if l.waveform == WaveRandom {
			l.randVal = l.nextRandom()
		}
	}
	l.phase = next
}

func (l *LFO) nextRandom() float64 {
	if l.rng == nil {
		l.Seed(1)
	}
	return l.rng.Float64()*2 - 1
}

// Active returns true if the LFO has non-zero depth and rate.
func (l *LFO) Active() bool {
	return l.depth != 0 && l.rateHz != 0
}

// Reset zeros the LFO phase.
func (l *LFO) Reset() {
	l.phase = 0
	l.randVal = 0
}
