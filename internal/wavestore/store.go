// Package wavestore holds the waveform buffers voices read from: the
// per-oscillator 256-slot wavetables, the sub-oscillator single cycles, the
// sample-ordering graphs and imported stereo samples.
//
// A Bank is treated as immutable once an instrument has published it. Edits
// go through Clone and a fresh publish.
package wavestore

import (
	"errors"
	"fmt"
	"math"

	"github.com/cbegin/wtsynth-go/internal/params"
)

const twoPi = math.Pi * 2

const (
	TableSlots  = 256
	NumTables   = params.NumMain
	NumSubWaves = params.NumSub
	NumSamples  = params.NumSample
	GraphPoints = 128

	MinWaveLen = 4
)

var (
	ErrWaveLen = errors.New("wavestore: waveLen out of range")
	ErrNoAudio = errors.New("wavestore: no audio frames")
	ErrNotWAV  = errors.New("wavestore: not a WAV file")
)

// Table is 256 concatenated single-cycle waveforms of waveLen samples each.
type Table struct {
	data     []float32
	waveLen  int
	morphMax int
}

// NewTable allocates a silent table.
func NewTable(waveLen int) (*Table, error) {
	t := &Table{}
	if err := t.SetWaveLen(waveLen); err != nil {
		return nil, err
	}
	return t, nil
}

// SetWaveLen resizes the table, discarding its contents, and re-derives the
// morph limit.
func (t *Table) SetWaveLen(n int) error {
	if n < MinWaveLen || n > params.MaxWaveLen {
		return fmt.Errorf("%w: %d", ErrWaveLen, n)
	}
	t.waveLen = n
	t.data = make([]float32, TableSlots*n)
	t.morphMax = len(t.data)/n - 2
	return nil
}

func (t *Table) WaveLen() int    { return t.waveLen }
func (t *Table) MorphMax() int   { return t.morphMax }
func (t *Table) Data() []float32 { return t.data }

// Slot returns waveform k, with k clamped into the table.
func (t *Table) Slot(k int) []float32 {
	if k < 0 {
		k = 0
	}
	if k >= TableSlots {
		k = TableSlots - 1
	}
	return t.data[k*t.waveLen : (k+1)*t.waveLen]
}

// SetSlot copies one cycle into slot k. Shorter input leaves the remainder
// silent; longer input is truncated.
func (t *Table) SetSlot(k int, wave []float32) {
	dst := t.Slot(k)
	n := copy(dst, wave)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// Fill sets every sample from fn, with x the position in the cycle on [0, 1).
func (t *Table) Fill(fn func(slot int, x float64) float64) {
	for k := 0; k < TableSlots; k++ {
		w := t.Slot(k)
		for i := range w {
			w[i] = float32(fn(k, float64(i)/float64(t.waveLen)))
		}
	}
}

// SineTable returns a table whose every slot is one sine cycle.
func SineTable(waveLen int) (*Table, error) {
	t, err := NewTable(waveLen)
	if err != nil {
		return nil, err
	}
	t.Fill(func(_ int, x float64) float64 { return math.Sin(twoPi * x) })
	return t, nil
}

// TableFromFunc builds a table from a generator.
func TableFromFunc(waveLen int, fn func(slot int, x float64) float64) (*Table, error) {
	t, err := NewTable(waveLen)
	if err != nil {
		return nil, err
	}
	t.Fill(fn)
	return t, nil
}

// SubWave is a single-cycle buffer of any length.
type SubWave []float32

// Graph maps playback progress to buffer position, both on [0, 1].
type Graph [GraphPoints]float32

// IdentityGraph plays the buffer straight through.
func IdentityGraph() Graph {
	var g Graph
	for i := range g {
		g[i] = float32(i) / float32(GraphPoints-1)
	}
	return g
}

// ReverseGraph plays the buffer backwards.
func ReverseGraph() Graph {
	var g Graph
	for i := range g {
		g[i] = 1 - float32(i)/float32(GraphPoints-1)
	}
	return g
}

// At evaluates the piecewise-linear graph.
func (g *Graph) At(progress float64) float64 {
	if progress <= 0 {
		return float64(g[0])
	}
	if progress >= 1 {
		return float64(g[GraphPoints-1])
	}
	x := progress * (GraphPoints - 1)
	i := int(x)
	frac := x - float64(i)
	if i >= GraphPoints-1 {
		return float64(g[GraphPoints-1])
	}
	return float64(g[i])*(1-frac) + float64(g[i+1])*frac
}

// Sample is imported stereo audio.
type Sample struct {
	L, R []float32
	Rate int
}

func (s *Sample) Frames() int {
	if s == nil {
		return 0
	}
	return len(s.L)
}

// Bank groups everything a voice reads.
type Bank struct {
	Tables  [NumTables]*Table
	Subs    [NumSubWaves]SubWave
	Graphs  [NumSamples]Graph
	Samples [NumSamples]*Sample
}

// NewBank returns a bank with a sine table in every oscillator slot, the
// basic sub waveforms and identity graphs.
func NewBank() *Bank {
	b := &Bank{}
	sine, _ := SineTable(params.DefaultWaveLen)
	for i := range b.Tables {
		b.Tables[i] = sine
	}
	subs := DefaultSubWaves(params.DefaultWaveLen)
	copy(b.Subs[:], subs)
	for i := range b.Graphs {
		b.Graphs[i] = IdentityGraph()
	}
	return b
}

// Clone copies the bank. Buffers are shared; replace them rather than
// writing into them.
func (b *Bank) Clone() *Bank {
	c := *b
	return &c
}

// Table returns oscillator table i, never nil for a bank from NewBank.
func (b *Bank) Table(i int) *Table { return b.Tables[i%NumTables] }

// Sub returns sub waveform i, falling back to slot 0 when it is empty.
func (b *Bank) Sub(i int) SubWave {
	if i < 0 {
		i = 0
	}
	if w := b.Subs[i%NumSubWaves]; len(w) > 0 {
		return w
	}
	return b.Subs[0]
}

func (b *Bank) Graph(i int) *Graph { return &b.Graphs[i%NumSamples] }

func (b *Bank) Sample(i int) *Sample {
	if i < 0 {
		i = 0
	}
	return b.Samples[i%NumSamples]
}

// DefaultSubWaves returns sine, saw, square and triangle cycles.
func DefaultSubWaves(n int) []SubWave {
	sine := make(SubWave, n)
	saw := make(SubWave, n)
	square := make(SubWave, n)
	tri := make(SubWave, n)
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n)
		sine[i] = float32(math.Sin(twoPi * x))
		saw[i] = float32(2*x - 1)
		if x < 0.5 {
			square[i] = 1
		} else {
			square[i] = -1
		}
		tri[i] = float32(1 - 4*math.Abs(x-0.5))
	}
	return []SubWave{sine, saw, square, tri}
}
