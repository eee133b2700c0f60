package voice

import (
	"math"

	"golang.org/x/exp/constraints"
)

const twoPi = math.Pi * 2

func clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func lerp[T constraints.Float](a, b, t T) T { return a + (b-a)*t }

// wrapIndex reduces i into [0, n).
func wrapIndex(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// balance returns the left and right gains of a balance pan: the far side
// attenuates, the near side stays at unity.
func balance(pan float64) (float64, float64) {
	return math.Min(1, 1-pan), math.Min(1, 1+pan)
}

func semitones(st float64) float64 { return math.Exp2(st / 12) }

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

// readLinear reads a cyclic buffer at fractional position p.
func readLinear(buf []float32, p float64) float64 {
	n := len(buf)
	fl := math.Floor(p)
	i0 := wrapIndex(int(fl), n)
	i1 := i0 + 1
	if i1 == n {
		i1 = 0
	}
	return lerp(float64(buf[i0]), float64(buf[i1]), p-fl)
}
