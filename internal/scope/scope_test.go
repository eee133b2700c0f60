package scope

import (
	"sync"
	"testing"
)

func TestRingRoundsUpAndWraps(t *testing.T) {
	r := New(5)
	if r.Len() != 8 {
		t.Fatalf("Len = %d, want 8", r.Len())
	}
	for i := 0; i < 11; i++ {
		r.Push(float32(i))
	}
	dst := make([]float32, 4)
	if n := r.Snapshot(dst); n != 4 {
		t.Fatalf("n = %d", n)
	}
	want := []float32{7, 8, 9, 10}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("snapshot = %v, want %v", dst, want)
		}
	}
}

func TestSnapshotBeforeFill(t *testing.T) {
	r := New(16)
	r.Push(1)
	r.Push(2)
	dst := make([]float32, 10)
	if n := r.Snapshot(dst); n != 2 || dst[0] != 1 || dst[1] != 2 {
		t.Fatalf("n=%d dst=%v", n, dst[:2])
	}
}

func TestTapDecimates(t *testing.T) {
	r := New(64)
	tap := NewTap(r, 4)
	for i := 1; i <= 20; i++ {
		tap.Feed(float32(i))
	}
	if r.Written() != 5 {
		t.Fatalf("written = %d, want 5", r.Written())
	}
	dst := make([]float32, 5)
	r.Snapshot(dst)
	if dst[0] != 4 || dst[4] != 20 {
		t.Fatalf("decimated = %v", dst)
	}
	var nilTap *Tap
	nilTap.Feed(1)
}

func TestConcurrentReaders(t *testing.T) {
	r := New(256)
	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dst := make([]float32, 128)
			for {
				select {
				case <-done:
					return
				default:
					r.Snapshot(dst)
				}
			}
		}()
	}
	for i := 0; i < 100000; i++ {
		r.Push(float32(i))
	}
	close(done)
	wg.Wait()
	if r.Written() != 100000 {
		t.Fatalf("written = %d", r.Written())
	}
}
