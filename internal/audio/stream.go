// Package audio streams an interleaved stereo float32 source to the sound
// card through ebiten's audio context.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// frameBytes is one stereo frame of little-endian float32.
const frameBytes = 8

// SampleSource fills dst with interleaved stereo samples.
type SampleSource interface {
	Process(dst []float32)
}

// FinishingSource is a SampleSource that can signal when playback has ended.
// When Finished returns true, the stream will return io.EOF on the next Read.
type FinishingSource interface {
	SampleSource
	Finished() bool
}

// StreamReader is the io.Reader ebiten pulls bytes from. It is read by a
// single goroutine.
type StreamReader struct {
	source   SampleSource
	finished func() bool
	scratch  []float32
	rendered atomic.Int64
}

func NewStreamReader(source SampleSource) *StreamReader {
	r := &StreamReader{source: source, finished: func() bool { return false }}
	if fs, ok := source.(FinishingSource); ok {
		r.finished = fs.Finished
	}
	return r
}

// Read renders as many whole frames as fit in p. A trailing partial frame
// is left untouched.
func (r *StreamReader) Read(p []byte) (int, error) {
	frames := len(p) / frameBytes
	if frames == 0 {
		return 0, nil
	}
	r.scratch = growFloats(r.scratch, 2*frames)
	r.source.Process(r.scratch)
	n := encodeFloats(p, r.scratch)
	r.rendered.Add(int64(frames))
	if r.finished() {
		return n, io.EOF
	}
	return n, nil
}

func growFloats(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}

// encodeFloats writes src into dst as little-endian float32 and returns the
// number of bytes written.
func encodeFloats(dst []byte, src []float32) int {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
	}
	return 4 * len(src)
}

// Frames is the number of frames rendered so far. Safe from any goroutine.
func (r *StreamReader) Frames() int64 { return r.rendered.Load() }

// Stream is one open output on the shared audio context.
type Stream struct {
	out    *ebitaudio.Player
	reader *StreamReader
}

var (
	contextOnce sync.Once
	sharedCtx   *ebitaudio.Context
	contextRate int
)

// audioContext returns the process-wide context; ebiten allows only one and
// its rate is fixed by the first caller.
func audioContext(sampleRate int) (*ebitaudio.Context, error) {
	contextOnce.Do(func() {
		contextRate = sampleRate
		sharedCtx = ebitaudio.NewContext(sampleRate)
	})
	if contextRate != sampleRate {
		return nil, fmt.Errorf("audio context runs at %d Hz, cannot open %d Hz", contextRate, sampleRate)
	}
	return sharedCtx, nil
}

// Open creates a paused stream pulling from source. bufferSize is the device
// buffer duration; zero keeps ebiten's default.
func Open(sampleRate int, source SampleSource, bufferSize time.Duration) (*Stream, error) {
	ctx, err := audioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	s := &Stream{reader: NewStreamReader(source)}
	if s.out, err = ctx.NewPlayerF32(s.reader); err != nil {
		return nil, fmt.Errorf("open audio stream: %w", err)
	}
	if bufferSize > 0 {
		s.out.SetBufferSize(bufferSize)
	}
	return s, nil
}

func (s *Stream) Play()           { s.out.Play() }
func (s *Stream) Pause()          { s.out.Pause() }
func (s *Stream) IsPlaying() bool { return s.out.IsPlaying() }

// Position is how far the listener has heard.
func (s *Stream) Position() time.Duration { return s.out.Position() }

// Rendered is the number of frames pulled from the source, which runs ahead
// of Position by the device buffer.
func (s *Stream) Rendered() int64 { return s.reader.Frames() }

// Close stops the stream. The source is not touched afterwards.
func (s *Stream) Close() error {
	s.out.Pause()
	return s.out.Close()
}
