package wtsynth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"golang.org/x/sync/errgroup"

	"github.com/cbegin/wtsynth-go/internal/params"
	intseq "github.com/cbegin/wtsynth-go/internal/sequencer"
	"github.com/cbegin/wtsynth-go/internal/synth"
	"github.com/cbegin/wtsynth-go/internal/voice"
	"github.com/cbegin/wtsynth-go/internal/wavestore"
)

// RenderSamples renders seconds of score through a default instrument.
func RenderSamples(score *intseq.Score, sampleRate int, seconds float64) ([]float32, error) {
	inst, err := synth.New(sampleRate, synth.DefaultParams())
	if err != nil {
		return nil, err
	}
	return RenderWith(inst, score, seconds), nil
}

// RenderWith renders seconds of score through inst, which must not be
// streaming at the same time.
func RenderWith(inst *synth.Instrument, score *intseq.Score, seconds float64) []float32 {
	seq := intseq.New(score, inst, inst.SampleRate())
	frames := int(float64(inst.SampleRate()) * seconds)
	out := make([]float32, frames*2)
	seq.Process(out)
	return out
}

// NoteSpec is one note of an offline render.
type NoteSpec struct {
	Note     voice.Note
	Start    float64 // seconds
	Duration float64 // seconds until release
}

// RenderNotes renders every note on its own instrument in parallel and
// mixes the results into seconds of interleaved stereo. Each note is clamped
// by its own instrument and the mix is clamped again.
func RenderNotes(ctx context.Context, snap *params.Snapshot, bank *wavestore.Bank, sampleRate int, notes []NoteSpec, seconds float64) ([]float32, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	frames := int(float64(sampleRate) * seconds)
	parts := make([][]float32, len(notes))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, n := range notes {
		g.Go(func() error {
			p := synth.DefaultParams()
			p.Polyphony = 1
			p.ControlBlock = 1
			p.Seed += uint64(i)
			inst, err := synth.New(sampleRate, p)
			if err != nil {
				return err
			}
			if snap != nil {
				inst.Publish(snap)
			}
			if bank != nil {
				inst.SetBank(bank)
			}
			part, err := renderNote(ctx, inst, n, frames)
			if err != nil {
				return fmt.Errorf("note %d: %w", i, err)
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]float32, frames*2)
	for _, part := range parts {
		for j, v := range part {
			out[j] += v
		}
	}
	for j, v := range out {
		out[j] = max(-1, min(1, v))
	}
	return out, nil
}

func renderNote(ctx context.Context, inst *synth.Instrument, n NoteSpec, frames int) ([]float32, error) {
	rate := float64(inst.SampleRate())
	start := int(n.Start * rate)
	stop := start + int(n.Duration*rate)
	out := make([]float32, frames*2)
	if start < 0 || start >= frames {
		return out, nil
	}
	id := -1
	for f := start; f < frames; f++ {
		if f%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if id < 0 {
			nt := n.Note
			nt.Offset = 0
			id = inst.Trigger(nt)
		}
		if f == stop {
			inst.NoteOff(id)
		}
		out[f*2], out[f*2+1] = inst.RenderFrame()
		if f > stop && inst.ActiveVoiceCount() == 0 {
			break
		}
	}
	return out, nil
}

// EncodeWAVFloat32LE wraps interleaved samples in a 32-bit float WAV file.
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(samples)*4)
	_ = WriteWAVFloat32(&buf, samples, sampleRate, channels)
	return buf.Bytes()
}

type wavHeader struct {
	RIFF       [4]byte
	ChunkSize  uint32
	WAVE       [4]byte
	Fmt        [4]byte
	FmtSize    uint32
	Format     uint16
	Channels   uint16
	SampleRate uint32
	ByteRate   uint32
	BlockAlign uint16
	Bits       uint16
	Data       [4]byte
	DataSize   uint32
}

// WriteWAVFloat32 streams a 32-bit IEEE float WAV file to w.
func WriteWAVFloat32(w io.Writer, samples []float32, sampleRate int, channels int) error {
	dataSize := uint32(len(samples) * 4)
	h := wavHeader{
		RIFF:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:  36 + dataSize,
		WAVE:       [4]byte{'W', 'A', 'V', 'E'},
		Fmt:        [4]byte{'f', 'm', 't', ' '},
		FmtSize:    16,
		Format:     3,
		Channels:   uint16(channels),
		SampleRate: uint32(sampleRate),
		ByteRate:   uint32(sampleRate * channels * 4),
		BlockAlign: uint16(channels * 4),
		Bits:       32,
		Data:       [4]byte{'d', 'a', 't', 'a'},
		DataSize:   dataSize,
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return err
	}
	chunk := make([]byte, 4096)
	for len(samples) > 0 {
		n := min(len(samples), len(chunk)/4)
		for i, s := range samples[:n] {
			binary.LittleEndian.PutUint32(chunk[i*4:], math.Float32bits(s))
		}
		if _, err := w.Write(chunk[:n*4]); err != nil {
			return err
		}
		samples = samples[n:]
	}
	return nil
}

// WriteWAV encodes interleaved stereo samples as integer PCM at bitDepth
// (16 or 24) through go-audio's encoder.
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate int, bitDepth int) error {
	if bitDepth != 16 && bitDepth != 24 {
		return fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	scale := float64(int(1)<<(bitDepth-1)) - 1
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(math.Max(-1, math.Min(1, float64(s))) * scale))
	}
	enc := wav.NewEncoder(w, sampleRate, bitDepth, 2, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return enc.Close()
}
