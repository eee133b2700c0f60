package wavestore

import (
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// decodePCM reads a whole PCM WAV stream into interleaved floats on [-1, 1].
func decodePCM(r io.ReadSeeker) (data []float32, channels, rate int, err error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, 0, 0, ErrNotWAV
	}
	if err := decoder.FwdToPCM(); err != nil {
		return nil, 0, 0, fmt.Errorf("wavestore: seek to PCM: %w", err)
	}
	format := decoder.Format()
	bitDepth := int(decoder.SampleBitDepth())
	if bitDepth == 0 || format == nil || format.NumChannels <= 0 {
		return nil, 0, 0, fmt.Errorf("%w: unknown sample format", ErrNotWAV)
	}
	bytesPerSample := (bitDepth-1)/8 + 1
	nsamples := int(decoder.PCMLen()) / bytesPerSample
	nframes := nsamples / format.NumChannels
	if nframes == 0 {
		return nil, 0, 0, ErrNoAudio
	}
	buf := &audio.IntBuffer{
		Format:         format,
		Data:           make([]int, nframes*format.NumChannels),
		SourceBitDepth: bitDepth,
	}
	n, err := decoder.PCMBuffer(buf)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("wavestore: decode PCM: %w", err)
	}
	if n == 0 {
		return nil, 0, 0, ErrNoAudio
	}
	factor := math.Pow(2, float64(bitDepth-1))
	data = make([]float32, n)
	for i := 0; i < n; i++ {
		data[i] = float32(float64(buf.Data[i]) / factor)
	}
	return data, format.NumChannels, format.SampleRate, nil
}

// LoadSampleWAV decodes a WAV stream into a stereo Sample. Mono input is
// duplicated to both channels; channels beyond the second are ignored.
func LoadSampleWAV(r io.ReadSeeker) (*Sample, error) {
	data, channels, rate, err := decodePCM(r)
	if err != nil {
		return nil, err
	}
	frames := len(data) / channels
	if frames == 0 {
		return nil, ErrNoAudio
	}
	s := &Sample{
		L:    make([]float32, frames),
		R:    make([]float32, frames),
		Rate: rate,
	}
	for i := 0; i < frames; i++ {
		s.L[i] = data[i*channels]
		if channels > 1 {
			s.R[i] = data[i*channels+1]
		} else {
			s.R[i] = s.L[i]
		}
	}
	return s, nil
}

// TableFromWAV imports a wavetable by copying consecutive waveLen chunks of
// the mono mixdown into the slots. Slots past the end of the audio stay
// silent.
func TableFromWAV(r io.ReadSeeker, waveLen int) (*Table, error) {
	t, err := NewTable(waveLen)
	if err != nil {
		return nil, err
	}
	data, channels, _, err := decodePCM(r)
	if err != nil {
		return nil, err
	}
	frames := len(data) / channels
	dst := t.Data()
	if frames > len(dst) {
		frames = len(dst)
	}
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += data[i*channels+c]
		}
		dst[i] = sum / float32(channels)
	}
	return t, nil
}
