// Package audio holds the waveform primitives shared by speech synthesis
// and playback: amplitude normalization, validation, WAV encoding and an
// on-disk cache of synthesized speech.
package audio

import (
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWaveform is returned for empty or corrupt audio.
var ErrInvalidWaveform = errors.New("invalid waveform")

// Waveform is mono PCM audio with samples nominally in [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length in seconds.
func (w Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// Normalize scales samples in place by 1/peak when any sample falls
// outside [-1, 1]. In-range audio is left untouched.
func Normalize(samples []float32) {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	if peak <= 1 {
		return
	}
	scale := 1 / peak
	for i, s := range samples {
		samples[i] = float32(float64(s) * scale)
	}
}

// Validate rejects empty audio, NaN samples and missing sample rates.
func Validate(w Waveform) error {
	if len(w.Samples) == 0 {
		return fmt.Errorf("%w: no samples", ErrInvalidWaveform)
	}
	if w.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidWaveform, w.SampleRate)
	}
	for i, s := range w.Samples {
		if math.IsNaN(float64(s)) {
			return fmt.Errorf("%w: NaN at sample %d", ErrInvalidWaveform, i)
		}
	}
	return nil
}

// Concat joins segments that share a sample rate. The first segment's rate
// wins; segments at a different rate are rejected.
func Concat(segments []Waveform) (Waveform, error) {
	var out Waveform
	for _, seg := range segments {
		if out.SampleRate == 0 {
			out.SampleRate = seg.SampleRate
		} else if seg.SampleRate != out.SampleRate {
			return Waveform{}, fmt.Errorf("%w: mixed sample rates %d and %d", ErrInvalidWaveform, out.SampleRate, seg.SampleRate)
		}
		out.Samples = append(out.Samples, seg.Samples...)
	}
	return out, nil
}

// ToStereo duplicates each mono sample into an interleaved L/R pair.
func ToStereo(samples []float32) []float32 {
	out := make([]float32, len(samples)*2)
	for i, s := range samples {
		out[2*i] = s
		out[2*i+1] = s
	}
	return out
}

// DecodeWAV reads a PCM WAV stream into a mono waveform, averaging
// channels when the source is multi-channel.
func DecodeWAV(r io.ReadSeeker) (Waveform, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Waveform{}, fmt.Errorf("%w: not a PCM WAV file", ErrInvalidWaveform)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("decoding wav: %w", err)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	depth := int(dec.BitDepth)
	if depth <= 0 {
		depth = 16
	}
	full := float64(int(1) << (depth - 1))

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[f*channels+c])
		}
		samples[f] = float32(sum / float64(channels) / full)
	}
	return Waveform{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// EncodeWAV writes w as 16-bit mono PCM. Samples are clipped to [-1, 1].
func EncodeWAV(dst io.WriteSeeker, w Waveform) error {
	enc := wav.NewEncoder(dst, w.SampleRate, 16, 1, 1)
	data := make([]int, len(w.Samples))
	for i, s := range w.Samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		data[i] = int(math.Round(v * 32767))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: w.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encoding wav: %w", err)
	}
	return enc.Close()
}

// Resample converts samples between rates by linear interpolation.
func Resample(samples []float32, from, to int) []float32 {
	if from <= 0 || to <= 0 || from == to || len(samples) == 0 {
		return samples
	}
	n := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	if n < 1 {
		n = 1
	}
	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}
