// Package audio holds the sample conversions the capture pipeline runs
// between the input device and the chunk encoder.
package audio

import (
	"encoding/binary"
	"math"
)

const TargetSampleRate = 16000

type Format struct {
	SampleRate int
	Channels   int
}

// Converter turns interleaved device samples into mono at the target
// rate. It keeps the resampling phase between calls, so a stream
// converted block by block yields the same number of samples as one
// converted whole. A zero Converter passes samples through unchanged.
type Converter struct {
	From Format
	To   Format

	// pos is the next output position in input samples, relative to the
	// start of the next block; -1 refers to prev.
	pos  float64
	prev float32
}

func NewConverter(from Format, toRate int) *Converter {
	if from.Channels <= 0 {
		from.Channels = 1
	}
	if toRate <= 0 {
		toRate = TargetSampleRate
	}
	return &Converter{From: from, To: Format{SampleRate: toRate, Channels: 1}}
}

func (c *Converter) Convert(interleaved []int16) []int16 {
	mono := Downmix(interleaved, c.From.Channels)
	if c.From.SampleRate <= 0 || c.To.SampleRate <= 0 || c.From.SampleRate == c.To.SampleRate {
		return mono
	}
	return FloatToInt16(c.resample(Int16ToFloat(mono)))
}

// resample interpolates linearly across block boundaries. An output that
// needs the first sample of the next block is held until that block
// arrives.
func (c *Converter) resample(in []float32) []float32 {
	n := len(in)
	if n == 0 {
		return nil
	}

	step := float64(c.From.SampleRate) / float64(c.To.SampleRate)
	out := make([]float32, 0, int(float64(n)/step)+2)
	for {
		idx := int(math.Floor(c.pos))
		if idx+1 >= n {
			break
		}
		frac := float32(c.pos - float64(idx))
		a := c.prev
		if idx >= 0 {
			a = in[idx]
		}
		out = append(out, a*(1-frac)+in[idx+1]*frac)
		c.pos += step
	}

	c.pos -= float64(n)
	c.prev = in[n-1]
	return out
}

// Downmix averages each frame of channels samples into one. Trailing
// samples that do not fill a frame are dropped.
func Downmix(interleaved []int16, channels int) []int16 {
	if channels <= 1 {
		return interleaved
	}

	frames := len(interleaved) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(interleaved[i*channels+ch])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// Resample is linear interpolation; good enough for speech.
func Resample(input []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(input) == 0 {
		return input
	}

	ratio := float64(toRate) / float64(fromRate)
	out := make([]float32, int(math.Ceil(float64(len(input))*ratio)))
	interpolate(out, input, ratio)
	return out
}

func interpolate(out, in []float32, ratio float64) {
	for i := range out {
		pos := float64(i) / ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		switch {
		case idx+1 < len(in):
			out[i] = in[idx]*(1-frac) + in[idx+1]*frac
		case idx < len(in):
			out[i] = in[idx]
		}
	}
}

func ResampleInt16(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate {
		return samples
	}
	return FloatToInt16(Resample(Int16ToFloat(samples), fromRate, toRate))
}

// DecodePCM16 reads little-endian 16-bit samples. An odd trailing byte
// is ignored.
func DecodePCM16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func Int16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

func FloatToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		s = max(-1.0, min(1.0, s))
		out[i] = int16(s * 32767.0)
	}
	return out
}

// SamplesFor is the number of mono samples in ms milliseconds at rate.
func SamplesFor(rate int, ms int) int {
	return rate * ms / 1000
}
