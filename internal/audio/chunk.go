package audio

import "math"

// Chunk is one hardware buffer worth of mono float32 samples in [-1, 1].
// A chunk is owned by exactly one pipeline stage at a time.
type Chunk []float32

// Clone copies src into a new chunk. Capture callbacks reuse their buffers,
// so every chunk handed to the pipeline must be a fresh copy.
func Clone(src []float32) Chunk {
	out := make(Chunk, len(src))
	copy(out, src)
	return out
}

// MeanSquare returns the mean squared amplitude of the chunk, or 0 when it
// is empty.
func (c Chunk) MeanSquare() float32 {
	if len(c) == 0 {
		return 0
	}
	var sum float64
	for _, s := range c {
		sum += float64(s) * float64(s)
	}
	return float32(sum / float64(len(c)))
}

// ToPCM16 converts float samples to signed 16-bit PCM, clamping out of range
// values.
func ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * math.MaxInt16
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// FrameLength returns the number of samples in a frame of durationMS at
// sampleRate.
func FrameLength(sampleRate, durationMS int) int {
	if sampleRate <= 0 || durationMS <= 0 {
		return 0
	}
	return sampleRate * durationMS / 1000
}

// Downmix averages interleaved channels into mono. A channel count of one
// returns the input unchanged.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += interleaved[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
