// Package denoise implements a frame-based spectral gate used to suppress
// stationary background noise before recognition.
package denoise

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FrameSize is the native frame length of the spectral gate (10 ms at 48 kHz,
// 30 ms at 16 kHz).
const FrameSize = 480

const (
	// noiseAdapt is the smoothing factor for the per-bin noise floor.
	noiseAdapt = 0.05
	// overSubtract scales the noise estimate before it is removed.
	overSubtract = 1.5
	// gainFloor keeps some residual signal to avoid musical noise.
	gainFloor = 0.08
	// warmupFrames are used to seed the noise floor.
	warmupFrames = 5
)

// Denoiser processes fixed-size frames.
type Denoiser interface {
	FrameSize() int
	ProcessFrame(out, in []float32) error
}

// Spectral is a single-channel spectral gate. It keeps a running noise floor
// per frequency bin and attenuates bins that do not rise above it. It is not
// safe for concurrent use.
type Spectral struct {
	fft    *fourier.FFT
	noise  []float64
	frames int
	buf    []float64
	coeff  []complex128
}

func NewSpectral() *Spectral {
	return &Spectral{
		fft:   fourier.NewFFT(FrameSize),
		noise: make([]float64, FrameSize/2+1),
		buf:   make([]float64, FrameSize),
		coeff: make([]complex128, FrameSize/2+1),
	}
}

func (s *Spectral) FrameSize() int { return FrameSize }

// ProcessFrame writes the denoised version of in to out. Both must hold
// exactly FrameSize samples.
func (s *Spectral) ProcessFrame(out, in []float32) error {
	if len(in) != FrameSize || len(out) != FrameSize {
		return fmt.Errorf("denoise: frame must be %d samples, got in=%d out=%d", FrameSize, len(in), len(out))
	}
	for i, v := range in {
		s.buf[i] = float64(v)
	}
	s.coeff = s.fft.Coefficients(s.coeff, s.buf)

	s.frames++
	for k, c := range s.coeff {
		mag := cmplx.Abs(c)
		switch {
		case s.frames <= warmupFrames:
			s.noise[k] += (mag - s.noise[k]) / float64(s.frames)
		case mag < s.noise[k]*2:
			s.noise[k] += noiseAdapt * (mag - s.noise[k])
		}
		if mag == 0 {
			continue
		}
		gain := 1 - overSubtract*s.noise[k]/mag
		if gain < gainFloor {
			gain = gainFloor
		}
		s.coeff[k] = c * complex(gain, 0)
	}

	s.buf = s.fft.Sequence(s.buf, s.coeff)
	scale := 1 / float64(FrameSize)
	for i, v := range s.buf {
		sample := v * scale
		if math.IsNaN(sample) || math.IsInf(sample, 0) {
			return fmt.Errorf("denoise: non-finite output at sample %d", i)
		}
		out[i] = float32(sample)
	}
	return nil
}

// Reset forgets the learned noise floor.
func (s *Spectral) Reset() {
	for i := range s.noise {
		s.noise[i] = 0
	}
	s.frames = 0
}
