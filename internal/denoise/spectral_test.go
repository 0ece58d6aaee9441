package denoise

import (
	"math"
	"math/rand"
	"testing"
)

func energy(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(samples))
}

func TestProcessFrameRejectsWrongSize(t *testing.T) {
	d := NewSpectral()
	if err := d.ProcessFrame(make([]float32, 10), make([]float32, 10)); err == nil {
		t.Fatal("expected error for short frame")
	}
}

func TestSilenceStaysSilent(t *testing.T) {
	d := NewSpectral()
	in := make([]float32, FrameSize)
	out := make([]float32, FrameSize)
	for i := 0; i < 10; i++ {
		if err := d.ProcessFrame(out, in); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d: expected 0, got %f", i, v)
		}
	}
}

func TestStationaryNoiseIsAttenuated(t *testing.T) {
	d := NewSpectral()
	rng := rand.New(rand.NewSource(42))
	in := make([]float32, FrameSize)
	out := make([]float32, FrameSize)

	var inEnergy, outEnergy float64
	for frame := 0; frame < 50; frame++ {
		for i := range in {
			in[i] = float32(rng.NormFloat64() * 0.01)
		}
		if err := d.ProcessFrame(out, in); err != nil {
			t.Fatalf("process: %v", err)
		}
		if frame >= 20 {
			inEnergy += energy(in)
			outEnergy += energy(out)
		}
	}
	if outEnergy >= inEnergy*0.5 {
		t.Fatalf("expected noise to be attenuated: in=%g out=%g", inEnergy, outEnergy)
	}
}

func TestToneSurvivesAfterNoiseFloorLearned(t *testing.T) {
	d := NewSpectral()
	rng := rand.New(rand.NewSource(7))
	in := make([]float32, FrameSize)
	out := make([]float32, FrameSize)
	for frame := 0; frame < 20; frame++ {
		for i := range in {
			in[i] = float32(rng.NormFloat64() * 0.005)
		}
		_ = d.ProcessFrame(out, in)
	}
	// 1 kHz at 16 kHz lands exactly on bin 30 of a 480 point frame.
	for i := range in {
		in[i] = float32(0.5*math.Sin(2*math.Pi*1000*float64(i)/16000)) + float32(rng.NormFloat64()*0.005)
	}
	if err := d.ProcessFrame(out, in); err != nil {
		t.Fatalf("process: %v", err)
	}
	if ratio := energy(out) / energy(in); ratio < 0.8 {
		t.Fatalf("tone was attenuated too much: ratio=%f", ratio)
	}
}
