package audio

import (
	"math"
	"testing"
)

func TestMeanSquare(t *testing.T) {
	if got := Chunk(nil).MeanSquare(); got != 0 {
		t.Fatalf("expected 0 for empty chunk, got %f", got)
	}
	c := Chunk{0.5, -0.5, 0.5, -0.5}
	if got := c.MeanSquare(); math.Abs(float64(got)-0.25) > 1e-6 {
		t.Fatalf("expected 0.25, got %f", got)
	}
}

func TestToPCM16Clamps(t *testing.T) {
	pcm := ToPCM16([]float32{0, 1, -1, 2, -2, 0.5})
	want := []int16{0, 32767, -32767, 32767, -32768, 16383}
	for i := range want {
		if pcm[i] != want[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, want[i], pcm[i])
		}
	}
}

func TestFrameLength(t *testing.T) {
	tests := []struct {
		rate, ms, want int
	}{
		{16000, 30, 480},
		{8000, 30, 240},
		{48000, 10, 480},
		{0, 30, 0},
	}
	for _, tt := range tests {
		if got := FrameLength(tt.rate, tt.ms); got != tt.want {
			t.Errorf("FrameLength(%d, %d) = %d, want %d", tt.rate, tt.ms, got, tt.want)
		}
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	src := []float32{1, 2, 3}
	c := Clone(src)
	src[0] = 9
	if c[0] != 1 {
		t.Fatal("clone shares storage with source")
	}
}

func TestDownmix(t *testing.T) {
	mono := Downmix([]float32{1, 0, 0.5, 0.5}, 2)
	if len(mono) != 2 || mono[0] != 0.5 || mono[1] != 0.5 {
		t.Fatalf("unexpected downmix %v", mono)
	}
}
