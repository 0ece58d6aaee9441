// Package webrtc adapts the WebRTC voice activity detector to vad.Engine.
package webrtc

import (
	"encoding/binary"
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/loqalabs/loqa-dictation/internal/vad"
)

type Engine struct {
	detector *webrtcvad.VAD
	buf      []byte
}

// New creates a detector with the given aggressiveness (0-3) for audio at
// sampleRate. Rates the detector cannot classify in vad.FrameDuration
// frames are rejected here rather than on every frame.
func New(mode, sampleRate int) (*Engine, error) {
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("webrtc vad: mode %d out of range", mode)
	}
	if frameLen := sampleRate * vad.FrameDuration / 1000; !(*webrtcvad.VAD)(nil).ValidRateAndFrameLength(sampleRate, frameLen) {
		return nil, fmt.Errorf("webrtc vad: unsupported sample rate %d Hz", sampleRate)
	}
	detector, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: %w", err)
	}
	if err := detector.SetMode(mode); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode: %w", err)
	}
	return &Engine{detector: detector}, nil
}

// Factory returns a vad.Factory for the given aggressiveness and rate.
func Factory(mode, sampleRate int) vad.Factory {
	return func() (vad.Engine, error) {
		return New(mode, sampleRate)
	}
}

func (e *Engine) IsVoice(frame []int16, sampleRate int) (bool, error) {
	if !e.detector.ValidRateAndFrameLength(sampleRate, len(frame)) {
		return false, fmt.Errorf("webrtc vad: invalid frame of %d samples at %d Hz", len(frame), sampleRate)
	}
	if cap(e.buf) < len(frame)*2 {
		e.buf = make([]byte, len(frame)*2)
	}
	e.buf = e.buf[:len(frame)*2]
	for i, s := range frame {
		binary.LittleEndian.PutUint16(e.buf[i*2:], uint16(s))
	}
	return e.detector.Process(sampleRate, e.buf)
}
