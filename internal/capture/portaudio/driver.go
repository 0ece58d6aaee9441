// Package portaudio captures from the default input device through
// PortAudio's blocking read API.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/loqalabs/loqa-dictation/internal/capture"
)

type Driver struct {
	Log *slog.Logger
}

func (d Driver) Open(cfg capture.StreamConfig, onData func([]float32), onError func(error)) (capture.Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}
	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil {
		portaudio.Terminate()
		return nil, capture.ErrNoDevice
	}

	in := make([]float32, cfg.FramesPerBuffer*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.FramesPerBuffer, in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open stream failed: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start stream failed: %w", err)
	}

	if d.Log != nil {
		d.Log.Info("using input device", slog.String("device", dev.Name), slog.Int("sample_rate", cfg.SampleRate))
	}
	s := &deviceStream{
		stream: stream,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.readLoop(in, onData, onError)
	return s, nil
}

type deviceStream struct {
	stream *portaudio.Stream
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *deviceStream) readLoop(in []float32, onData func([]float32), onError func(error)) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			onError(err)
			return
		}
		onData(in)
	}
}

func (s *deviceStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		err = errors.Join(s.stream.Stop(), s.stream.Close(), portaudio.Terminate())
	})
	return err
}
