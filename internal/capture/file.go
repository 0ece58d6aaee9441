package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// FileDriver streams a PCM WAV file in buffers of FramesPerBuffer frames.
// With Realtime set, buffers are paced at the file's sample rate.
type FileDriver struct {
	Path     string
	Realtime bool
}

func (d FileDriver) Open(cfg StreamConfig, onData func([]float32), onError func(error)) (Stream, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%s is not a valid WAV file", d.Path)
	}
	if int(dec.SampleRate) != cfg.SampleRate || int(dec.NumChans) != cfg.Channels {
		f.Close()
		return nil, fmt.Errorf("audio file is %d Hz/%d ch, configured %d Hz/%d ch", dec.SampleRate, dec.NumChans, cfg.SampleRate, cfg.Channels)
	}
	if dec.BitDepth < 16 {
		f.Close()
		return nil, fmt.Errorf("unsupported bit depth %d", dec.BitDepth)
	}

	s := &fileStream{
		file: f,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	var interval time.Duration
	if d.Realtime {
		interval = time.Duration(cfg.FramesPerBuffer) * time.Second / time.Duration(cfg.SampleRate)
	}
	go s.run(dec, cfg, interval, onData, onError)
	return s, nil
}

type fileStream struct {
	file *os.File
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (s *fileStream) run(dec *wav.Decoder, cfg StreamConfig, interval time.Duration, onData func([]float32), onError func(error)) {
	defer close(s.done)

	scale := float32(int64(1) << (dec.BitDepth - 1))
	buf := &goaudio.IntBuffer{
		Format: dec.Format(),
		Data:   make([]int, cfg.FramesPerBuffer*cfg.Channels),
	}
	samples := make([]float32, len(buf.Data))

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		n, err := dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			onError(fmt.Errorf("decode audio file: %w", err))
			return
		}
		if n == 0 {
			onError(ErrStreamEnded)
			return
		}
		for i := 0; i < n; i++ {
			samples[i] = float32(buf.Data[i]) / scale
		}
		onData(samples[:n])

		if tick != nil {
			select {
			case <-s.stop:
				return
			case <-tick:
			}
		}
	}
}

func (s *fileStream) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return s.file.Close()
}
