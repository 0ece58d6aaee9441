// Package capture owns the audio input session and turns every hardware
// buffer into one audio.Chunk for the coordinator.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-dictation/internal/audio"
	"github.com/loqalabs/loqa-dictation/internal/mailbox"
	"github.com/loqalabs/loqa-dictation/internal/metrics"
)

var (
	// ErrNoDevice is returned by drivers when no input device is available.
	ErrNoDevice = errors.New("capture: no input device found")
	// ErrStreamEnded is reported by finite drivers when input is exhausted.
	ErrStreamEnded = errors.New("capture: stream ended")
)

type StreamConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// Stream is an open capture stream. Close stops delivery and releases the
// device.
type Stream interface {
	Close() error
}

// Driver opens input streams. onData receives interleaved samples and may
// reuse its buffer after returning. onError reports a fatal stream failure.
// Both may be called from any goroutine.
type Driver interface {
	Open(cfg StreamConfig, onData func(samples []float32), onError func(err error)) (Stream, error)
}

// Sink receives captured chunks and status messages.
type Sink interface {
	AudioChunk(chunk audio.Chunk)
	Status(message string)
}

type State int

const (
	Stopped State = iota
	Started
)

type messageKind int

const (
	msgStart messageKind = iota
	msgStop
	msgStreamFailed
)

type message struct {
	kind       messageKind
	generation uint64
	err        error
}

type session struct {
	id         uuid.UUID
	stream     Stream
	generation uint64
}

type Source struct {
	driver  Driver
	cfg     StreamConfig
	sink    Sink
	metrics *metrics.Pipeline
	inbox   *mailbox.Mailbox[message]
	log     *slog.Logger
	done    chan struct{}

	// generation is bumped on every start and stop; callbacks from an older
	// session see a mismatch and drop their data.
	generation atomic.Uint64
	state      atomic.Int32

	// session is owned by the run goroutine.
	session *session
}

func New(driver Driver, cfg StreamConfig, sink Sink, m *metrics.Pipeline, log *slog.Logger) (*Source, error) {
	if driver == nil {
		return nil, ErrNoDevice
	}
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 || cfg.FramesPerBuffer <= 0 {
		return nil, fmt.Errorf("capture: invalid stream config %+v", cfg)
	}
	return &Source{
		driver:  driver,
		cfg:     cfg,
		sink:    sink,
		metrics: m,
		inbox:   mailbox.New[message](0),
		log:     log.With(slog.String("component", "audio-capture")),
		done:    make(chan struct{}),
	}, nil
}

func (s *Source) Run(ctx context.Context) {
	go s.run(ctx)
}

// Start begins streaming. Starting an already started source is a no-op.
func (s *Source) Start() { s.inbox.Send(message{kind: msgStart}) }

// Stop ends the session. Buffers delivered after this point are discarded.
func (s *Source) Stop() { s.inbox.Send(message{kind: msgStop}) }

// Shutdown stops any session and terminates the actor.
func (s *Source) Shutdown() {
	s.inbox.Send(message{kind: msgStop})
	s.inbox.Close()
}

func (s *Source) Done() <-chan struct{} { return s.done }

// State returns the current capture state.
func (s *Source) State() State { return State(s.state.Load()) }

func (s *Source) run(ctx context.Context) {
	defer close(s.done)
	defer s.closeSession(false)

	for {
		msg, ok := s.inbox.Receive(ctx)
		if !ok {
			return
		}
		switch msg.kind {
		case msgStart:
			s.handleStart()
		case msgStop:
			if s.session == nil {
				s.log.Debug("audio capture already stopped")
				continue
			}
			s.closeSession(true)
		case msgStreamFailed:
			if s.session == nil || s.session.generation != msg.generation {
				continue
			}
			s.closeSession(false)
			if errors.Is(msg.err, ErrStreamEnded) {
				s.log.Info("audio stream ended")
				s.sink.Status("Audio capture finished")
				continue
			}
			s.log.Error("audio stream failed", slog.String("error", msg.err.Error()))
			s.sink.Status(fmt.Sprintf("Error: Stream error: %v", msg.err))
		}
	}
}

func (s *Source) handleStart() {
	if s.session != nil {
		s.log.Info("audio capture already started")
		return
	}
	gen := s.generation.Add(1)
	channels := s.cfg.Channels
	onData := func(samples []float32) {
		if s.generation.Load() != gen {
			return
		}
		chunk := audio.Clone(audio.Downmix(samples, channels))
		s.metrics.ChunkCaptured()
		s.sink.AudioChunk(chunk)
	}
	onError := func(err error) {
		s.inbox.Send(message{kind: msgStreamFailed, generation: gen, err: err})
	}

	stream, err := s.driver.Open(s.cfg, onData, onError)
	if err != nil {
		s.generation.Add(1)
		s.log.Error("failed to start audio capture", slog.String("error", err.Error()))
		s.sink.Status(fmt.Sprintf("Error: %v", err))
		return
	}
	s.session = &session{id: uuid.New(), stream: stream, generation: gen}
	s.state.Store(int32(Started))
	s.log.Info("audio capture started", slog.String("session_id", s.session.id.String()), slog.Int("sample_rate", s.cfg.SampleRate))
	s.sink.Status("Audio capture started")
}

func (s *Source) closeSession(report bool) {
	if s.session == nil {
		return
	}
	s.generation.Add(1)
	if err := s.session.stream.Close(); err != nil {
		s.log.Warn("failed to close audio stream", slog.String("error", err.Error()))
	}
	s.log.Info("audio capture stopped", slog.String("session_id", s.session.id.String()))
	s.session = nil
	s.state.Store(int32(Stopped))
	if report {
		s.sink.Status("Audio capture stopped")
	}
}
