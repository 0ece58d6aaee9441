// Package vad runs a voice activity engine on a dedicated goroutine and
// exposes it through a request/response API with a per-request timeout.
package vad

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// FrameDuration is the frame length, in milliseconds, submitted to engines.
const FrameDuration = 30

var (
	ErrTimeout = errors.New("vad: classification timed out")
	ErrClosed  = errors.New("vad: worker closed")
)

// Engine classifies one frame of 16-bit PCM.
type Engine interface {
	IsVoice(frame []int16, sampleRate int) (bool, error)
}

// Factory builds an Engine. It is invoked on the worker goroutine, so
// engines that are not safe to move between threads never leave it.
type Factory func() (Engine, error)

type result struct {
	voice bool
	err   error
}

type request struct {
	frame      []int16
	sampleRate int
	reply      chan result
}

// Worker owns an Engine on its own goroutine.
type Worker struct {
	requests chan request
	done     chan struct{}
	once     sync.Once
	timeout  time.Duration
	logger   *slog.Logger
}

// StartWorker launches the worker goroutine and waits for the engine to be
// created. A factory error is returned and no goroutine is left running.
func StartWorker(factory Factory, timeout time.Duration, logger *slog.Logger) (*Worker, error) {
	if factory == nil {
		return nil, errors.New("vad: nil engine factory")
	}
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	w := &Worker{
		requests: make(chan request),
		done:     make(chan struct{}),
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "vad")),
	}

	ready := make(chan error, 1)
	go w.run(factory, ready)
	if err := <-ready; err != nil {
		return nil, fmt.Errorf("create vad engine: %w", err)
	}
	return w, nil
}

func (w *Worker) run(factory Factory, ready chan<- error) {
	engine, err := factory()
	if err != nil {
		ready <- err
		return
	}
	ready <- nil

	for {
		select {
		case <-w.done:
			w.logger.Debug("vad worker exiting")
			return
		case req := <-w.requests:
			voice, err := engine.IsVoice(req.frame, req.sampleRate)
			req.reply <- result{voice: voice, err: err}
		}
	}
}

// Classify submits one frame and waits for the verdict. It returns
// ErrTimeout when the engine does not answer in time and ErrClosed once
// Shutdown has been called.
func (w *Worker) Classify(frame []int16, sampleRate int) (bool, error) {
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	req := request{frame: frame, sampleRate: sampleRate, reply: make(chan result, 1)}
	select {
	case w.requests <- req:
	case <-w.done:
		return false, ErrClosed
	case <-timer.C:
		return false, ErrTimeout
	}

	select {
	case res := <-req.reply:
		return res.voice, res.err
	case <-w.done:
		return false, ErrClosed
	case <-timer.C:
		return false, ErrTimeout
	}
}

// Shutdown signals the worker to exit and returns immediately.
func (w *Worker) Shutdown() {
	w.once.Do(func() { close(w.done) })
}
