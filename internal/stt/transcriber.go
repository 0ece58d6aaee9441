// Package stt manages the speech recognizer subprocess. Audio chunks are
// streamed to its stdin and recognition results are read from its stdout,
// one JSON object per line in each direction.
package stt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-dictation/internal/audio"
	"github.com/loqalabs/loqa-dictation/internal/mailbox"
	"github.com/loqalabs/loqa-dictation/internal/metrics"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
)

// ErrSpawn is returned when the recognizer process cannot be started.
var ErrSpawn = errors.New("stt: failed to start transcriber process")

const maxLineSize = 4 * 1024 * 1024

// Result is a recognition result. Partial results are advisory and may be
// revised by later ones.
type Result struct {
	Text       string
	Final      bool
	Confidence *float32
}

// Sink receives final transcriptions and status messages. It is called
// from the reader and writer goroutines.
type Sink interface {
	Transcription(result Result)
	Status(message string)
}

type Options struct {
	// Command is the recognizer command line, parsed with shell quoting
	// rules.
	Command         string
	ModelPath       string
	SampleRate      int
	MailboxCapacity int
	Metrics         *metrics.Pipeline
}

type Transcriber struct {
	cmd        *exec.Cmd
	sampleRate int
	queue      *mailbox.Mailbox[audio.Chunk]
	sink       Sink
	metrics    *metrics.Pipeline
	log        *slog.Logger

	shuttingDown atomic.Bool
	writerFailed atomic.Bool

	mu      sync.Mutex
	process *os.Process

	writerDone chan struct{}
	done       chan struct{}
}

// CommandArgs returns the argv used to launch the recognizer.
func CommandArgs(opts Options) ([]string, error) {
	args, err := shellwords.NewParser().Parse(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcriber command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("transcriber command is empty")
	}
	if opts.ModelPath != "" {
		args = append(args, "--model", opts.ModelPath)
	}
	args = append(args, "--sample-rate", strconv.Itoa(opts.SampleRate))
	return args, nil
}

// Start launches the recognizer and its writer and reader goroutines, then
// reports "Transcriber ready". Errors wrap ErrSpawn.
func Start(ctx context.Context, opts Options, sink Sink, log *slog.Logger) (*Transcriber, error) {
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrSpawn, opts.SampleRate)
	}
	args, err := CommandArgs(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin: %v", ErrSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout: %v", ErrSpawn, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	t := &Transcriber{
		cmd:        cmd,
		sampleRate: opts.SampleRate,
		queue:      mailbox.New[audio.Chunk](opts.MailboxCapacity),
		sink:       sink,
		metrics:    opts.Metrics,
		log:        log.With(slog.String("component", "transcriber")),
		process:    cmd.Process,
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	opts.Metrics.TrackMailbox("transcriber", t.queue.Dropped)

	go t.writeLoop(ctx, stdin)
	go t.readLoop(stdout)

	t.log.Info("transcriber started", slog.String("command", args[0]), slog.Int("pid", cmd.Process.Pid), slog.Int("sample_rate", opts.SampleRate))
	sink.Status("Transcriber ready")
	return t, nil
}

// ProcessAudioChunk queues a chunk for the recognizer. Chunks are dropped
// once shutdown has begun or the writer has failed.
func (t *Transcriber) ProcessAudioChunk(chunk audio.Chunk) {
	if t.shuttingDown.Load() {
		t.log.Debug("chunk rejected, transcriber shutting down")
		return
	}
	if t.writerFailed.Load() {
		t.log.Debug("chunk dropped, transcriber writer stopped")
		return
	}
	t.queue.Send(chunk)
}

// Shutdown closes the chunk queue and kills the recognizer. It does not
// wait for the worker goroutines; use Done for that.
func (t *Transcriber) Shutdown() {
	if !t.shuttingDown.CompareAndSwap(false, true) {
		t.log.Debug("transcriber already shutting down")
		return
	}
	t.queue.Close()
	t.kill()
}

// Done is closed once the recognizer output has been fully read and the
// process reaped.
func (t *Transcriber) Done() <-chan struct{} { return t.done }

func (t *Transcriber) kill() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.process == nil {
		return
	}
	if err := t.process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		t.log.Warn("failed to kill transcriber", slog.String("error", err.Error()))
	}
	t.process = nil
}

func (t *Transcriber) writeLoop(ctx context.Context, stdin io.WriteCloser) {
	defer close(t.writerDone)
	// Closing stdin is the only end-of-stream signal the protocol has.
	defer stdin.Close()

	w := bufio.NewWriter(stdin)
	enc := json.NewEncoder(w)
	for {
		chunk, ok := t.queue.Receive(ctx)
		if !ok {
			t.log.Debug("transcriber writer exiting")
			return
		}
		err := enc.Encode(protocol.AudioChunkLine{Samples: chunk, SampleRate: uint32(t.sampleRate)})
		if err == nil {
			err = w.Flush()
		}
		if err != nil {
			t.writerFailed.Store(true)
			if t.shuttingDown.Load() {
				return
			}
			t.log.Error("failed to write to transcriber", slog.String("error", err.Error()))
			t.sink.Status(fmt.Sprintf("Transcriber communication error: %v", err))
			return
		}
	}
}

func (t *Transcriber) readLoop(stdout io.Reader) {
	defer close(t.done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg protocol.TranscriptionLine
		if err := json.Unmarshal(line, &msg); err != nil {
			t.log.Warn("failed to decode transcription result", slog.String("error", err.Error()), slog.String("line", string(line)))
			continue
		}
		t.handleResult(Result{Text: msg.Text, Final: msg.IsFinal, Confidence: msg.Confidence})
	}
	if err := scanner.Err(); err != nil && !t.shuttingDown.Load() {
		t.log.Error("failed to read from transcriber", slog.String("error", err.Error()))
		t.sink.Status(fmt.Sprintf("Transcriber stdout read error: %v", err))
	}

	if err := t.cmd.Wait(); err != nil && !t.shuttingDown.Load() {
		t.log.Warn("transcriber exited", slog.String("error", err.Error()))
	}
	t.log.Info("transcriber process stopped")
	t.sink.Status("Transcriber process stopped")
}

func (t *Transcriber) handleResult(res Result) {
	t.metrics.Transcript(res.Final)
	if !res.Final {
		t.sink.Status("Partial: " + res.Text)
		return
	}
	t.log.Info("received transcription", slog.String("text", res.Text))
	t.sink.Transcription(res)
	t.sink.Status("Transcribed: " + res.Text + FormatConfidence(res.Confidence))
}

// FormatConfidence renders a confidence suffix such as " (confidence: 90.0%)",
// or nothing when the recognizer did not report one.
func FormatConfidence(c *float32) string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf(" (confidence: %.1f%%)", float64(*c)*100)
}
