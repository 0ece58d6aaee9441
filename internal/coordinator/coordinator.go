// Package coordinator wires the dictation pipeline together and routes
// every message between its actors and the UI.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/audio"
	"github.com/loqalabs/loqa-dictation/internal/capture"
	"github.com/loqalabs/loqa-dictation/internal/command"
	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/denoise"
	"github.com/loqalabs/loqa-dictation/internal/keyboard"
	"github.com/loqalabs/loqa-dictation/internal/mailbox"
	"github.com/loqalabs/loqa-dictation/internal/metrics"
	"github.com/loqalabs/loqa-dictation/internal/processor"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
	"github.com/loqalabs/loqa-dictation/internal/stt"
	"github.com/loqalabs/loqa-dictation/internal/vad"
)

// Transcriber is the part of the transcriber actor the coordinator uses.
type Transcriber interface {
	ProcessAudioChunk(chunk audio.Chunk)
	Shutdown()
	Done() <-chan struct{}
}

type Options struct {
	Settings *config.Settings
	Stream   capture.StreamConfig
	// MailboxCapacity caps the audio carrying mailboxes. Zero is unbounded.
	MailboxCapacity    int
	TranscriberCommand string

	Driver      capture.Driver
	NewDenoiser func() (denoise.Denoiser, error)
	VADFactory  vad.Factory
	NewTyper    func() (keyboard.Typer, error)
	Launcher    command.Launcher
	Metrics     *metrics.Pipeline
}

type messageKind int

const (
	msgStartListening messageKind = iota
	msgStopListening
	msgToggleKeyboard
	msgStatus
	msgTranscription
	msgSilence
)

type message struct {
	kind    messageKind
	text    string
	enabled bool
}

type Coordinator struct {
	opts     Options
	settings *config.Settings
	inbox    *mailbox.Mailbox[message]
	ui       *mailbox.Mailbox[protocol.UIEvent]
	log      *slog.Logger
	done     chan struct{}

	// Children are assigned in Start and never reassigned. A nil child is
	// unavailable.
	source      *capture.Source
	processor   *processor.Processor
	transcriber Transcriber
	keyboard    *keyboard.Output
	dispatcher  *command.Dispatcher

	outputEnabled atomic.Bool
	started       atomic.Bool
	shutdownOnce  sync.Once
}

// childDrainTimeout bounds how long the inbox stays open after Shutdown for
// the children's final statuses.
const childDrainTimeout = 2 * time.Second

func New(opts Options, log *slog.Logger) (*Coordinator, error) {
	if opts.Settings == nil {
		return nil, errors.New("coordinator: settings are required")
	}
	c := &Coordinator{
		opts:     opts,
		settings: opts.Settings,
		inbox:    mailbox.New[message](0),
		ui:       mailbox.New[protocol.UIEvent](0),
		log:      log.With(slog.String("component", "coordinator")),
		done:     make(chan struct{}),
	}
	c.dispatcher = command.New(opts.Settings.Commands, opts.Launcher, opts.Metrics, log)
	return c, nil
}

// Start creates the children and begins routing. A child that fails to
// start is reported and left out; the rest of the pipeline keeps working.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("coordinator: already started")
	}
	c.log.Info("starting coordinator")

	tr, err := stt.Start(ctx, stt.Options{
		Command:         c.opts.TranscriberCommand,
		ModelPath:       c.settings.ModelPath,
		SampleRate:      c.opts.Stream.SampleRate,
		MailboxCapacity: c.opts.MailboxCapacity,
		Metrics:         c.opts.Metrics,
	}, c, c.log)
	if err != nil {
		c.reportStartFailure("transcriber", err)
	} else {
		c.transcriber = tr
	}

	forward := processor.Forwarder(discard{})
	if c.transcriber != nil {
		forward = c.transcriber
	}
	var den denoise.Denoiser
	if c.settings.EnableDenoise && c.opts.NewDenoiser != nil {
		if den, err = c.opts.NewDenoiser(); err != nil {
			c.log.Warn("denoiser unavailable", slog.String("error", err.Error()))
			den = nil
		}
	}
	proc, err := processor.New(processor.Options{
		Settings:        c.settings,
		SampleRate:      c.opts.Stream.SampleRate,
		Denoiser:        den,
		VADFactory:      c.opts.VADFactory,
		MailboxCapacity: c.opts.MailboxCapacity,
		Metrics:         c.opts.Metrics,
	}, c, forward, c.log)
	if err != nil {
		c.reportStartFailure("audio processor", err)
	} else {
		c.processor = proc
		proc.Start(ctx)
	}

	if c.opts.NewTyper == nil {
		c.reportStartFailure("keyboard output", keyboard.ErrUnavailable)
	} else if typer, err := c.opts.NewTyper(); err != nil {
		c.reportStartFailure("keyboard output", err)
	} else if out, err := keyboard.New(typer, c.settings.KeyboardOutputDelay(), c, c.log); err != nil {
		c.reportStartFailure("keyboard output", err)
	} else {
		c.keyboard = out
		out.Start(ctx)
		if c.settings.EnableKeyboardOutput {
			c.outputEnabled.Store(true)
			out.Enable(true)
		}
	}

	src, err := capture.New(c.opts.Driver, c.opts.Stream, c, c.opts.Metrics, c.log)
	if err != nil {
		c.reportStartFailure("audio capture", err)
	} else {
		c.source = src
		src.Run(ctx)
	}

	c.Status("Initialized")
	go c.run(ctx)
	return nil
}

func (c *Coordinator) reportStartFailure(child string, err error) {
	c.log.Error("failed to start "+child, slog.String("error", err.Error()))
	c.Status(fmt.Sprintf("Failed to start %s actor: %v", child, err))
}

// StartListening asks the capture source to start.
func (c *Coordinator) StartListening() { c.inbox.Send(message{kind: msgStartListening}) }

// StopListening asks the capture source to stop.
func (c *Coordinator) StopListening() { c.inbox.Send(message{kind: msgStopListening}) }

// ToggleKeyboardOutput enables or disables typing of transcriptions.
func (c *Coordinator) ToggleKeyboardOutput(enabled bool) {
	c.inbox.Send(message{kind: msgToggleKeyboard, enabled: enabled})
}

// AudioChunk routes a captured chunk to the processor, or straight to the
// transcriber when no processor is running. It is called on the capture
// goroutine and never blocks.
func (c *Coordinator) AudioChunk(chunk audio.Chunk) {
	switch {
	case c.processor != nil:
		c.processor.ProcessChunk(chunk)
	case c.transcriber != nil:
		c.transcriber.ProcessAudioChunk(chunk)
	}
}

// Status forwards a child status message to the UI.
func (c *Coordinator) Status(text string) {
	c.inbox.Send(message{kind: msgStatus, text: text})
}

// SilenceDetected forwards a segmentation transition to the UI.
func (c *Coordinator) SilenceDetected(silent bool) {
	c.inbox.Send(message{kind: msgSilence, enabled: silent})
}

// Transcription handles a final recognition result.
func (c *Coordinator) Transcription(result stt.Result) {
	if !result.Final {
		return
	}
	c.inbox.Send(message{kind: msgTranscription, text: result.Text})
}

// NextEvent blocks until a UI event is available. ok is false once the
// coordinator has shut down and every event has been delivered, or ctx is
// done.
func (c *Coordinator) NextEvent(ctx context.Context) (protocol.UIEvent, bool) {
	return c.ui.Receive(ctx)
}

// Shutdown stops capture first, then the processor, the transcriber and
// keyboard output. It does not wait for them: the inbox is closed in the
// background once every child has finished or childDrainTimeout passes.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.log.Info("coordinator shutting down")
		var children []<-chan struct{}
		if c.source != nil {
			c.source.Shutdown()
			children = append(children, c.source.Done())
		}
		if c.processor != nil {
			c.processor.Shutdown()
			children = append(children, c.processor.Done())
		}
		if c.transcriber != nil {
			c.transcriber.Shutdown()
			children = append(children, c.transcriber.Done())
		}
		if c.keyboard != nil {
			c.keyboard.Shutdown()
			children = append(children, c.keyboard.Done())
		}
		go c.closeAfter(children, childDrainTimeout)
	})
}

func (c *Coordinator) closeAfter(children []<-chan struct{}, timeout time.Duration) {
	defer c.inbox.Close()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for _, done := range children {
		select {
		case <-done:
		case <-timer.C:
			c.log.Warn("children still running, closing coordinator inbox")
			return
		}
	}
}

func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Health is a point-in-time view of the pipeline.
type Health struct {
	Capture         bool `json:"capture"`
	Listening       bool `json:"listening"`
	Processor       bool `json:"processor"`
	Transcriber     bool `json:"transcriber"`
	Keyboard        bool `json:"keyboard"`
	KeyboardEnabled bool `json:"keyboard_enabled"`
	Commands        int  `json:"commands"`
}

func (c *Coordinator) Health() Health {
	h := Health{
		Capture:         c.source != nil,
		Processor:       c.processor != nil,
		Transcriber:     c.transcriber != nil,
		Keyboard:        c.keyboard != nil,
		KeyboardEnabled: c.outputEnabled.Load(),
		Commands:        c.dispatcher.Len(),
	}
	if c.source != nil {
		h.Listening = c.source.State() == capture.Started
	}
	return h
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)
	defer c.ui.Close()

	for {
		msg, ok := c.inbox.Receive(ctx)
		if !ok {
			return
		}
		switch msg.kind {
		case msgStartListening:
			if c.source == nil {
				c.emitStatus("Error: Audio capture not available")
				continue
			}
			c.source.Start()
			c.emitStatus("Starting audio capture...")
		case msgStopListening:
			if c.source == nil {
				c.emitStatus("Error: Audio capture not available")
				continue
			}
			c.source.Stop()
			c.emitStatus("Stopping audio capture...")
		case msgToggleKeyboard:
			if c.keyboard == nil {
				c.emitStatus("Error: Keyboard output not available")
				continue
			}
			c.outputEnabled.Store(msg.enabled)
			c.keyboard.Enable(msg.enabled)
		case msgStatus:
			c.emitStatus(msg.text)
		case msgSilence:
			c.log.Info("silence state changed", slog.Bool("silent", msg.enabled))
			if msg.enabled {
				c.emitStatus("Silence detected")
			} else {
				c.emitStatus("Voice detected")
			}
		case msgTranscription:
			c.handleTranscription(ctx, msg.text)
		}
	}
}

func (c *Coordinator) handleTranscription(ctx context.Context, text string) {
	c.log.Info("received transcription", slog.String("text", text))
	c.emit(protocol.UITranscription, text)

	var kb command.Keyboard
	if c.keyboard != nil {
		kb = c.keyboard
	}
	outcome, err := c.dispatcher.Dispatch(ctx, text, kb)
	if err != nil {
		c.log.Error("error executing command", slog.String("error", err.Error()))
		c.emitStatus(fmt.Sprintf("Error executing command: %v", err))
		return
	}
	if outcome != command.NoMatch {
		c.log.Info("command executed", slog.String("outcome", outcome.String()))
		return
	}

	switch {
	case c.keyboard == nil:
		c.log.Debug("no keyboard output, transcription not typed")
	case !c.outputEnabled.Load():
		c.emitStatus(keyboard.StatusDisabled)
	default:
		c.keyboard.TypeText(text)
	}
}

func (c *Coordinator) emitStatus(text string) {
	c.emit(protocol.UIStatus, text)
}

func (c *Coordinator) emit(kind protocol.UIEventKind, text string) {
	c.ui.Send(protocol.UIEvent{Kind: kind, Text: text, Timestamp: time.Now().UTC()})
}

// discard stands in for a transcriber that failed to start.
type discard struct{}

func (d discard) ProcessAudioChunk(audio.Chunk) {}
