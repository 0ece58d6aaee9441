// Package keyboard types recognized text into the focused application.
// Output is disabled until explicitly enabled.
package keyboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/mailbox"
)

// ErrUnavailable is returned when no keystroke injector can be created.
var ErrUnavailable = errors.New("keyboard: controller unavailable")

const StatusDisabled = "Keyboard output is disabled (enable in settings)"

// Typer injects text as keystrokes.
type Typer interface {
	Type(text string) error
	Close() error
}

// Sink receives status messages.
type Sink interface {
	Status(message string)
}

type messageKind int

const (
	msgType messageKind = iota
	msgEnable
)

type message struct {
	kind    messageKind
	text    string
	enabled bool
}

type Output struct {
	typer Typer
	delay time.Duration
	sink  Sink
	inbox *mailbox.Mailbox[message]
	log   *slog.Logger
	done  chan struct{}

	// enabled is owned by the run goroutine.
	enabled bool
}

// New wraps typer in an actor. delay is waited before every injection so
// the user can focus the target window.
func New(typer Typer, delay time.Duration, sink Sink, log *slog.Logger) (*Output, error) {
	if typer == nil {
		return nil, ErrUnavailable
	}
	return &Output{
		typer: typer,
		delay: delay,
		sink:  sink,
		inbox: mailbox.New[message](0),
		log:   log.With(slog.String("component", "keyboard-output")),
		done:  make(chan struct{}),
	}, nil
}

func (o *Output) Start(ctx context.Context) {
	o.sink.Status("Keyboard output initialized (disabled by default)")
	go o.run(ctx)
}

// TypeText queues text for injection.
func (o *Output) TypeText(text string) {
	if !o.inbox.Send(message{kind: msgType, text: text}) {
		o.log.Debug("type request rejected after shutdown")
	}
}

// Enable turns output on or off.
func (o *Output) Enable(enabled bool) {
	o.inbox.Send(message{kind: msgEnable, enabled: enabled})
}

// Shutdown stops accepting requests. Queued requests are handled before
// the typer is closed.
func (o *Output) Shutdown() {
	o.inbox.Close()
}

func (o *Output) Done() <-chan struct{} { return o.done }

func (o *Output) run(ctx context.Context) {
	defer close(o.done)
	defer func() {
		if err := o.typer.Close(); err != nil {
			o.log.Warn("failed to close typer", slog.String("error", err.Error()))
		}
	}()

	for {
		msg, ok := o.inbox.Receive(ctx)
		if !ok {
			return
		}
		switch msg.kind {
		case msgEnable:
			o.enabled = msg.enabled
			status := "Keyboard output disabled"
			if msg.enabled {
				status = "Keyboard output enabled"
			}
			o.log.Info(status)
			o.sink.Status(status)
		case msgType:
			if !o.typeText(ctx, msg.text) {
				return
			}
		}
	}
}

// typeText returns false when ctx ended during the delay.
func (o *Output) typeText(ctx context.Context, text string) bool {
	if !o.enabled {
		o.log.Info("keyboard output is disabled, not typing", slog.String("text", text))
		o.sink.Status(StatusDisabled)
		return true
	}
	if o.delay > 0 {
		timer := time.NewTimer(o.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
	if err := o.typer.Type(text); err != nil {
		o.log.Error("failed to type text", slog.String("error", err.Error()))
		o.sink.Status(fmt.Sprintf("Failed to type text: %v", err))
		return true
	}
	o.log.Info("typed text", slog.Int("length", len(text)))
	o.sink.Status("Typed text: " + text)
	return true
}
