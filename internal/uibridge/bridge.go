// Package uibridge mirrors coordinator UI events onto NATS and turns
// control messages from remote UIs into coordinator calls.
package uibridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-dictation/internal/bus"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
)

// Controller is the part of the coordinator a remote UI may drive.
type Controller interface {
	StartListening()
	StopListening()
	ToggleKeyboardOutput(enabled bool)
}

type Bridge struct {
	client *bus.Client
	ctrl   Controller
	log    *slog.Logger
	subs   []*nats.Subscription
}

// New subscribes to the control subjects. Call Close to unsubscribe.
func New(client *bus.Client, ctrl Controller, log *slog.Logger) (*Bridge, error) {
	if client == nil {
		return nil, errors.New("uibridge: nil bus client")
	}
	b := &Bridge{
		client: client,
		ctrl:   ctrl,
		log:    log.With(slog.String("component", "uibridge")),
	}

	handlers := map[string]nats.MsgHandler{
		protocol.SubjectControlStart: func(*nats.Msg) { b.ctrl.StartListening() },
		protocol.SubjectControlStop:  func(*nats.Msg) { b.ctrl.StopListening() },
		protocol.SubjectControlKeyboard: func(msg *nats.Msg) {
			var toggle protocol.KeyboardToggle
			if err := json.Unmarshal(msg.Data, &toggle); err != nil {
				b.log.Warn("invalid keyboard toggle", slog.String("error", err.Error()))
				return
			}
			b.ctrl.ToggleKeyboardOutput(toggle.Enabled)
		},
	}
	for subject, handler := range handlers {
		sub, err := client.Subscribe(subject, handler)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		b.subs = append(b.subs, sub)
	}
	return b, nil
}

// Publish forwards one UI event to its subject.
func (b *Bridge) Publish(ev protocol.UIEvent) error {
	subject := protocol.SubjectUIStatus
	if ev.Kind == protocol.UITranscription {
		subject = protocol.SubjectUITranscription
	}
	return b.client.PublishJSON(subject, ev)
}

func (b *Bridge) Close() {
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.log.Debug("unsubscribe failed", slog.String("subject", sub.Subject), slog.String("error", err.Error()))
		}
	}
	b.subs = nil
}
