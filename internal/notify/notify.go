// Package notify raises desktop notifications for UI events.
package notify

import (
	"log/slog"
	"strings"

	"github.com/gen2brain/beeep"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
)

const title = "Loqa Dictation"

// Notifier filters UI events by configuration and shows the survivors.
type Notifier struct {
	cfg  config.NotificationsConfig
	send func(title, message, icon string) error
	log  *slog.Logger
}

func New(cfg config.NotificationsConfig, log *slog.Logger) *Notifier {
	return &Notifier{
		cfg:  cfg,
		send: beeep.Notify,
		log:  log.With(slog.String("component", "notify")),
	}
}

// Wants reports whether ev would produce a notification.
func (n *Notifier) Wants(ev protocol.UIEvent) bool {
	if n == nil || !n.cfg.Enabled || strings.TrimSpace(ev.Text) == "" {
		return false
	}
	switch ev.Kind {
	case protocol.UITranscription:
		return n.cfg.Transcripts
	case protocol.UIStatus:
		if strings.HasPrefix(ev.Text, "Error") || strings.HasPrefix(ev.Text, "Failed") {
			return true
		}
		return n.cfg.StatusUpdates
	}
	return false
}

// Notify shows ev when the configuration asks for it. Failures are logged.
func (n *Notifier) Notify(ev protocol.UIEvent) {
	if !n.Wants(ev) {
		return
	}
	if err := n.send(title, ev.Text, ""); err != nil {
		n.log.Debug("desktop notification failed", slog.String("error", err.Error()))
	}
}
