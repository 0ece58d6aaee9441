package notify

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
)

func TestNotifyFilters(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.NotificationsConfig
		ev   protocol.UIEvent
		want bool
	}{
		{"disabled", config.NotificationsConfig{Transcripts: true}, protocol.UIEvent{Kind: protocol.UITranscription, Text: "hi"}, false},
		{"transcript", config.NotificationsConfig{Enabled: true, Transcripts: true}, protocol.UIEvent{Kind: protocol.UITranscription, Text: "hi"}, true},
		{"transcripts off", config.NotificationsConfig{Enabled: true}, protocol.UIEvent{Kind: protocol.UITranscription, Text: "hi"}, false},
		{"plain status", config.NotificationsConfig{Enabled: true, Transcripts: true}, protocol.UIEvent{Kind: protocol.UIStatus, Text: "Voice detected"}, false},
		{"status updates", config.NotificationsConfig{Enabled: true, StatusUpdates: true}, protocol.UIEvent{Kind: protocol.UIStatus, Text: "Voice detected"}, true},
		{"error status", config.NotificationsConfig{Enabled: true}, protocol.UIEvent{Kind: protocol.UIStatus, Text: "Error: Audio capture not available"}, true},
		{"empty text", config.NotificationsConfig{Enabled: true, Transcripts: true}, protocol.UIEvent{Kind: protocol.UITranscription, Text: "  "}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sent []string
			n := New(tt.cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
			n.send = func(title, message, icon string) error {
				sent = append(sent, message)
				return nil
			}
			n.Notify(tt.ev)
			if got := len(sent) == 1; got != tt.want {
				t.Fatalf("expected notify=%v, sent %v", tt.want, sent)
			}
		})
	}
}

func TestNotifyFailureIsSwallowed(t *testing.T) {
	n := New(config.NotificationsConfig{Enabled: true, Transcripts: true}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	calls := 0
	n.send = func(string, string, string) error {
		calls++
		return errors.New("no notification daemon")
	}
	n.Notify(protocol.UIEvent{Kind: protocol.UITranscription, Text: "hello"})
	if calls != 1 {
		t.Fatalf("expected one attempt, got %d", calls)
	}
}
