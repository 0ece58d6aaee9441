// Package keybd types text by placing it on the clipboard and sending the
// paste shortcut, then restoring the previous clipboard contents.
package keybd

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"

	"github.com/loqalabs/loqa-dictation/internal/keyboard"
)

const (
	clipboardSettle = 80 * time.Millisecond
	pasteSettle     = 120 * time.Millisecond
)

type Typer struct {
	mu  sync.Mutex
	log *slog.Logger

	readClipboard  func() (string, error)
	writeClipboard func(string) error
	paste          func() error
}

// New creates the virtual keyboard. On Linux the uinput device needs a
// moment before the first event is delivered.
func New(log *slog.Logger) (*Typer, error) {
	if clipboard.Unsupported {
		return nil, fmt.Errorf("%w: clipboard not supported on this system", keyboard.ErrUnavailable)
	}
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", keyboard.ErrUnavailable, err)
	}
	if runtime.GOOS == "linux" {
		time.Sleep(2 * time.Second)
	}
	return &Typer{
		log:            log.With(slog.String("component", "keybd")),
		readClipboard:  clipboard.ReadAll,
		writeClipboard: clipboard.WriteAll,
		paste:          pasteShortcut(&kb),
	}, nil
}

func pasteShortcut(kb *keybd_event.KeyBonding) func() error {
	return func() error {
		kb.Clear()
		if runtime.GOOS == "darwin" {
			kb.HasSuper(true)
		} else {
			kb.HasCTRL(true)
		}
		kb.SetKeys(keybd_event.VK_V)
		return kb.Launching()
	}
}

// Type pastes text into the focused window. The previous clipboard is
// restored afterwards only when it could be read.
func (t *Typer) Type(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	orig, readErr := t.readClipboard()
	if readErr != nil {
		t.log.Warn("cannot read clipboard, it will not be restored", slog.String("error", readErr.Error()))
	}
	if err := t.writeClipboard(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	time.Sleep(clipboardSettle)

	pasteErr := t.paste()
	if pasteErr == nil {
		time.Sleep(pasteSettle)
	}
	if readErr == nil {
		if err := t.writeClipboard(orig); err != nil {
			t.log.Warn("failed to restore clipboard", slog.String("error", err.Error()))
		}
	}
	if pasteErr != nil {
		return fmt.Errorf("send paste shortcut: %w", pasteErr)
	}
	return nil
}

func (t *Typer) Close() error { return nil }
