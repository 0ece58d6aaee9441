package keyboard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeTyper struct {
	mu     sync.Mutex
	typed  []string
	err    error
	closed bool
}

func (f *fakeTyper) Type(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.typed = append(f.typed, text)
	return nil
}

func (f *fakeTyper) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTyper) snapshot() ([]string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.typed...), f.closed
}

type chanSink chan string

func (c chanSink) Status(m string) { c <- m }

func (c chanSink) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-c:
		if got != want {
			t.Fatalf("expected status %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("status %q not reported", want)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func start(t *testing.T, typer Typer, delay time.Duration) (*Output, chanSink) {
	t.Helper()
	sink := make(chanSink, 32)
	out, err := New(typer, delay, sink, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	out.Start(ctx)
	sink.expect(t, "Keyboard output initialized (disabled by default)")
	return out, sink
}

func TestNewWithoutTyper(t *testing.T) {
	if _, err := New(nil, 0, make(chanSink, 1), testLogger()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestDisabledByDefault(t *testing.T) {
	typer := &fakeTyper{}
	out, sink := start(t, typer, 0)

	out.TypeText("hello world")
	sink.expect(t, StatusDisabled)
	if typed, _ := typer.snapshot(); len(typed) != 0 {
		t.Fatalf("nothing should be typed while disabled, got %v", typed)
	}
}

func TestEnableThenType(t *testing.T) {
	typer := &fakeTyper{}
	out, sink := start(t, typer, 20*time.Millisecond)

	out.Enable(true)
	sink.expect(t, "Keyboard output enabled")
	began := time.Now()
	out.TypeText("hello")
	sink.expect(t, "Typed text: hello")
	if elapsed := time.Since(began); elapsed < 20*time.Millisecond {
		t.Fatalf("expected output delay to be honored, took %v", elapsed)
	}

	out.Enable(false)
	sink.expect(t, "Keyboard output disabled")
	out.TypeText("again")
	sink.expect(t, StatusDisabled)

	if typed, _ := typer.snapshot(); len(typed) != 1 || typed[0] != "hello" {
		t.Fatalf("unexpected typed %v", typed)
	}
}

func TestTypeFailureReported(t *testing.T) {
	typer := &fakeTyper{err: errors.New("no display")}
	out, sink := start(t, typer, 0)
	out.Enable(true)
	sink.expect(t, "Keyboard output enabled")
	out.TypeText("x")
	sink.expect(t, "Failed to type text: no display")
}

func TestShutdownClosesTyper(t *testing.T) {
	typer := &fakeTyper{}
	out, _ := start(t, typer, 0)
	out.Shutdown()
	select {
	case <-out.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("keyboard output did not stop")
	}
	if _, closed := typer.snapshot(); !closed {
		t.Fatal("expected typer to be closed")
	}
}
