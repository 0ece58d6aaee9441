package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/coordinator"
	"github.com/loqalabs/loqa-dictation/internal/eventstore"
	"github.com/loqalabs/loqa-dictation/internal/metrics"
	"github.com/loqalabs/loqa-dictation/internal/notify"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
)

type fakePipeline struct {
	mu       sync.Mutex
	calls    []string
	keyboard []bool
	events   chan protocol.UIEvent
	done     chan struct{}
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{events: make(chan protocol.UIEvent, 8), done: make(chan struct{})}
}

func (f *fakePipeline) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakePipeline) StartListening() { f.record("start") }
func (f *fakePipeline) StopListening()  { f.record("stop") }
func (f *fakePipeline) ToggleKeyboardOutput(enabled bool) {
	f.mu.Lock()
	f.keyboard = append(f.keyboard, enabled)
	f.mu.Unlock()
	f.record("keyboard")
}

func (f *fakePipeline) NextEvent(ctx context.Context) (protocol.UIEvent, bool) {
	select {
	case ev, ok := <-f.events:
		return ev, ok
	case <-ctx.Done():
		return protocol.UIEvent{}, false
	}
}

func (f *fakePipeline) Health() coordinator.Health {
	return coordinator.Health{Capture: true, Transcriber: true, Commands: 2}
}

func (f *fakePipeline) Shutdown()             { close(f.events) }
func (f *fakePipeline) Done() <-chan struct{} { return f.done }

func (f *fakePipeline) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRuntime(t *testing.T) (*Runtime, *fakePipeline) {
	t.Helper()
	cfg := config.Default()
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "events.db")
	log := newLogger()

	store, err := eventstore.Open(context.Background(), cfg.EventStore, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	rt := New(cfg, log)
	rt.store = store
	rt.metrics = metrics.New(log)
	rt.notifier = notify.New(cfg.Notifications, log)
	if err := store.BeginRun(context.Background(), rt.runID, cfg.RuntimeName); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	pipe := newFakePipeline()
	rt.pipeline = pipe
	return rt, pipe
}

func TestControlEndpoints(t *testing.T) {
	rt, pipe := newTestRuntime(t)
	srv := httptest.NewServer(rt.routes())
	defer srv.Close()

	for _, path := range []string{"/listen/start", "/keyboard?enabled=true", "/listen/stop"} {
		resp, err := http.Post(srv.URL+path, "text/plain", nil)
		if err != nil {
			t.Fatalf("post %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("%s: expected 202, got %d", path, resp.StatusCode)
		}
	}

	resp, err := http.Post(srv.URL+"/keyboard?enabled=maybe", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad toggle, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/listen/start")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.StatusCode)
	}

	got := pipe.snapshot()
	want := []string{"start", "keyboard", "stop"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected calls %v, got %v", want, got)
	}
}

func TestReadyAndHealth(t *testing.T) {
	rt, _ := newTestRuntime(t)
	srv := httptest.NewServer(rt.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready, got %d", resp.StatusCode)
	}

	rt.ready.Store(true)
	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if !health.Ready || health.RunID != rt.runID || !health.Pipeline.Capture || health.Pipeline.Commands != 2 {
		t.Fatalf("unexpected health %+v", health)
	}
	if health.Bus {
		t.Fatal("bus must report unhealthy when not connected")
	}
}

func TestDrainRecordsTranscripts(t *testing.T) {
	rt, pipe := newTestRuntime(t)

	now := time.Now().UTC()
	pipe.events <- protocol.UIEvent{Kind: protocol.UIStatus, Text: "Initialized", Timestamp: now}
	pipe.events <- protocol.UIEvent{Kind: protocol.UITranscription, Text: "hello world", Timestamp: now.Add(time.Millisecond)}
	pipe.Shutdown()
	rt.drainEvents(context.Background())

	srv := httptest.NewServer(rt.routes())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/transcripts?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var entries []eventstore.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode transcripts: %v", err)
	}
	if len(entries) != 1 || entries[0].Text != "hello world" || entries[0].RunID != rt.runID {
		t.Fatalf("unexpected transcripts %+v", entries)
	}

	all, err := rt.store.ListRun(context.Background(), rt.runID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Text != "Initialized" {
		t.Fatalf("expected status and transcription in run history, got %+v", all)
	}
}

func TestTranscriptsRejectsBadLimit(t *testing.T) {
	rt, _ := newTestRuntime(t)
	srv := httptest.NewServer(rt.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/transcripts?limit=zero")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestConsoleCommands(t *testing.T) {
	pipe := newFakePipeline()
	input := "start\n\nkeyboard on\nkeyboard sideways\nbogus\nKEYBOARD OFF\nstop\nquit\nstart\n"
	runConsole(strings.NewReader(input), pipe, newLogger())

	got := pipe.snapshot()
	want := []string{"start", "keyboard", "keyboard", "stop"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if len(pipe.keyboard) != 2 || !pipe.keyboard[0] || pipe.keyboard[1] {
		t.Fatalf("unexpected keyboard toggles %v", pipe.keyboard)
	}
}
