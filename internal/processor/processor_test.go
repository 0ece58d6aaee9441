package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/audio"
	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/vad"
)

type recordingSink struct {
	mu       sync.Mutex
	events   []bool
	statuses []string
}

func (s *recordingSink) SilenceDetected(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, silent)
}

func (s *recordingSink) Status(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, message)
}

func (s *recordingSink) silenceEvents() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.events...)
}

type chanForwarder chan audio.Chunk

func (f chanForwarder) ProcessAudioChunk(chunk audio.Chunk) { f <- chunk }

func (f chanForwarder) collect(t *testing.T, n int) []audio.Chunk {
	t.Helper()
	out := make([]audio.Chunk, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case c := <-f:
			out = append(out, c)
		case <-timeout:
			t.Fatalf("timed out after %d of %d chunks", len(out), n)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// steppingClock advances by step on every call.
func steppingClock(step time.Duration) func() time.Time {
	now := time.Unix(0, 0)
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

func energySettings() *config.Settings {
	s := config.DefaultSettings()
	s.EnableDenoise = false
	s.VADMode = config.VADEnergy
	s.SilenceThresholdMS = 100
	return &s
}

func newTestProcessor(t *testing.T, opts Options) (*Processor, *recordingSink, chanForwarder) {
	t.Helper()
	sink := &recordingSink{}
	fwd := make(chanForwarder, 1024)
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}
	p, err := New(opts, sink, fwd, testLogger())
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		p.Shutdown()
		cancel()
	})
	p.Start(ctx)
	return p, sink, fwd
}

func TestChunksPassThroughInOrder(t *testing.T) {
	p, _, fwd := newTestProcessor(t, Options{Settings: energySettings(), Now: steppingClock(10 * time.Millisecond)})

	const n = 200
	for i := 0; i < n; i++ {
		p.ProcessChunk(audio.Chunk{float32(i) / 1000, 0.5})
	}
	got := fwd.collect(t, n)
	for i, c := range got {
		if c[0] != float32(i)/1000 {
			t.Fatalf("chunk %d out of order: %v", i, c)
		}
	}
}

func TestContinuousSilenceReportedOnce(t *testing.T) {
	p, sink, fwd := newTestProcessor(t, Options{Settings: energySettings(), Now: steppingClock(20 * time.Millisecond)})

	for i := 0; i < 100; i++ {
		p.ProcessChunk(make(audio.Chunk, 160))
	}
	fwd.collect(t, 100)

	events := sink.silenceEvents()
	if len(events) != 1 || !events[0] {
		t.Fatalf("expected exactly one silence event, got %v", events)
	}
}

func TestVoiceAfterSilenceReported(t *testing.T) {
	p, sink, fwd := newTestProcessor(t, Options{Settings: energySettings(), Now: steppingClock(20 * time.Millisecond)})

	loud := make(audio.Chunk, 160)
	for i := range loud {
		loud[i] = 0.5
	}
	for i := 0; i < 30; i++ {
		p.ProcessChunk(make(audio.Chunk, 160))
	}
	for i := 0; i < 30; i++ {
		p.ProcessChunk(audio.Clone(loud))
	}
	fwd.collect(t, 60)

	events := sink.silenceEvents()
	if len(events) != 2 || !events[0] || events[1] {
		t.Fatalf("expected [true false], got %v", events)
	}
}

func TestStartReportsInitialization(t *testing.T) {
	_, sink, _ := newTestProcessor(t, Options{Settings: energySettings()})
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.statuses) != 1 || sink.statuses[0] != "Audio processor initialized (denoise: false, VAD: true)" {
		t.Fatalf("unexpected statuses %v", sink.statuses)
	}
}

type countingEngine struct {
	calls   *atomic.Int64
	lengths chan int
}

func (e countingEngine) IsVoice(frame []int16, _ int) (bool, error) {
	e.calls.Add(1)
	e.lengths <- len(frame)
	return true, nil
}

func TestVADEvaluatesWholeFramesOnly(t *testing.T) {
	settings := energySettings()
	settings.VADMode = config.VADQuality
	var calls atomic.Int64
	lengths := make(chan int, 64)
	factory := func() (vad.Engine, error) { return countingEngine{calls: &calls, lengths: lengths}, nil }

	p, _, fwd := newTestProcessor(t, Options{Settings: settings, VADFactory: factory})
	if !p.EngineActive() {
		t.Fatal("expected vad engine to be active")
	}

	// 1600 samples at 16 kHz hold three whole 30 ms frames.
	p.ProcessChunk(make(audio.Chunk, 1600))
	// Shorter than one frame: forwarded, never classified.
	p.ProcessChunk(make(audio.Chunk, 100))
	p.ProcessChunk(audio.Chunk{})
	got := fwd.collect(t, 3)

	if len(got[0]) != 1600 || len(got[1]) != 100 || len(got[2]) != 0 {
		t.Fatalf("chunks modified in transit: %d %d %d", len(got[0]), len(got[1]), len(got[2]))
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 vad calls, got %d", calls.Load())
	}
	for i := 0; i < 3; i++ {
		if l := <-lengths; l != 480 {
			t.Fatalf("expected 480 sample frames, got %d", l)
		}
	}
}

func TestVADFactoryFailureFallsBackToEnergy(t *testing.T) {
	settings := energySettings()
	settings.VADMode = config.VADAggressive
	factory := func() (vad.Engine, error) { return nil, errors.New("no engine") }

	p, sink, fwd := newTestProcessor(t, Options{Settings: settings, VADFactory: factory, Now: steppingClock(20 * time.Millisecond)})
	if p.EngineActive() {
		t.Fatal("expected energy fallback")
	}
	for i := 0; i < 20; i++ {
		p.ProcessChunk(make(audio.Chunk, 160))
	}
	fwd.collect(t, 20)
	if events := sink.silenceEvents(); len(events) != 1 {
		t.Fatalf("expected energy classification to report silence, got %v", events)
	}
}

type halfDenoiser struct {
	size int
	fail bool
	mu   sync.Mutex
	seen [][]float32
}

func (d *halfDenoiser) FrameSize() int { return d.size }

func (d *halfDenoiser) ProcessFrame(out, in []float32) error {
	d.mu.Lock()
	d.seen = append(d.seen, append([]float32(nil), in...))
	d.mu.Unlock()
	if d.fail {
		return errors.New("denoise failed")
	}
	for i, v := range in {
		out[i] = v / 2
	}
	return nil
}

func TestDenoiseFramesAndPadsLastBlock(t *testing.T) {
	settings := energySettings()
	settings.EnableDenoise = true
	settings.EnableVAD = false
	d := &halfDenoiser{size: 4}

	p, _, fwd := newTestProcessor(t, Options{Settings: settings, Denoiser: d})
	p.ProcessChunk(audio.Chunk{1, 2, 3, 4, 5, 6})
	got := fwd.collect(t, 1)[0]

	want := audio.Chunk{0.5, 1, 1.5, 2, 2.5, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.seen) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(d.seen))
	}
	last := d.seen[1]
	if last[0] != 5 || last[1] != 6 || last[2] != 0 || last[3] != 0 {
		t.Fatalf("expected zero padded last frame, got %v", last)
	}
}

func TestDenoiseFailureKeepsOriginalSamples(t *testing.T) {
	settings := energySettings()
	settings.EnableDenoise = true
	settings.EnableVAD = false

	p, _, fwd := newTestProcessor(t, Options{Settings: settings, Denoiser: &halfDenoiser{size: 4, fail: true}})
	p.ProcessChunk(audio.Chunk{1, 2, 3})
	got := fwd.collect(t, 1)[0]
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected original samples, got %v", got)
	}
}

func TestProcessChunkRejectedAfterShutdown(t *testing.T) {
	p, _, _ := newTestProcessor(t, Options{Settings: energySettings()})
	p.Shutdown()
	if p.ProcessChunk(audio.Chunk{0}) {
		t.Fatal("expected chunk to be rejected after shutdown")
	}
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("processor goroutine did not exit")
	}
}
