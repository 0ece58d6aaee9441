// Package metrics holds the OpenTelemetry instruments shared by the
// dictation pipeline actors. A nil *Pipeline is valid and records nothing.
package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/loqalabs/loqa-dictation/pipeline"

type Pipeline struct {
	log   *slog.Logger
	meter metric.Meter

	chunksCaptured  metric.Int64Counter
	chunksForwarded metric.Int64Counter
	transcripts     metric.Int64Counter
	commands        metric.Int64Counter
	vadTimeouts     metric.Int64Counter
	chunkDuration   metric.Float64Histogram
	dropGauge       metric.Int64ObservableGauge

	mu        sync.RWMutex
	mailboxes map[string]func() uint64
}

// New creates the instruments from the global meter provider, so it must
// be called after telemetry has been configured.
func New(log *slog.Logger) *Pipeline {
	p := &Pipeline{
		log:       log.With(slog.String("component", "metrics")),
		meter:     otel.Meter(meterName),
		mailboxes: make(map[string]func() uint64),
	}
	if err := p.initMetrics(); err != nil {
		p.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return p
}

func (p *Pipeline) initMetrics() error {
	var err error
	if p.chunksCaptured, err = p.meter.Int64Counter("dictation.chunks.captured", metric.WithDescription("Audio chunks delivered by the capture driver")); err != nil {
		return err
	}
	if p.chunksForwarded, err = p.meter.Int64Counter("dictation.chunks.forwarded", metric.WithDescription("Audio chunks forwarded to the transcriber")); err != nil {
		return err
	}
	if p.transcripts, err = p.meter.Int64Counter("dictation.transcripts", metric.WithDescription("Transcription results by finality")); err != nil {
		return err
	}
	if p.commands, err = p.meter.Int64Counter("dictation.commands", metric.WithDescription("Dispatched transcriptions by outcome")); err != nil {
		return err
	}
	if p.vadTimeouts, err = p.meter.Int64Counter("dictation.vad.timeouts", metric.WithDescription("VAD frames left unclassified")); err != nil {
		return err
	}
	if p.chunkDuration, err = p.meter.Float64Histogram(ChunkDurationName, metric.WithUnit("ms"), metric.WithDescription("Time spent denoising and classifying one chunk")); err != nil {
		return err
	}
	gauge, err := p.meter.Int64ObservableGauge(MailboxDroppedName, metric.WithDescription("Messages dropped by capped mailboxes"))
	if err != nil {
		return err
	}
	p.dropGauge = gauge
	_, err = p.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		for name, dropped := range p.snapshotMailboxes() {
			obs.ObserveInt64(gauge, int64(dropped), metric.WithAttributes(attribute.String("mailbox", name)))
		}
		return nil
	}, gauge)
	return err
}

// TrackMailbox registers a drop counter to be reported under name.
func (p *Pipeline) TrackMailbox(name string, dropped func() uint64) {
	if p == nil || dropped == nil {
		return
	}
	p.mu.Lock()
	p.mailboxes[name] = dropped
	p.mu.Unlock()
}

func (p *Pipeline) snapshotMailboxes() map[string]uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]uint64, len(p.mailboxes))
	for name, fn := range p.mailboxes {
		out[name] = fn()
	}
	return out
}

// MailboxDrops returns the current drop count per tracked mailbox, sorted
// by name.
func (p *Pipeline) MailboxDrops() []MailboxDrop {
	if p == nil {
		return nil
	}
	snapshot := p.snapshotMailboxes()
	out := make([]MailboxDrop, 0, len(snapshot))
	for name, n := range snapshot {
		out = append(out, MailboxDrop{Name: name, Dropped: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type MailboxDrop struct {
	Name    string `json:"name"`
	Dropped uint64 `json:"dropped"`
}

func (p *Pipeline) ChunkCaptured() {
	if p == nil || p.chunksCaptured == nil {
		return
	}
	p.chunksCaptured.Add(context.Background(), 1)
}

func (p *Pipeline) ChunkForwarded() {
	if p == nil || p.chunksForwarded == nil {
		return
	}
	p.chunksForwarded.Add(context.Background(), 1)
}

func (p *Pipeline) Transcript(final bool) {
	if p == nil || p.transcripts == nil {
		return
	}
	p.transcripts.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("final", final)))
}

// Command records a dispatch outcome: typed, exec, no_match or error.
func (p *Pipeline) Command(ctx context.Context, outcome string) {
	if p == nil || p.commands == nil {
		return
	}
	p.commands.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (p *Pipeline) VADTimeout() {
	if p == nil || p.vadTimeouts == nil {
		return
	}
	p.vadTimeouts.Add(context.Background(), 1)
}

// ChunkProcessed records how long the processor spent on one chunk before
// forwarding it.
func (p *Pipeline) ChunkProcessed(d time.Duration) {
	if p == nil || p.chunkDuration == nil {
		return
	}
	p.chunkDuration.Record(context.Background(), float64(d)/float64(time.Millisecond))
}
