// Package processor conditions captured audio before recognition: optional
// denoising, voice activity segmentation with hysteresis, and forwarding of
// every chunk to the transcriber.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/audio"
	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/denoise"
	"github.com/loqalabs/loqa-dictation/internal/mailbox"
	"github.com/loqalabs/loqa-dictation/internal/metrics"
	"github.com/loqalabs/loqa-dictation/internal/vad"
)

// Sink receives segmentation events and status messages.
type Sink interface {
	SilenceDetected(silent bool)
	Status(message string)
}

// Forwarder receives every processed chunk, in order.
type Forwarder interface {
	ProcessAudioChunk(chunk audio.Chunk)
}

type Options struct {
	Settings   *config.Settings
	SampleRate int
	// Denoiser is used when Settings.EnableDenoise is set. Nil disables
	// denoising.
	Denoiser denoise.Denoiser
	// VADFactory builds the frame classifier. Nil, or vad_mode energy,
	// selects the energy threshold.
	VADFactory      vad.Factory
	MailboxCapacity int
	Metrics         *metrics.Pipeline
	// Now defaults to time.Now.
	Now func() time.Time
}

type Processor struct {
	settings   *config.Settings
	sampleRate int
	denoiser   denoise.Denoiser
	worker     *vad.Worker
	segmenter  *Segmenter
	metrics    *metrics.Pipeline
	now        func() time.Time

	sink    Sink
	forward Forwarder
	inbox   *mailbox.Mailbox[audio.Chunk]
	log     *slog.Logger
	done    chan struct{}

	inFrame  []float32
	outFrame []float32
}

// New builds the processor. When the VAD engine cannot be created it falls
// back to energy classification and logs the reason.
func New(opts Options, sink Sink, forward Forwarder, log *slog.Logger) (*Processor, error) {
	if opts.Settings == nil {
		return nil, errors.New("processor: settings are required")
	}
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("processor: invalid sample rate %d", opts.SampleRate)
	}
	if sink == nil || forward == nil {
		return nil, errors.New("processor: sink and forwarder are required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	p := &Processor{
		settings:   opts.Settings,
		sampleRate: opts.SampleRate,
		segmenter:  NewSegmenter(opts.Settings.SilenceThreshold()),
		metrics:    opts.Metrics,
		now:        opts.Now,
		sink:       sink,
		forward:    forward,
		inbox:      mailbox.New[audio.Chunk](opts.MailboxCapacity),
		log:        log.With(slog.String("component", "audio-processor")),
		done:       make(chan struct{}),
	}

	if opts.Settings.EnableDenoise && opts.Denoiser != nil {
		p.denoiser = opts.Denoiser
		p.inFrame = make([]float32, opts.Denoiser.FrameSize())
		p.outFrame = make([]float32, opts.Denoiser.FrameSize())
	}

	if opts.Settings.EnableVAD && opts.Settings.VADMode != config.VADEnergy && opts.VADFactory != nil {
		worker, err := vad.StartWorker(opts.VADFactory, opts.Settings.VADTimeout(), log)
		if err != nil {
			p.log.Warn("vad engine unavailable, using energy threshold", slog.String("error", err.Error()))
		} else {
			p.worker = worker
		}
	}

	p.metrics.TrackMailbox("processor", p.inbox.Dropped)
	return p, nil
}

// Start launches the processing goroutine.
func (p *Processor) Start(ctx context.Context) {
	p.sink.Status(fmt.Sprintf("Audio processor initialized (denoise: %t, VAD: %t)", p.DenoiseActive(), p.settings.EnableVAD))
	go p.run(ctx)
}

func (p *Processor) DenoiseActive() bool { return p.denoiser != nil }

// EngineActive reports whether a VAD engine, rather than the energy
// threshold, classifies frames.
func (p *Processor) EngineActive() bool { return p.worker != nil }

// ProcessChunk enqueues a chunk. It returns false after Shutdown.
func (p *Processor) ProcessChunk(chunk audio.Chunk) bool {
	if !p.inbox.Send(chunk) {
		p.log.Debug("chunk rejected after shutdown")
		return false
	}
	return true
}

// Shutdown stops accepting chunks and signals the VAD worker to exit. It
// does not wait for queued chunks to drain.
func (p *Processor) Shutdown() {
	p.inbox.Close()
	if p.worker != nil {
		p.worker.Shutdown()
	}
}

// Done is closed when the processing goroutine has exited.
func (p *Processor) Done() <-chan struct{} { return p.done }

func (p *Processor) run(ctx context.Context) {
	defer close(p.done)
	for {
		chunk, ok := p.inbox.Receive(ctx)
		if !ok {
			return
		}
		p.process(chunk)
	}
}

func (p *Processor) process(chunk audio.Chunk) {
	start := time.Now()
	if p.denoiser != nil {
		p.denoise(chunk)
	}
	if p.settings.EnableVAD {
		if p.worker != nil {
			p.classifyFrames(chunk)
		} else {
			p.observe(chunk.MeanSquare() > p.settings.VADEnergyThreshold)
		}
	}
	p.metrics.ChunkProcessed(time.Since(start))
	p.forward.ProcessAudioChunk(chunk)
	p.metrics.ChunkForwarded()
}

// denoise runs the chunk through the denoiser frame by frame, zero-padding
// the last frame. Frames that fail keep their original samples.
func (p *Processor) denoise(chunk audio.Chunk) {
	size := len(p.inFrame)
	for off := 0; off < len(chunk); off += size {
		end := min(off+size, len(chunk))
		n := copy(p.inFrame, chunk[off:end])
		clear(p.inFrame[n:])
		if err := p.denoiser.ProcessFrame(p.outFrame, p.inFrame); err != nil {
			p.log.Debug("denoise failed, keeping original samples", slog.String("error", err.Error()))
			continue
		}
		copy(chunk[off:end], p.outFrame[:n])
	}
}

// classifyFrames submits every whole VAD frame of the chunk. A trailing
// partial frame is not evaluated.
func (p *Processor) classifyFrames(chunk audio.Chunk) {
	frameLen := audio.FrameLength(p.sampleRate, vad.FrameDuration)
	if frameLen == 0 || len(chunk) < frameLen {
		return
	}
	pcm := audio.ToPCM16(chunk)
	for off := 0; off+frameLen <= len(pcm); off += frameLen {
		voice, err := p.worker.Classify(pcm[off:off+frameLen], p.sampleRate)
		if err != nil {
			if errors.Is(err, vad.ErrTimeout) {
				p.metrics.VADTimeout()
			}
			p.log.Debug("vad frame not classified", slog.String("error", err.Error()))
			continue
		}
		p.observe(voice)
	}
}

func (p *Processor) observe(voice bool) {
	if silent, report := p.segmenter.Observe(voice, p.now()); report {
		p.sink.SilenceDetected(silent)
	}
}
