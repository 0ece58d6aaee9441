package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-dictation/internal/bus"
	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/coordinator"
	"github.com/loqalabs/loqa-dictation/internal/eventstore"
	"github.com/loqalabs/loqa-dictation/internal/metrics"
	"github.com/loqalabs/loqa-dictation/internal/natsserver"
	"github.com/loqalabs/loqa-dictation/internal/notify"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
	"github.com/loqalabs/loqa-dictation/internal/uibridge"
)

// Pipeline is the coordinator surface the runtime drives.
type Pipeline interface {
	uibridge.Controller
	NextEvent(ctx context.Context) (protocol.UIEvent, bool)
	Health() coordinator.Health
	Shutdown()
	Done() <-chan struct{}
}

type Option func(*Runtime)

// WithConsole reads control lines (start, stop, keyboard on|off, quit)
// from r while the runtime runs.
func WithConsole(r io.Reader) Option {
	return func(rt *Runtime) { rt.console = r }
}

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	runID  string

	httpServer     *http.Server
	metricsHandler http.Handler
	telemetryClose func(context.Context) error
	ready          atomic.Bool
	wg             sync.WaitGroup

	metrics  *metrics.Pipeline
	store    *eventstore.Store
	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	bridge   *uibridge.Bridge
	notifier *notify.Notifier
	pipeline Pipeline
	console  io.Reader
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:    cfg,
		logger: logger,
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start brings up telemetry, history, the bus and the dictation pipeline,
// then blocks until ctx is done and tears everything down in reverse.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, r.runID, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = tel.Shutdown
	r.metricsHandler = tel.handler
	r.metrics = metrics.New(r.logger)

	if r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger); err != nil {
		r.closeTelemetry()
		return fmt.Errorf("failed to open event store: %w", err)
	}
	if err := r.store.BeginRun(ctx, r.runID, r.cfg.RuntimeName); err != nil {
		r.logger.Warn("failed to record run", slog.String("error", err.Error()))
	}

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx); err != nil {
			r.closeInfra()
			return err
		}
	}

	r.notifier = notify.New(r.cfg.Notifications, r.logger)

	coord, err := coordinator.New(pipelineOptions(r.cfg, r.metrics, r.logger), r.logger)
	if err != nil {
		r.closeInfra()
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	// The pipeline outlives ctx so shutdown can drain it in order.
	pipelineCtx, stopPipeline := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPipeline()
	if err := coord.Start(pipelineCtx); err != nil {
		r.closeInfra()
		return fmt.Errorf("failed to start coordinator: %w", err)
	}
	r.pipeline = coord

	if r.bus != nil {
		if r.bridge, err = uibridge.New(r.bus, coord, r.logger); err != nil {
			r.logger.Warn("ui bridge unavailable", slog.String("error", err.Error()))
		}
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		r.drainEvents(pipelineCtx)
	}()

	if r.console != nil {
		go func() {
			runConsole(r.console, r.pipeline, r.logger)
			cancel()
		}()
	}

	if r.cfg.HTTP.Enabled {
		r.startHTTP()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("run_id", r.runID))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.pipeline.Shutdown()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		r.logger.Warn("timed out draining pipeline events")
		stopPipeline()
	}

	if r.bridge != nil {
		r.bridge.Close()
	}
	r.closeInfra()
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		r.embedded = srv
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.bus = client
	return nil
}

func (r *Runtime) startHTTP() {
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("http server listening", slog.String("addr", addr))
}

// drainEvents hands every UI event to the log, history, bus and desktop
// notifications until the coordinator closes its event stream.
func (r *Runtime) drainEvents(ctx context.Context) {
	for {
		ev, ok := r.pipeline.NextEvent(ctx)
		if !ok {
			return
		}
		r.deliver(ctx, ev)
	}
}

func (r *Runtime) deliver(ctx context.Context, ev protocol.UIEvent) {
	switch ev.Kind {
	case protocol.UITranscription:
		r.logger.Info("transcription", slog.String("text", ev.Text))
	default:
		r.logger.Info("status", slog.String("text", ev.Text))
	}

	if err := r.store.Append(ctx, eventstore.Entry{RunID: r.runID, Kind: ev.Kind, Text: ev.Text, CreatedAt: ev.Timestamp}); err != nil {
		r.logger.Warn("failed to record event", slog.String("error", err.Error()))
	}
	if r.bridge != nil {
		if err := r.bridge.Publish(ev); err != nil {
			r.logger.Warn("failed to publish event", slog.String("error", err.Error()))
		}
	}
	r.notifier.Notify(ev)
}

func (r *Runtime) closeInfra() {
	if r.bus != nil {
		r.bus.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	r.closeTelemetry()
}

func (r *Runtime) closeTelemetry() {
	if r.telemetryClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.telemetryClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
	r.telemetryClose = nil
}
