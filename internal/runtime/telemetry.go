package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/metrics"
)

// telemetry holds the installed providers and the /metrics handler.
type telemetry struct {
	tracer  *sdktrace.TracerProvider
	meter   *sdkmetric.MeterProvider
	handler http.Handler
}

func (t *telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.meter.Shutdown(ctx), t.tracer.Shutdown(ctx))
}

// dictationResource describes this daemon run: the run id becomes the
// service instance so traces and metrics from successive runs stay apart,
// and the audio pipeline shape is attached for filtering.
func dictationResource(cfg config.Config, runID string) (*resource.Resource, error) {
	return resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			semconv.ServiceInstanceID(runID),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("dictation.audio.source", cfg.Audio.Source),
			attribute.Int("dictation.audio.sample_rate", cfg.Audio.SampleRate),
			attribute.String("dictation.vad.mode", string(cfg.Dictation.VADMode)),
			attribute.Bool("dictation.denoise", cfg.Dictation.EnableDenoise),
		),
	)
}

func setupTelemetry(cfg config.Config, runID string, logger *slog.Logger) (*telemetry, error) {
	res, err := dictationResource(cfg, runID)
	if err != nil {
		return nil, err
	}

	tp, err := newTracerProvider(cfg, res, logger)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)

	mp, handler, err := newMeterProvider(res, logger)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, err
	}
	otel.SetMeterProvider(mp)

	return &telemetry{tracer: tp, meter: mp, handler: handler}, nil
}

// newTracerProvider exports command dispatch spans over OTLP when an
// endpoint is configured. Without one, spans go to stderr at debug level
// only, since stdout carries the JSON log.
func newTracerProvider(cfg config.Config, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	exporterName := "none"

	switch endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint); {
	case endpoint != "":
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Telemetry.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(context.Background(), clientOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		exporterName = "otlp"
	case strings.EqualFold(cfg.Telemetry.LogLevel, "debug"):
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		exporterName = "stderr"
	}

	logger.Info("tracing initialized", slog.String("exporter", exporterName))
	return sdktrace.NewTracerProvider(opts...), nil
}

// newMeterProvider serves the pipeline instruments, shaped by
// metrics.Views, together with Go runtime and process collectors from a
// dedicated registry.
func newMeterProvider(res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, view := range metrics.Views() {
		opts = append(opts, sdkmetric.WithView(view))
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		logger.Warn("prometheus exporter unavailable, /metrics disabled", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(opts...), nil, nil
	}
	opts = append(opts, sdkmetric.WithReader(exporter))
	return sdkmetric.NewMeterProvider(opts...), promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
