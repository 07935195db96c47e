// Package observability wires the OpenTelemetry SDK (tracer, meter, and
// logger providers, each exporting via OTLP/HTTP) and exposes the small
// set of named instruments clonechat's engines report against: message
// deliveries, publish-stage durations, and bytes downloaded.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls where telemetry is exported. Endpoint == "" disables
// export entirely (the SDK providers are built with no exporters), so
// instrumenting a code path never requires a collector to be present.
type Config struct {
	Endpoint       string // OTLP/HTTP collector host:port, e.g. "localhost:4318"
	ServiceVersion string
	Insecure       bool
}

// Instruments is the fixed set of metrics clonechat's engines report
// against. All are created eagerly so callers never check for nil.
type Instruments struct {
	Deliveries      metric.Int64Counter     // messages delivered, by strategy
	StageDuration   metric.Float64Histogram // publish stage wall-clock seconds, by stage
	BytesDownloaded metric.Int64Counter     // media bytes pulled from the platform
}

// Provider bundles the three SDK providers plus the derived Instruments
// and a Tracer for span creation. Shutdown must be called to flush
// pending export batches.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider

	Tracer      trace.Tracer
	Instruments Instruments
}

// New builds a Provider. With an empty Endpoint it still returns a fully
// functional Provider backed by SDK providers with no exporters registered
// (spans/metrics/logs are created and dropped), so instrumentation code
// never needs a disabled-mode branch.
func New(ctx context.Context, serviceName string, cfg Config) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	tp, err := newTracerProvider(ctx, res, cfg)
	if err != nil {
		return nil, err
	}
	mp, err := newMeterProvider(ctx, res, cfg)
	if err != nil {
		return nil, err
	}
	lp, err := newLoggerProvider(ctx, res, cfg)
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(serviceName)
	instruments, err := buildInstruments(meter)
	if err != nil {
		return nil, err
	}

	return &Provider{
		TracerProvider: tp,
		MeterProvider:  mp,
		LoggerProvider: lp,
		Tracer:         tp.Tracer(serviceName),
		Instruments:    instruments,
	}, nil
}

func newTracerProvider(ctx context.Context, res *resource.Resource, cfg Config) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Endpoint != "" {
		exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("observability: trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource, cfg Config) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.Endpoint != "" {
		exporterOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlpmetrichttp.WithInsecure())
		}
		exp, err := otlpmetrichttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("observability: metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}

func newLoggerProvider(ctx context.Context, res *resource.Resource, cfg Config) (*sdklog.LoggerProvider, error) {
	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	if cfg.Endpoint != "" {
		exporterOpts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlploghttp.WithInsecure())
		}
		exp, err := otlploghttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("observability: log exporter: %w", err)
		}
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)))
	}
	return sdklog.NewLoggerProvider(opts...), nil
}

func buildInstruments(meter metric.Meter) (Instruments, error) {
	deliveries, err := meter.Int64Counter("clonechat.deliveries",
		metric.WithDescription("messages delivered to a destination chat"),
		metric.WithUnit("{message}"))
	if err != nil {
		return Instruments{}, err
	}
	stageDuration, err := meter.Float64Histogram("clonechat.publish_stage_duration",
		metric.WithDescription("publish pipeline stage wall-clock duration"),
		metric.WithUnit("s"))
	if err != nil {
		return Instruments{}, err
	}
	bytesDownloaded, err := meter.Int64Counter("clonechat.bytes_downloaded",
		metric.WithDescription("media bytes pulled from the platform"),
		metric.WithUnit("By"))
	if err != nil {
		return Instruments{}, err
	}
	return Instruments{
		Deliveries:      deliveries,
		StageDuration:   stageDuration,
		BytesDownloaded: bytesDownloaded,
	}, nil
}

// Shutdown flushes and closes all three providers. Safe to call even when
// New was constructed with an empty Endpoint.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.TracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("observability: tracer shutdown: %w", err)
	}
	if err := p.MeterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("observability: meter shutdown: %w", err)
	}
	if err := p.LoggerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("observability: logger shutdown: %w", err)
	}
	return nil
}

// LogRecord emits a single structured log entry via the OTel log bridge,
// for call sites that want OTel-correlated logs rather than slog output.
func (p *Provider) LogRecord(ctx context.Context, severity otellog.Severity, body string, attrs ...otellog.KeyValue) {
	logger := p.LoggerProvider.Logger("clonechat")
	var rec otellog.Record
	rec.SetTimestamp(time.Now())
	rec.SetSeverity(severity)
	rec.SetBody(otellog.StringValue(body))
	rec.AddAttributes(attrs...)
	logger.Emit(ctx, rec)
}
