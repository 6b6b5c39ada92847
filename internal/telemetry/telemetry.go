package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/atendo/atendo"

// Options controls what Init exports.
type Options struct {
	ServiceName string
	Version     string

	// Metrics and Traces enable the OTLP exporters. Endpoint and headers come
	// from the standard OTEL_EXPORTER_OTLP_* environment variables.
	Metrics bool
	Traces  bool

	// SampleRatio is the fraction of traces kept. Zero keeps all of them.
	SampleRatio float64

	// MetricInterval is how often metrics are pushed.
	MetricInterval time.Duration
}

// Shutdown flushes and stops the providers installed by Init.
type Shutdown func(context.Context) error

// Init installs the global meter and tracer providers.
// Exporter failures are logged and the process continues without them.
func Init(ctx context.Context, opts Options) (Shutdown, error) {
	if !opts.Metrics && !opts.Traces {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.Version),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithOSType(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var shutdowns []Shutdown

	if opts.Traces {
		shutdown, err := initTraceProvider(ctx, res, opts.SampleRatio)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize trace provider, continuing without tracing")
		} else {
			shutdowns = append(shutdowns, shutdown)
		}
	}

	if opts.Metrics {
		shutdown, err := initMeterProvider(ctx, res, opts.MetricInterval)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize meter provider, continuing without metrics")
		} else {
			shutdowns = append(shutdowns, shutdown)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Debug().
		Str("service", opts.ServiceName).
		Str("version", opts.Version).
		Bool("metrics", opts.Metrics).
		Bool("traces", opts.Traces).
		Msg("telemetry initialized")

	return func(ctx context.Context) error {
		var errs []error
		for _, shutdown := range shutdowns {
			if err := shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}, nil
}

// Tracer returns the tracer used for session spans.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func initTraceProvider(ctx context.Context, res *resource.Resource, ratio float64) (Shutdown, error) {
	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if ratio > 0 && ratio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func initMeterProvider(ctx context.Context, res *resource.Resource, interval time.Duration) (Shutdown, error) {
	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	if interval <= 0 {
		interval = 10 * time.Second
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}
