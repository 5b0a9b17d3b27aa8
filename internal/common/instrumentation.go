package common

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	metric2 "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

const instrumentationName = "github.com/ogero/jutsu-dl"

var (
	// CacheGetsTotal counts memoized page lookups, by key prefix and hit/miss result.
	CacheGetsTotal = newCounter("cache_gets_total", "Memoized page lookups")
	// ListingPagesTotal counts listing pages consumed while refreshing the catalog.
	ListingPagesTotal = newCounter("listing_pages_total", "Listing pages consumed")
	// EpisodeDownloadsTotal counts finished episode downloads, by result.
	EpisodeDownloadsTotal = newCounter("episode_downloads_total", "Episode downloads by result")
	// DownloadedBytesTotal counts media bytes written to disk.
	DownloadedBytesTotal = newCounter("downloaded_bytes_total", "Media bytes written to disk")
)

// newCounter registers on the global meter provider, which forwards to the
// provider installed later by InitInstrumentation.
func newCounter(name, description string) metric2.Int64Counter {
	c, err := otel.Meter(instrumentationName).Int64Counter(name, metric2.WithDescription(description))
	if err != nil {
		c, _ = noop.Meter{}.Int64Counter(name)
	}
	return c
}

// InitInstrumentation setups otel
func InitInstrumentation(serviceName, serviceVersion, serviceEnvironment, exporterEndpoint string) (func(ctx context.Context), error) {

	if exporterEndpoint == "" {
		return func(ctx context.Context) {}, nil
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			semconv.DeploymentEnvironmentName(serviceEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to merge otel resource: %w", err)
	}

	// Metric exporter
	metricExporter, err := otlpmetricgrpc.New(
		context.Background(),
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithEndpoint(exporterEndpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	metricsProvider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExporter, metric.WithInterval(30*time.Second))),
	)
	otel.SetMeterProvider(metricsProvider)

	// Trace exporter
	traceExporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(exporterEndpoint),
	)
	if err != nil {
		_ = metricsProvider.Shutdown(context.Background())
		_ = metricExporter.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	traceProvider := trace.NewTracerProvider(
		trace.WithBatcher(traceExporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(traceProvider)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) {
		_ = metricsProvider.Shutdown(ctx)
		_ = metricExporter.Shutdown(ctx)
		_ = traceProvider.Shutdown(ctx)
		_ = traceExporter.Shutdown(ctx)
	}, nil
}
