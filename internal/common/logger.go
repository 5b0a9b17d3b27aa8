package common

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

var (
	// Log is the app global logger. It writes text to stdout until InitLogger replaces it.
	Log = slog.New(slog.NewTextHandler(os.Stdout, nil))
)

// InitLogger initializes the app global logger.
// Logs always go to stdout; when exporterEndpoint is set they are also shipped over OTLP.
func InitLogger(serviceName, serviceVersion, serviceEnvironment, level, exporterEndpoint string) (func(ctx context.Context) error, error) {

	var slogHandler slog.Handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLogLevel(level),
	})

	if exporterEndpoint == "" {
		Log = slog.New(slogHandler)
		return func(ctx context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	logExporter, err := otlploggrpc.New(ctx,
		otlploggrpc.WithEndpoint(exporterEndpoint),
		otlploggrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("failed to otlploggrpc.New: %w", err)
	}

	lp := log.NewLoggerProvider(
		log.WithProcessor(
			log.NewBatchProcessor(logExporter),
		),
		log.WithResource(resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			semconv.DeploymentEnvironmentNameKey.String(serviceEnvironment))),
	)

	slogHandler = slogmulti.Fanout(
		otelslog.NewHandler("github.com/ogero/jutsu-dl", otelslog.WithLoggerProvider(lp)),
		slogHandler,
	)

	Log = slog.New(slogHandler)

	return lp.Shutdown, nil
}

// ParseLogLevel converts a level name to slog.Level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
