package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// tracerName — имя трейсера IIB.
const tracerName = "github.com/shaiso/iib"

// InitTracer настраивает экспорт трейсов в stdout.
// Возвращает функцию остановки провайдера. При enabled=false трейсы
// не экспортируются, остаётся no-op провайдер по умолчанию.
func InitTracer(ctx context.Context, serviceName string, enabled bool) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if !enabled {
		return noop
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		slog.Default().Warn("telemetry exporter init failed", "error", err)
		return noop
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)

	otel.SetTracerProvider(provider)

	return provider.Shutdown
}

// Tracer возвращает трейсер IIB из глобального провайдера.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
