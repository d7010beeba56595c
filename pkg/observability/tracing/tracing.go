// Package tracing wires an OpenTelemetry TracerProvider exporting spans
// over OTLP/gRPC, and the W3C trace-context/baggage propagators used to
// inject traceparent/tracestate/baggage onto outbound auth and rate-limit
// gRPC calls (per the Request Context's tracing-state requirement).
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls how the process's TracerProvider exports spans.
type Config struct {
	// Endpoint is the OTLP/gRPC collector address, e.g. "otel-collector:4317".
	// Empty disables exporting: spans are still created but dropped.
	Endpoint    string
	ServiceName string
	SampleRatio float64
}

// Init builds and installs the process-wide TracerProvider and
// propagator, returning a shutdown func to flush on exit.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatioOrDefault(cfg.SampleRatio)))),
	}

	if cfg.Endpoint != "" {
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithTimeout(5*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("tracing: build OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

func sampleRatioOrDefault(r float64) float64 {
	if r <= 0 {
		return 1.0
	}
	return r
}

// Tracer returns the named tracer from the installed TracerProvider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// InjectGRPCMetadata writes traceparent/tracestate/baggage onto an
// outbound gRPC call's header carrier, using the process-wide propagator.
func InjectGRPCMetadata(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}
