package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used for all spans of this module.
const TracerName = "sterna.opencode"

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// Config configures the process tracer provider.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// SampleRatio is the fraction of root spans recorded. Zero or less
	// records every span.
	SampleRatio float64
}

// InitOpenTelemetry installs the process-wide tracer provider. Only the
// first call has an effect; later calls return the first result.
func InitOpenTelemetry(cfg Config) error {
	providerOnce.Do(func() {
		if cfg.ServiceName == "" {
			cfg.ServiceName = TracerName
		}
		ratio := cfg.SampleRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 1
		}

		attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
		if cfg.ServiceVersion != "" {
			attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
		}
		res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
		if err != nil {
			providerErr = fmt.Errorf("failed to build trace resource: %w", err)
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
			sdktrace.WithResource(res),
		)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

// ShutdownOpenTelemetry flushes and shuts down the global tracer provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span tagged with the session ID and trigger of ctx.
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	if sessionID := GetSessionID(ctx); sessionID != "" {
		attrs = append(attrs, attribute.String("session_id", sessionID))
	}
	if trigger := GetTrigger(ctx); trigger != "" {
		attrs = append(attrs, attribute.String("trigger", trigger))
	}

	ctx, span := otel.Tracer(TracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		sc := span.SpanContext()
		if sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
