package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "wasm-sandbox"

// Tracer wraps OpenTelemetry tracing for the execution runtime.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("sandbox.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// Common attribute keys for execution tracing.
var (
	AttrLanguage    = attribute.Key("sandbox.language")
	AttrTimeoutMS   = attribute.Key("sandbox.timeout_ms")
	AttrCodeBytes   = attribute.Key("sandbox.code_bytes")
	AttrCompileMS   = attribute.Key("sandbox.compile_ms")
	AttrWasmBytes   = attribute.Key("sandbox.wasm_bytes")
	AttrSuccess     = attribute.Key("sandbox.success")
	AttrExecutionMS = attribute.Key("sandbox.execution_ms")
	AttrMemoryBytes = attribute.Key("sandbox.memory_bytes")
	AttrErrorCode   = attribute.Key("sandbox.error_code")
)
