package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTracing(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })
	return exp
}

func TestStartSpan(t *testing.T) {
	exp := setupTracing(t)

	ctx, span := StartSpan(context.Background(), "transcribe appointment")
	if CorrelationID(ctx) == "" {
		t.Error("no trace ID inside started span")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "transcribe appointment" {
		t.Errorf("spans = %+v", spans)
	}
}

func TestCorrelationID_NoSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty without a span", got)
	}
}

func TestLogger_WithAndWithoutSpan(t *testing.T) {
	setupTracing(t)

	if Logger(context.Background()) == nil {
		t.Fatal("Logger returned nil without a span")
	}

	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()
	if Logger(ctx) == nil {
		t.Fatal("Logger returned nil with a span")
	}
}
