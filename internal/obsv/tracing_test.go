package obsv

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestTracer_FallsBackToGlobalProviderWhenNil(t *testing.T) {
	prior := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prior)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	got := Tracer(nil)
	want := tp.Tracer(tracerName)
	if got == nil || want == nil {
		t.Fatal("expected non-nil tracers")
	}
}

func TestTracer_UsesProvidedProvider(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	tr := Tracer(tp)
	if tr == nil {
		t.Fatal("expected a non-nil tracer")
	}
	_, span := tr.Start(context.Background(), "test-span")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Error("expected a valid span context from the real SDK tracer")
	}
}

func TestNewTracerProvider_BuildsProviderForValidEndpoint(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), "http://127.0.0.1:4318", "telephony-core-test")
	if err != nil {
		t.Fatalf("NewTracerProvider: %v", err)
	}
	if tp == nil {
		t.Fatal("expected a non-nil tracer provider")
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()
}

func TestSetupPropagation_InstallsCompositePropagator(t *testing.T) {
	prior := otel.GetTextMapPropagator()
	defer otel.SetTextMapPropagator(prior)

	SetupPropagation()

	fields := otel.GetTextMapPropagator().Fields()
	if len(fields) == 0 {
		t.Error("expected the composite propagator to carry at least one field")
	}
}
