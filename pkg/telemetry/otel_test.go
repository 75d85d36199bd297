package telemetry

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestNewProvider_Resource(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp, err := NewProvider(Config{ServiceName: "physobj-test"}, sdktrace.WithSyncer(exp))
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "physobj.job")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "physobj.job" {
		t.Errorf("span name = %s", spans[0].Name)
	}

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == semconv.ServiceNameKey {
			service = kv.Value.AsString()
		}
	}
	if service != "physobj-test" {
		t.Errorf("service.name = %q", service)
	}
}

func TestSampler(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp, err := NewProvider(Config{SamplingRatio: -1}, sdktrace.WithSyncer(exp))
	if err != nil {
		t.Fatal(err)
	}
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "dropped")
	span.End()
	if n := len(exp.GetSpans()); n != 0 {
		t.Errorf("Expected no sampled spans, got %d", n)
	}
}
