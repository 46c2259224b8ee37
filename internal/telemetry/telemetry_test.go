package telemetry

import (
	"context"
	"testing"

	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), "rentald", "")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestResourceNamesService(t *testing.T) {
	res := newResource("rentald")
	v, ok := res.Set().Value(semconv.ServiceNameKey)
	if !ok || v.AsString() != "rentald" {
		t.Errorf("service.name: got %q, want rentald", v.AsString())
	}
}
