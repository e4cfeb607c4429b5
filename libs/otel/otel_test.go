package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_SAMPLING_RATIO", "2")
	cfg := ConfigFromEnv("hr-service")
	if cfg.Enabled {
		t.Fatalf("expected tracing disabled by default")
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("out of range ratio should fall back to 1, got %v", cfg.SampleRatio)
	}
	if cfg.ServiceName != "hr-service" {
		t.Fatalf("unexpected service name %q", cfg.ServiceName)
	}
}

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	tp, ts := TraceContextStrings(ctx)
	if tp == "" {
		t.Fatalf("expected traceparent")
	}
	restored := trace.SpanContextFromContext(ContextWithTraceContext(context.Background(), tp, ts))
	if restored.TraceID() != traceID {
		t.Fatalf("trace id lost: %s", restored.TraceID())
	}
	if got := ContextWithTraceContext(ctx, "", ""); got != ctx {
		t.Fatalf("empty trace context should return ctx unchanged")
	}
}
