package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestExtractEventMetaFallsBack(t *testing.T) {
	msg := kafka.Message{Topic: "consultation.created.v1", Key: []byte("abc")}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "abc" || meta.EventType != "consultation.created.v1" {
		t.Fatalf("unexpected meta: %+v", meta)
	}

	msg.Headers = EventMeta{EventID: "e1", EventType: "t1"}.Headers()
	meta = ExtractEventMeta(msg)
	if meta.EventID != "e1" || meta.EventType != "t1" {
		t.Fatalf("unexpected meta from headers: %+v", meta)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" a:9092, ,b:9092")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
	if ReadyCheck("") != nil {
		t.Fatalf("expected nil ready check without brokers")
	}
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, []kafka.Header{{Key: "event_id", Value: []byte("1")}})
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatalf("traceparent header missing: %v", headers)
	}

	out := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), kafka.Message{Headers: headers}))
	if out.TraceID() != traceID {
		t.Fatalf("trace id not propagated: %s", out.TraceID())
	}
}
