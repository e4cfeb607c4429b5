package outbox

import (
	"context"
	"testing"

	"github.com/md-rashed-zaman/mspharm/libs/kafkax"
)

func TestNewEventMarshalsPayload(t *testing.T) {
	evt, err := NewEvent("customer", "c-1", "customer.created.v1", map[string]string{"name": "홍길동"})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if string(evt.Payload) != `{"name":"홍길동"}` {
		t.Fatalf("unexpected payload: %s", evt.Payload)
	}
	if evt.EventType != "customer.created.v1" || evt.AggregateID != "c-1" {
		t.Fatalf("unexpected envelope: %+v", evt)
	}
}

func TestToMessageRoutesByEventType(t *testing.T) {
	msg := toMessage(context.Background(), Record{
		EventID:     "e-1",
		AggregateID: "2026-01-05",
		EventType:   "ledger.daily_income.saved.v1",
		Payload:     []byte(`{}`),
	})
	if msg.Topic != "ledger.daily_income.saved.v1" {
		t.Fatalf("topic = %q", msg.Topic)
	}
	if string(msg.Key) != "2026-01-05" {
		t.Fatalf("key = %q", msg.Key)
	}
	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID != "e-1" || meta.EventType != "ledger.daily_income.saved.v1" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}
