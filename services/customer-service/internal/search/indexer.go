package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/segmentio/kafka-go"
)

// Topics are the consultation events the indexer follows.
var Topics = []string{events.ConsultationCreated, events.ConsultationUpdated, events.ConsultationDeleted}

type Writer interface {
	Put(ctx context.Context, doc events.Consultation) error
	Delete(ctx context.Context, id string) error
}

// Handler applies consultation events to the index.
func Handler(w Writer) func(context.Context, kafka.Message) error {
	return func(ctx context.Context, msg kafka.Message) error {
		var doc events.Consultation
		if err := json.Unmarshal(msg.Value, &doc); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Topic, err)
		}
		if doc.ID == "" {
			return nil
		}
		switch msg.Topic {
		case events.ConsultationCreated, events.ConsultationUpdated:
			return w.Put(ctx, doc)
		case events.ConsultationDeleted:
			return w.Delete(ctx, doc.ID)
		}
		return nil
	}
}
