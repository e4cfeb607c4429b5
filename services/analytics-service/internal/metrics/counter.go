package metrics

import (
	"context"
	"log/slog"

	"github.com/md-rashed-zaman/mspharm/libs/consumer"
	"github.com/md-rashed-zaman/mspharm/libs/kafkax"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

var changesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "analytics_metric_changes_total",
	Help: "Daily metric cells written, by event type.",
}, []string{"event_type"})

type Applier interface {
	Apply(ctx context.Context, changes []Change) error
}

// Counter returns the consumer handler that folds events into daily_metrics.
// Payloads that cannot be classified are logged and dropped; store errors are
// returned so the consumer retries.
func Counter(store Applier, logger *slog.Logger) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		meta := kafkax.ExtractEventMeta(msg)
		changes, err := Classify(meta.EventType, msg.Value, msg.Time)
		if err != nil {
			logger.Error("invalid event payload", "event_id", meta.EventID, "event_type", meta.EventType, "err", err)
			return nil
		}
		if len(changes) == 0 {
			return nil
		}
		if err := store.Apply(ctx, changes); err != nil {
			return err
		}
		changesTotal.WithLabelValues(meta.EventType).Add(float64(len(changes)))
		logger.Debug("metrics updated", "event_id", meta.EventID, "event_type", meta.EventType, "cells", len(changes))
		return nil
	}
}
