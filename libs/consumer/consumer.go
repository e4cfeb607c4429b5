package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/md-rashed-zaman/mspharm/libs/kafkax"
	otelx "github.com/md-rashed-zaman/mspharm/libs/otel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "consumer_messages_total",
	Help: "Kafka messages seen by consumers, by outcome.",
}, []string{"group", "event_type", "outcome"})

type Handler func(ctx context.Context, msg kafka.Message) error

// Inbox dedupes deliveries by event id.
type Inbox interface {
	Record(ctx context.Context, eventID, eventType string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader  Reader
	logger  *slog.Logger
	inbox   Inbox
	handler Handler
	group   string
	retry   retrypolicy.RetryPolicy[any]
}

type Config struct {
	Brokers string
	GroupID string
	Topics  []string
	// Attempts per message before it is given up; defaults to 3.
	Attempts int
	Backoff  time.Duration
}

func New(logger *slog.Logger, inbox Inbox, cfg Config, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkax.SplitBrokers(cfg.Brokers),
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return NewWithReader(logger, inbox, reader, cfg, handler)
}

func NewWithReader(logger *slog.Logger, inbox Inbox, reader Reader, cfg Config, handler Handler) *Consumer {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &Consumer{
		reader:  reader,
		logger:  logger.With("component", "consumer", "group", cfg.GroupID),
		inbox:   inbox,
		handler: handler,
		group:   cfg.GroupID,
		retry: retrypolicy.NewBuilder[any]().
			WithMaxAttempts(cfg.Attempts).
			WithBackoff(cfg.Backoff, 10*cfg.Backoff).
			Build(),
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		c.process(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otelx.StartSpan(ctxMsg, "kafka", "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	log := c.logger.With("event_id", meta.EventID, "event_type", meta.EventType)

	ok, err := c.inbox.Record(ctxSpan, meta.EventID, meta.EventType)
	if err != nil {
		log.Error("inbox record failed", "err", err)
		span.RecordError(err)
		messagesTotal.WithLabelValues(c.group, meta.EventType, "error").Inc()
		return
	}
	if !ok {
		log.Info("duplicate event ignored")
		messagesTotal.WithLabelValues(c.group, meta.EventType, "duplicate").Inc()
		return
	}

	err = failsafe.NewExecutor[any](c.retry).WithContext(ctxSpan).Run(func() error {
		return c.handler(ctxSpan, msg)
	})
	if err != nil {
		log.Error("handler error", "err", err)
		span.RecordError(err)
		if ferr := c.inbox.Forget(ctx, meta.EventID); ferr != nil {
			log.Error("inbox forget failed", "err", ferr)
		}
		messagesTotal.WithLabelValues(c.group, meta.EventType, "failed").Inc()
		return
	}
	messagesTotal.WithLabelValues(c.group, meta.EventType, "handled").Inc()
}
