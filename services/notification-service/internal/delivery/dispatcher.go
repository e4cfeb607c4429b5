// Package delivery sends requested notifications over email or SMS and
// records each outcome.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/libs/kafkax"
	"github.com/md-rashed-zaman/mspharm/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/mspharm/services/notification-service/internal/sms"
	"github.com/md-rashed-zaman/mspharm/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

var ErrInvalid = errors.New("invalid notification request")

type Recorder interface {
	Record(ctx context.Context, n storage.Notification) error
}

type Dispatcher struct {
	email  email.Sender
	sms    sms.Sender
	store  Recorder
	logger *slog.Logger
}

func NewDispatcher(mail email.Sender, text sms.Sender, store Recorder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{email: mail, sms: text, store: store, logger: logger}
}

// Validate checks the request shape before anything is sent.
func Validate(req events.NotificationRequest) error {
	if strings.TrimSpace(req.Recipient) == "" {
		return fmt.Errorf("%w: recipient missing", ErrInvalid)
	}
	switch req.Channel {
	case "email":
		if _, err := mail.ParseAddress(req.Recipient); err != nil {
			return fmt.Errorf("%w: bad email %q", ErrInvalid, req.Recipient)
		}
	case "sms":
		if n := len(sms.Digits(req.Recipient)); n < 9 || n > 11 {
			return fmt.Errorf("%w: bad phone %q", ErrInvalid, req.Recipient)
		}
		if len(req.Attachments) > 0 {
			return fmt.Errorf("%w: sms cannot carry attachments", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported channel %q", ErrInvalid, req.Channel)
	}
	return nil
}

// Deliver sends one request. Invalid requests are recorded as failed and
// not retried; send errors are recorded and returned so the caller retries.
func (d *Dispatcher) Deliver(ctx context.Context, eventID string, req events.NotificationRequest) error {
	n := storage.Notification{
		EventID:   eventID,
		Channel:   req.Channel,
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Reference: req.Reference,
		Status:    storage.StatusSent,
	}
	log := d.logger.With("event_id", eventID, "channel", req.Channel, "reference", req.Reference)

	if err := Validate(req); err != nil {
		n.Status, n.Error = storage.StatusFailed, err.Error()
		log.Warn("notification rejected", "err", err)
		return d.store.Record(ctx, n)
	}

	var sendErr error
	switch req.Channel {
	case "email":
		sendErr = d.email.Send(email.Message{To: req.Recipient, Subject: req.Subject, Body: req.Body, Attachments: req.Attachments})
	case "sms":
		sendErr = d.sms.Send(ctx, req.Recipient, req.Body)
	}
	if sendErr != nil {
		n.Status, n.Error = storage.StatusFailed, sendErr.Error()
		log.Error("notification send failed", "err", sendErr)
		if err := d.store.Record(ctx, n); err != nil {
			return errors.Join(sendErr, err)
		}
		return sendErr
	}
	log.Info("notification sent", "attachments", len(req.Attachments))
	return d.store.Record(ctx, n)
}

// Handler adapts Deliver to the Kafka consumer. Undecodable payloads are
// dropped.
func (d *Dispatcher) Handler(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	var req events.NotificationRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		d.logger.Error("invalid notification payload", "event_id", meta.EventID, "err", err)
		return nil
	}
	return d.Deliver(ctx, meta.EventID, req)
}
