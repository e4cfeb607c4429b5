package runtime

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
)

func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// InitSentry enables error reporting when SENTRY_DSN is set. The returned
// flush func is safe to call either way.
func InitSentry(service string) (func(), error) {
	dsn := Getenv("SENTRY_DSN", "")
	if dsn == "" {
		return func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      Getenv("APP_ENV", "development"),
		Release:          service + "@" + Getenv("APP_VERSION", "dev"),
		ServerName:       service,
		TracesSampleRate: 0,
	})
	if err != nil {
		return func() {}, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}
