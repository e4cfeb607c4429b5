package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
)

// WithRecover turns panics into a 500 response and reports them.
func WithRecover(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err := fmt.Errorf("panic: %v", rec)
				logger.Error("panic recovered",
					"request_id", RequestIDFromContext(r.Context()),
					"path", r.URL.Path,
					"err", err,
					"stack", string(debug.Stack()),
				)
				ReportError(r.Context(), err, "path", r.URL.Path)
				WriteError(w, http.StatusInternalServerError, "서버 오류가 발생했습니다")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ReportError sends err to Sentry when it is configured. kv are added as tags.
func ReportError(ctx context.Context, err error, kv ...string) {
	if err == nil || sentry.CurrentHub().Client() == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		if id := RequestIDFromContext(ctx); id != "" {
			scope.SetTag("request_id", id)
		}
		for i := 0; i+1 < len(kv); i += 2 {
			scope.SetTag(kv[i], kv[i+1])
		}
		hub.CaptureException(err)
	})
}

// Fail logs err, reports it, and writes a 500 with the given user message.
func Fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, message string, err error) {
	logger.Error(message, "request_id", RequestIDFromContext(r.Context()), "path", r.URL.Path, "err", err)
	ReportError(r.Context(), err, "path", r.URL.Path)
	WriteError(w, http.StatusInternalServerError, message)
}
