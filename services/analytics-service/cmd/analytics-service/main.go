package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/config"
	"github.com/md-rashed-zaman/mspharm/libs/consumer"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/libs/inbox"
	"github.com/md-rashed-zaman/mspharm/libs/kafkax"
	otelx "github.com/md-rashed-zaman/mspharm/libs/otel"
	"github.com/md-rashed-zaman/mspharm/libs/runtime"
	"github.com/md-rashed-zaman/mspharm/migrations"
	"github.com/md-rashed-zaman/mspharm/services/analytics-service/internal/handlers"
	"github.com/md-rashed-zaman/mspharm/services/analytics-service/internal/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = runtime.LoadDotEnv()
	service := config.String("SERVICE_NAME", "analytics-service")
	port, err := config.Port("PORT", "8087")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	flush, err := runtime.InitSentry(service)
	if err != nil {
		logger.Error("sentry init failed", "err", err)
	}
	defer flush()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if config.Bool("MIGRATE_ON_START", false) {
		if err := db.Migrate(ctx, pool, migrations.FS, logger); err != nil {
			logger.Error("migration failed", "err", err)
			panic(err)
		}
	}

	store := metrics.NewStore(pool)
	brokers := config.String("KAFKA_BROKERS", "localhost:9092")
	group := config.String("KAFKA_GROUP_ID", "analytics-service")
	counter := consumer.New(logger, inbox.NewRepository(pool, group), consumer.Config{
		Brokers:  brokers,
		GroupID:  group,
		Topics:   metrics.Topics,
		Attempts: config.Int("CONSUMER_ATTEMPTS", 3),
		Backoff:  config.Duration("CONSUMER_BACKOFF", 500*time.Millisecond),
	}, metrics.Counter(store, logger.With("component", "metrics")))
	go counter.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handlers.New(store, clockwork.NewRealClock(), logger).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithMetrics(service),
		httpx.WithTimeout(config.Duration("HTTP_TIMEOUT", 15*time.Second)),
	)
	handler = otelhttp.NewHandler(handler, "analytics")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
