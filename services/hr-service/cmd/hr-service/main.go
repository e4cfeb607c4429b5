package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/config"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/libs/kafkax"
	otelx "github.com/md-rashed-zaman/mspharm/libs/otel"
	"github.com/md-rashed-zaman/mspharm/libs/outbox"
	"github.com/md-rashed-zaman/mspharm/libs/payroll"
	"github.com/md-rashed-zaman/mspharm/libs/runtime"
	"github.com/md-rashed-zaman/mspharm/migrations"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/handlers"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = runtime.LoadDotEnv()
	service := config.String("SERVICE_NAME", "hr-service")
	port, err := config.Port("PORT", "8082")
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

	rates := payroll.MustDefaultRates()
	if path := config.String("PAYROLL_RATES_FILE", ""); path != "" {
		rates, err = payroll.LoadRates(path)
		if err != nil {
			logger.Error("payroll rates load failed", "path", path, "err", err)
			panic(err)
		}
	}
	calc := payroll.Calculator{Rates: rates, Table: payroll.NewPgTaxTable(pool)}

	outboxRepo := outbox.NewRepository()
	repo := storage.NewRepository(pool, outboxRepo)
	httpHandler := handlers.New(repo, calc, clockwork.NewRealClock(), logger)

	brokers := config.String("KAFKA_BROKERS", "localhost:9092")
	publisher := outbox.NewPublisher(pool, outboxRepo, logger.With("component", "outbox"), outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	httpHandler.Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithMetrics(service),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(30*time.Second),
	)
	handler = otelhttp.NewHandler(handler, "hr")
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

	if err := startGrpcServer(ctx, logger, pool); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
