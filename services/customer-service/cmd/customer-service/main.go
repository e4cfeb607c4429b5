package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/cache"
	"github.com/md-rashed-zaman/mspharm/libs/config"
	"github.com/md-rashed-zaman/mspharm/libs/consumer"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/gemini"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/libs/inbox"
	"github.com/md-rashed-zaman/mspharm/libs/kafkax"
	otelx "github.com/md-rashed-zaman/mspharm/libs/otel"
	"github.com/md-rashed-zaman/mspharm/libs/outbox"
	"github.com/md-rashed-zaman/mspharm/libs/runtime"
	objstore "github.com/md-rashed-zaman/mspharm/libs/storage"
	"github.com/md-rashed-zaman/mspharm/migrations"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/handlers"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/lifestyle"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/search"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = runtime.LoadDotEnv()
	service := config.String("SERVICE_NAME", "customer-service")
	port, err := config.Port("PORT", "8083")
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

	clock := clockwork.NewRealClock()
	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}

	var model handlers.Model
	ai, err := gemini.New(ctx, gemini.Config{
		APIKey:  config.String("GEMINI_API_KEY", ""),
		Model:   config.String("GEMINI_MODEL", gemini.DefaultModel),
		Timeout: config.Duration("GEMINI_TIMEOUT", 60*time.Second),
	}, logger)
	switch {
	case err == nil:
		model = ai
	case errors.Is(err, gemini.ErrNotConfigured):
		logger.Warn("gemini not configured, AI features disabled")
	default:
		logger.Error("gemini init failed", "err", err)
	}

	var store objstore.Store
	supa, err := objstore.NewSupabase(objstore.Config{
		URL:        config.String("SUPABASE_URL", ""),
		ServiceKey: config.String("SUPABASE_SERVICE_ROLE_KEY", ""),
	})
	if err != nil {
		logger.Warn("supabase storage not configured, using in-memory store", "err", err)
		store = objstore.NewMemory()
	} else {
		store = supa
	}

	tipsBackend := cacheBackend(ctx, logger, clock, &checks)
	advisor := lifestyle.NewAdvisor(model, cache.NewLoader[lifestyle.Tips](tipsBackend, "lifestyle:tips:", lifestyle.TipsTTL, logger))

	brokers := config.String("KAFKA_BROKERS", "localhost:9092")
	checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})

	var searcher handlers.Searcher
	index, err := search.New(search.Config{
		Addresses: config.List("ELASTICSEARCH_URLS", ""),
		Username:  config.String("ELASTICSEARCH_USERNAME", ""),
		Password:  config.String("ELASTICSEARCH_PASSWORD", ""),
		APIKey:    config.String("ELASTICSEARCH_API_KEY", ""),
		Index:     config.String("ELASTICSEARCH_INDEX", search.DefaultIndex),
	})
	switch {
	case err == nil:
		if err := index.Ensure(ctx); err != nil {
			logger.Error("search index setup failed", "err", err)
		}
		searcher = index
		indexer := consumer.New(logger.With("component", "indexer"), inbox.NewRepository(pool, "customer-service.search"), consumer.Config{
			Brokers: brokers,
			GroupID: config.String("SEARCH_CONSUMER_GROUP", "customer-service.search"),
			Topics:  search.Topics,
			Backoff: config.Duration("SEARCH_RETRY_BACKOFF", time.Second),
		}, search.Handler(index))
		go indexer.Run(ctx)
	case errors.Is(err, search.ErrNotConfigured):
		logger.Info("elasticsearch not configured, consultation search uses the database")
	default:
		logger.Error("elasticsearch init failed", "err", err)
	}

	outboxRepo := outbox.NewRepository()
	publisher := outbox.NewPublisher(pool, outboxRepo, logger.With("component", "outbox"), outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	httpHandler := handlers.New(handlers.Deps{
		Repo:    storage.NewRepository(pool, outboxRepo),
		Store:   store,
		Model:   model,
		Search:  searcher,
		Advisor: advisor,
		Clock:   clock,
		Logger:  logger,
	})

	mux := runtime.NewBaseMuxWithReady(checks...)
	httpHandler.Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithMetrics(service),
		httpx.WithBodyLimit(config.Int64("MAX_BODY_BYTES", 32<<20)),
		httpx.WithTimeout(90*time.Second),
	)
	handler = otelhttp.NewHandler(handler, "customer")
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

// cacheBackend prefers Redis and falls back to process memory.
func cacheBackend(ctx context.Context, logger *slog.Logger, clock clockwork.Clock, checks *[]runtime.ReadyCheck) cache.Backend {
	url := config.String("REDIS_URL", "")
	if url == "" {
		logger.Info("REDIS_URL not set, caching in memory")
		return cache.NewMemory(clock)
	}
	rdb, err := cache.Connect(ctx, url)
	if err != nil {
		logger.Error("redis unavailable, caching in memory", "err", err)
		return cache.NewMemory(clock)
	}
	*checks = append(*checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}})
	return cache.NewRedis(rdb)
}
