package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/cache"
	"github.com/md-rashed-zaman/mspharm/libs/config"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/gemini"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/libs/kafkax"
	"github.com/md-rashed-zaman/mspharm/libs/notion"
	otelx "github.com/md-rashed-zaman/mspharm/libs/otel"
	"github.com/md-rashed-zaman/mspharm/libs/outbox"
	"github.com/md-rashed-zaman/mspharm/libs/runtime"
	objstore "github.com/md-rashed-zaman/mspharm/libs/storage"
	"github.com/md-rashed-zaman/mspharm/migrations"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/handlers"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/income"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/reconcile"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = runtime.LoadDotEnv()
	service := config.String("SERVICE_NAME", "ledger-service")
	port, err := config.Port("PORT", "8084")
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
	brokers := config.String("KAFKA_BROKERS", "localhost:9092")
	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}

	outboxRepo := outbox.NewRepository()
	repo := storage.NewRepository(pool, outboxRepo)
	publisher := outbox.NewPublisher(pool, outboxRepo, logger.With("component", "outbox"), outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	days, err := dayStore(repo, logger)
	if err != nil {
		panic(err)
	}
	incomeSvc := income.NewService(days, cache.NewLoader[income.Record](
		cacheBackend(ctx, logger, clock, &checks), income.CachePrefix, income.CacheTTL, logger))

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
		logger.Warn("gemini not configured, invoice extraction disabled")
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

	sweeper := reconcile.NewSweeper(incomeSvc, repo, reconcile.PgLocker{Pool: pool}, clock, logger.With("component", "reconcile"), reconcile.Config{
		Interval:  config.Duration("RECONCILE_EVERY", time.Hour),
		Threshold: config.Int64("RECONCILE_THRESHOLD", reconcile.DefaultThreshold),
		Lookback:  config.Int("RECONCILE_LOOKBACK_DAYS", reconcile.DefaultLookback),
		Recipient: config.String("RECONCILE_ALERT_EMAIL", ""),
		LockKey:   config.Int64("RECONCILE_LOCK_KEY", reconcile.DefaultLockKey),
	})
	go sweeper.Run(ctx)

	httpHandler := handlers.New(handlers.Deps{
		Income:    incomeSvc,
		Purchases: repo,
		Store:     store,
		Model:     model,
		Clock:     clock,
		Logger:    logger,
	})

	mux := runtime.NewBaseMuxWithReady(checks...)
	httpHandler.Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithMetrics(service),
		httpx.WithBodyLimit(config.Int64("MAX_BODY_BYTES", 24<<20)),
		httpx.WithTimeout(90*time.Second),
	)
	handler = otelhttp.NewHandler(handler, "ledger")
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

// dayStore picks where daily counts live. The notion backend keeps the
// legacy database authoritative while still publishing saves through the
// outbox.
func dayStore(repo *storage.Repository, logger *slog.Logger) (income.Store, error) {
	switch backend := strings.ToLower(config.String("LEDGER_BACKEND", "postgres")); backend {
	case "postgres", "":
		return repo, nil
	case "notion":
		dbID, err := config.RequiredString("NOTION_DAILY_INCOME_DB")
		if err != nil {
			return nil, err
		}
		client, err := notion.New(notion.Config{
			Token:         config.String("NOTION_TOKEN", ""),
			RatePerSecond: 3,
			Attempts:      config.Int("NOTION_ATTEMPTS", 3),
			Backoff:       config.Duration("NOTION_BACKOFF", time.Second),
		})
		if err != nil {
			return nil, err
		}
		logger.Info("daily income backed by notion", "database", dbID)
		return income.NewNotionStore(client, dbID, repo.EmitIncomeSaved), nil
	default:
		return nil, errors.New("LEDGER_BACKEND must be postgres or notion, got " + backend)
	}
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
