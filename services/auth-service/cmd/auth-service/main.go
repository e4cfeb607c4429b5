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
	"github.com/md-rashed-zaman/mspharm/libs/runtime"
	"github.com/md-rashed-zaman/mspharm/migrations"
	"github.com/md-rashed-zaman/mspharm/services/auth-service/internal/audit"
	"github.com/md-rashed-zaman/mspharm/services/auth-service/internal/handlers"
	"github.com/md-rashed-zaman/mspharm/services/auth-service/internal/sessions"
	"github.com/md-rashed-zaman/mspharm/services/auth-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = runtime.LoadDotEnv()
	service := config.String("SERVICE_NAME", "auth-service")
	port, err := config.Port("PORT", "8081")
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

	signer, err := buildSigner()
	if err != nil {
		logger.Error("failed to init jwt signer", "err", err)
		panic(err)
	}

	outboxRepo := outbox.NewRepository()
	brokers := config.String("KAFKA_BROKERS", "localhost:9092")
	publisher := outbox.NewPublisher(pool, outboxRepo, logger.With("component", "outbox"), outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	authHandler := handlers.New(handlers.Deps{
		Pool:      pool,
		Employees: storage.NewEmployeeRepository(pool),
		Customers: storage.NewCustomerRepository(pool),
		Refresh:   sessions.NewRefreshRepository(pool),
		Audit:     audit.NewRepository(pool, outboxRepo),
		Signer:    signer,
		Clock:     clockwork.NewRealClock(),
		Logger:    logger,
	}, handlers.Config{
		AccessTTL:     config.Duration("ACCESS_TTL", 24*time.Hour),
		CustomerTTL:   config.Duration("CUSTOMER_TTL", 24*time.Hour),
		RefreshTTL:    config.Duration("REFRESH_TTL", 720*time.Hour),
		SecureCookies: config.Bool("COOKIE_SECURE", false),
		RotateKey:     config.String("JWT_ROTATE_KEY", ""),
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	authHandler.Register(mux)

	// Login endpoints are the brute-force surface; everything else is
	// already behind the gateway limiter.
	limiter := httpx.NewMemoryLimiter(config.Int("LOGIN_RATE_LIMIT", 20), time.Minute)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithMetrics(service),
		limitLogins(httpx.RateLimit(limiter, httpx.ClientIP, logger, true)),
		httpx.WithBodyLimit(64<<10),
		httpx.WithTimeout(15*time.Second),
	)
	handler = otelhttp.NewHandler(handler, "auth")
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

var loginPaths = map[string]bool{
	"/api/employee-purchase/auth/login": true,
	"/api/customer/auth/login":          true,
	"/api/customer/auth/login-with-id":  true,
	"/api/customer/auth/change-pin":     true,
}

func limitLogins(limit httpx.Middleware) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if loginPaths[r.URL.Path] {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// buildSigner picks RS256 when private keys are configured, HS256 otherwise.
func buildSigner() (handlers.TokenSigner, error) {
	pemBlobs, kid, active := config.String("JWT_PRIVATE_KEYS_PEM", ""), "", config.String("JWT_ACTIVE_KID", "")
	if pemBlobs == "" {
		pemBlobs, kid, active = config.String("JWT_PRIVATE_KEY_PEM", ""), config.String("JWT_KID", ""), ""
	}
	if pemBlobs != "" {
		ring, err := handlers.NewKeyRing([]byte(pemBlobs), kid, active)
		if err != nil {
			return nil, err
		}
		return ring, nil
	}
	return handlers.NewHS256Signer(config.String("JWT_SECRET", "dev-secret")), nil
}
