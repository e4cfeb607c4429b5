package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/auth"
	"github.com/md-rashed-zaman/mspharm/libs/cache"
	"github.com/md-rashed-zaman/mspharm/libs/config"
	"github.com/md-rashed-zaman/mspharm/libs/grpcx"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	otelx "github.com/md-rashed-zaman/mspharm/libs/otel"
	"github.com/md-rashed-zaman/mspharm/libs/runtime"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = runtime.LoadDotEnv()
	service := config.String("SERVICE_NAME", "gateway-service")
	port, err := config.Port("PORT", "8080")
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

	var checks []runtime.ReadyCheck
	if addr := config.String("HR_GRPC_ADDR", "hr-service:9092"); addr != "" {
		conn, err := grpcx.Dial(addr, grpcx.DialOptions{})
		if err != nil {
			logger.Error("hr grpc dial failed", "err", err)
			panic(err)
		}
		defer conn.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "hr-grpc", Check: grpcx.HealthReadyCheck(conn, 2*time.Second)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)

	verifier := auth.Verifier{Secret: config.String("JWT_SECRET", "dev-secret")}
	if jwksURL := config.String("JWKS_URL", ""); jwksURL != "" {
		verifier.JWKS = auth.NewJWKSClient(jwksURL, config.Duration("JWKS_CACHE_TTL", 5*time.Minute))
	}
	targets, err := upstreams()
	if err != nil {
		panic(err)
	}

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	var limiter httpx.Limiter = httpx.NewMemoryLimiter(limitPerMinute, time.Minute)
	if url := config.String("REDIS_URL", ""); url != "" {
		rdb, err := cache.Connect(ctx, url)
		if err != nil {
			logger.Error("redis unavailable, rate limiting in memory", "err", err)
		} else {
			defer func() { _ = rdb.Close() }()
			limiter = httpx.NewRedisLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "mspharm:gateway"))
		}
	}
	logger.Info("rate limiting per caller", "per_minute", limitPerMinute, "limiter", fmt.Sprintf("%T", limiter))
	limit := httpx.RateLimit(limiter, httpx.ActorOrIP, logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
	registerRoutes(mux, targets, verifier, otelTransport(), limit)

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS", strings.Join(httpx.DefaultOrigins, ",")),
			AllowedMethods:   config.List("CORS_ALLOWED_METHODS", "GET,POST,PUT,PATCH,DELETE,OPTIONS"),
			AllowedHeaders:   config.List("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id"),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithMetrics(service),
		httpx.WithBodyLimit(config.Int64("REQUEST_BODY_LIMIT_BYTES", 24<<20)),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 60*time.Second)),
	)
	handler = otelhttp.NewHandler(handler, "gateway")
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
