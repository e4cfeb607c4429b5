package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/config"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/grpcx"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const grpcServiceName = "mspharm.hr"

// startGrpcServer serves grpc.health.v1 and keeps the hr entry in step with
// database reachability.
func startGrpcServer(ctx context.Context, logger *slog.Logger, pool *db.Pool) error {
	port, err := config.Port("GRPC_PORT", "9092")
	if err != nil {
		return err
	}
	srv := grpcx.NewServer()
	go func() {
		if err := srv.Serve(ctx, ":"+port, logger); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	go watchHealth(ctx, srv, db.ReadyCheck(pool), config.Duration("GRPC_HEALTH_EVERY", 10*time.Second))
	return nil
}

func watchHealth(ctx context.Context, srv *grpcx.Server, check func(context.Context) error, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		status := healthpb.HealthCheckResponse_SERVING
		if err := check(checkCtx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		cancel()
		srv.Health.SetServingStatus("", status)
		srv.Health.SetServingStatus(grpcServiceName, status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
