package grpcx

import (
	"context"
	"log/slog"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server is a gRPC server that always exposes grpc.health.v1.Health.
type Server struct {
	*grpc.Server
	Health *health.Server
}

func NewServer(extra ...grpc.ServerOption) *Server {
	opts := append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(UnaryServerRequestIDInterceptor()),
	}, extra...)
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &Server{Server: srv, Health: hs}
}

// Serve listens on addr until ctx is done, then marks the service as not
// serving and stops gracefully.
func (s *Server) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		s.Health.Shutdown()
		s.GracefulStop()
	}()
	logger.Info("grpc server starting", "addr", addr)
	return s.Server.Serve(lis)
}
