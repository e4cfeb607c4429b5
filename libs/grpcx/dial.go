package grpcx

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type DialOptions struct {
	Timeout time.Duration
	// Nil means insecure credentials, for in-cluster traffic.
	TransportCredentials grpc.DialOption
}

// Dial creates a lazily connecting client with tracing and request id
// propagation. The connection is established on first use.
func Dial(addr string, opts DialOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(UnaryClientRequestIDInterceptor()),
	}
	if opts.TransportCredentials != nil {
		dialOpts = append(dialOpts, opts.TransportCredentials)
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	dialOpts = append(dialOpts, extra...)
	return grpc.NewClient(addr, dialOpts...)
}

// HealthReadyCheck asks the standard health service for the overall status.
func HealthReadyCheck(conn *grpc.ClientConn, timeout time.Duration) func(context.Context) error {
	if conn == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := healthpb.NewHealthClient(conn)
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			return err
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("grpc health status %s", resp.GetStatus())
		}
		return nil
	}
}
