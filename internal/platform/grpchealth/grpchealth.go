// Package grpchealth probes gRPC health endpoints. Deployment probes and
// integration tests use it to confirm a service is serving before sending
// traffic.
package grpchealth

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	initialPollInterval = 100 * time.Millisecond
	maxPollInterval     = time.Second
)

// Dial opens an insecure client connection with trace propagation wired in.
func Dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// WaitForServing polls the health endpoint until the named service reports
// SERVING or the context ends. An empty service name checks overall health.
func WaitForServing(ctx context.Context, conn *grpc.ClientConn, service string) error {
	if conn == nil {
		return fmt.Errorf("grpc connection is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client := grpc_health_v1.NewHealthClient(conn)
	interval := initialPollInterval
	for {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		response, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		cancel()
		if err == nil && response.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			return nil
		}

		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("wait for health of %q: %w (last: %v)", service, ctx.Err(), err)
			}
			return fmt.Errorf("wait for health of %q: %w", service, ctx.Err())
		case <-time.After(interval):
		}
		if interval < maxPollInterval {
			interval *= 2
			if interval > maxPollInterval {
				interval = maxPollInterval
			}
		}
	}
}

// Probe dials addr and waits for the named service to report SERVING,
// closing the connection before returning.
func Probe(ctx context.Context, addr, service string) error {
	conn, err := Dial(addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	return WaitForServing(ctx, conn, service)
}
