package grpchealth

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func startHealthServer(t *testing.T, status grpc_health_v1.HealthCheckResponse_ServingStatus) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", status)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)
	return listener.Addr().String()
}

func TestProbeServingEndpoint(t *testing.T) {
	addr := startHealthServer(t, grpc_health_v1.HealthCheckResponse_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Probe(ctx, addr, ""); err != nil {
		t.Fatalf("probe: %v", err)
	}
}

func TestWaitForServingTimesOutWhenNotServing(t *testing.T) {
	addr := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	conn, err := Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := WaitForServing(ctx, conn, ""); err == nil {
		t.Fatal("expected timeout while endpoint is not serving")
	}
}

func TestWaitForServingRequiresConnection(t *testing.T) {
	if err := WaitForServing(context.Background(), nil, ""); err == nil {
		t.Fatal("expected error for nil connection")
	}
}
