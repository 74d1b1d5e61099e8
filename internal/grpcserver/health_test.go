package grpcserver

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeProbe struct {
	up atomic.Bool
}

func (p *fakeProbe) Connected() bool { return p.up.Load() }

func startServer(t *testing.T, probe Probe, interval time.Duration) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(probe, interval)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, healthpb.NewHealthClient(conn)
}

func check(client healthpb.HealthClient) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN
	}
	return resp.GetStatus()
}

func TestHealthReflectsProbe(t *testing.T) {
	probe := &fakeProbe{}
	probe.up.Store(true)
	srv, client := startServer(t, probe, 10*time.Millisecond)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(client))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Watch(ctx)

	probe.up.Store(false)
	assert.Eventually(t, func() bool {
		return check(client) == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 20*time.Millisecond)

	probe.up.Store(true)
	assert.Eventually(t, func() bool {
		return check(client) == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHealthStartsNotServingWhenDisconnected(t *testing.T) {
	_, client := startServer(t, &fakeProbe{}, time.Hour)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(client))
}
