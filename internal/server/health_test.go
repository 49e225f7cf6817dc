package server

import (
	"context"
	"log"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/particleview/internal/monitoring"
	"github.com/banshee-data/particleview/internal/timeutil"
)

func dialHealth(t *testing.T, lis *bufconn.Listener) healthpb.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func checkStatus(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealth_FollowsProbe(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })

	var healthy atomic.Bool
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	h := NewHealth(healthy.Load, clock, time.Second)

	lis := bufconn.Listen(1 << 20)
	require.NoError(t, h.Start(lis))
	assert.Error(t, h.Start(lis), "second start must fail")

	client := dialHealth(t, lis)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, client, ""))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	healthy.Store(true)
	require.Eventually(t, func() bool { return clock.ActiveTickers(time.Second) == 1 }, 5*time.Second, time.Millisecond)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return checkStatus(t, client, HealthService) == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, client, ""))

	healthy.Store(false)
	assert.False(t, h.Sync())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, client, HealthService))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestHealth_NilProbe(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })

	h := NewHealth(nil, nil, 0)
	assert.False(t, h.Sync())
	h.Stop()
}
