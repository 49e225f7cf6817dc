package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/banshee-data/particleview/internal/monitoring"
	"github.com/banshee-data/particleview/internal/timeutil"
)

// HealthService is the service name reported alongside the overall ("")
// status.
const HealthService = "particleview.Viewer"

// DefaultHealthInterval is how often the probe is re-evaluated.
const DefaultHealthInterval = time.Second

var healthLogf = monitoring.Component("Health")

// Health serves the standard gRPC health protocol. The viewer is SERVING
// while probe reports true (the last settings poll succeeded).
type Health struct {
	probe    func() bool
	clock    timeutil.Clock
	interval time.Duration
	hs       *health.Server

	mu      sync.Mutex
	server  *grpc.Server
	wg      sync.WaitGroup
	serving bool
}

// NewHealth returns a health server driven by probe.
func NewHealth(probe func() bool, clock timeutil.Clock, interval time.Duration) *Health {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	h := &Health{
		probe:    probe,
		clock:    clock,
		interval: interval,
		hs:       health.NewServer(),
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *Health) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.hs.SetServingStatus("", status)
	h.hs.SetServingStatus(HealthService, status)
}

// Sync re-evaluates the probe and publishes the status.
func (h *Health) Sync() bool {
	ok := h.probe != nil && h.probe()
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.mu.Lock()
	changed := ok != h.serving
	h.serving = ok
	h.mu.Unlock()
	if changed {
		healthLogf("status %s", status)
	}
	h.set(status)
	return ok
}

// Start serves the health service on lis until Stop.
func (h *Health) Start(lis net.Listener) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server != nil {
		return errors.New("health server already running")
	}
	h.server = grpc.NewServer()
	healthpb.RegisterHealthServer(h.server, h.hs)
	reflection.Register(h.server)

	srv := h.server
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		healthLogf("gRPC health listening on %s", lis.Addr())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			healthLogf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Listen binds addr and calls Start.
func (h *Health) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return h.Start(lis)
}

// Run re-evaluates the probe on every tick until ctx is done, then stops
// the server.
func (h *Health) Run(ctx context.Context) error {
	h.Sync()
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()
	defer h.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			h.Sync()
		}
	}
}

// Stop marks everything NOT_SERVING and gracefully stops the server.
func (h *Health) Stop() {
	h.hs.Shutdown()
	h.mu.Lock()
	srv := h.server
	h.server = nil
	h.mu.Unlock()
	if srv != nil {
		srv.GracefulStop()
	}
	h.wg.Wait()
}
