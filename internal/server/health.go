package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	repo "github.com/joseph-ayodele/evidence-pipeline/internal/repository"
)

// ServiceName is the health-check service name reported next to the overall ("") status.
const ServiceName = "evidence.v1.Pipeline"

// Health publishes the gRPC health protocol, driven by periodic database pings.
type Health struct {
	hs     *health.Server
	db     *repo.DB
	logger *slog.Logger
}

func NewHealth(db *repo.DB, logger *slog.Logger) *Health {
	if logger == nil {
		logger = slog.Default()
	}
	return &Health{hs: health.NewServer(), db: db, logger: logger}
}

// Register adds the health service to a gRPC server.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.hs)
}

// Server exposes the underlying health server.
func (h *Health) Server() healthpb.HealthServer { return h.hs }

// Check pings the database once and updates the published status.
func (h *Health) Check(ctx context.Context, timeout time.Duration) bool {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.db.HealthCheck(ctx, timeout, h.logger); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.hs.SetServingStatus("", status)
	h.hs.SetServingStatus(ServiceName, status)
	return status == healthpb.HealthCheckResponse_SERVING
}

// Watch re-checks every interval until ctx ends, then marks everything NOT_SERVING.
func (h *Health) Watch(ctx context.Context, interval, timeout time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	h.Check(ctx, timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
			if !h.Check(ctx, timeout) {
				h.logger.Warn("health check failed, reporting NOT_SERVING")
			}
		}
	}
}

// Shutdown flips every service to NOT_SERVING so load balancers drain first.
func (h *Health) Shutdown() {
	h.hs.Shutdown()
}
