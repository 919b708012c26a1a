package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// JobQueueService is the health service name reported for the job manager.
const JobQueueService = "media.jobs"

// HealthServer exposes the standard gRPC health protocol for the job manager.
type HealthServer struct {
	Server *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewHealthServer builds a gRPC server with health and reflection services.
// Every service starts as NOT_SERVING.
func NewHealthServer(logger *slog.Logger) *HealthServer {
	log := logger.With("component", "grpc_health")
	srv := grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(log)))
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(JobQueueService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return &HealthServer{Server: srv, health: hs, logger: log}
}

// SetServing sets the overall server status.
func (h *HealthServer) SetServing(serving bool) {
	h.set("", serving)
}

// SetJobsServing sets the job queue status. It is driven by the job manager
// starting and stopping its workers.
func (h *HealthServer) SetJobsServing(running bool) {
	h.set(JobQueueService, running)
}

func (h *HealthServer) set(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(service, status)
	h.logger.Info("Health status changed", "service", service, "status", status.String())
}

// Shutdown marks everything NOT_SERVING and stops the server gracefully.
func (h *HealthServer) Shutdown() {
	h.health.Shutdown()
	h.Server.GracefulStop()
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.WarnContext(ctx, "gRPC call failed", "method", info.FullMethod, "error", err, "duration", time.Since(start))
		} else {
			logger.DebugContext(ctx, "gRPC call", "method", info.FullMethod, "duration", time.Since(start))
		}
		return resp, err
	}
}
