// Package grpc exposes the standard gRPC health service for orchestrators.
package grpc

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const ServiceName = "storefront.Storefront"

// Check probes one dependency.
type Check func(ctx context.Context) error

type Server struct {
	*grpc.Server
	health *health.Server
	checks map[string]Check
	log    *zap.Logger
}

func NewServer(log *zap.Logger, checks map[string]Check) *Server {
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, h)
	reflection.Register(s)

	h.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	h.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{Server: s, health: h, checks: checks, log: log}
}

// Probe runs every dependency check once and updates the storefront service status.
func (s *Server) Probe(ctx context.Context) bool {
	ok := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.log.Warn("dependency check failed", zap.String("dependency", name), zap.Error(err))
			ok = false
		}
	}
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !ok {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	return ok
}

// Watch probes dependencies every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, interval/2)
			s.Probe(probeCtx)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown marks everything NOT_SERVING before stopping, so load balancers drain first.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.GracefulStop()
}
