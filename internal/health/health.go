// Package health exposes dependency health over the standard gRPC health
// protocol so orchestrators can probe the service without HTTP.
package health

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// Checker reports the health of one dependency.
type Checker interface {
	Ping(ctx context.Context) error
}

// Server publishes one gRPC health service per named check, plus the overall
// status under the empty service name.
type Server struct {
	grpc   *grpc.Server
	hs     *health.Server
	checks map[string]Checker
	logger *slog.Logger
}

// NewServer creates a gRPC server with the health service registered. Every
// service starts NOT_SERVING until the first Check.
func NewServer(checks map[string]Checker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	g := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    2 * time.Minute,
		Timeout: 10 * time.Second,
	}))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(g, hs)

	s := &Server{grpc: g, hs: hs, checks: checks, logger: logger}
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for name := range checks {
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s
}

// Check pings every dependency once and publishes the result. The overall
// status is SERVING only when every check passes.
func (s *Server) Check(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	healthy := true
	for name, c := range s.checks {
		status := healthpb.HealthCheckResponse_SERVING
		if err := c.Ping(ctx); err != nil {
			s.logger.Warn("dependency unhealthy", "check", name, "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
			healthy = false
		}
		s.hs.SetServingStatus(name, status)
	}
	overall := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.hs.SetServingStatus("", overall)
	return healthy
}

// Watch re-runs Check every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.Check(ctx, interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx, interval)
		}
	}
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop marks everything NOT_SERVING so watchers drain, then stops gracefully.
func (s *Server) Stop() {
	s.hs.Shutdown()
	s.grpc.GracefulStop()
}
