// Package health exposes the standard gRPC health service for the relay
// and a client check for it.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// RelayService is the health service name reported for the relay endpoints.
const RelayService = "askbar.relay"

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Server is a gRPC server carrying only the health service.
type Server struct {
	grpc   *grpc.Server
	hs     *health.Server
	lis    net.Listener
	logger *slog.Logger
}

// NewServer listens on addr.
func NewServer(addr string, logger *slog.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return NewServerWithListener(lis, logger), nil
}

// NewServerWithListener serves on an existing listener.
func NewServerWithListener(lis net.Listener, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    2 * time.Minute,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             30 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(RelayService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{grpc: gs, hs: hs, lis: lis, logger: logger}
}

// Addr returns the listening address.
func (s *Server) Addr() string { return s.lis.Addr().String() }

// SetServing updates the status of the relay service and the overall server.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.hs.SetServingStatus("", status)
	s.hs.SetServingStatus(RelayService, status)
}

// Serve blocks until Stop is called.
func (s *Server) Serve() error {
	s.logger.Info("gRPC health server listening", "addr", s.Addr())
	if err := s.grpc.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Stop marks every service as not serving and stops the server.
func (s *Server) Stop() {
	s.hs.Shutdown()
	s.grpc.GracefulStop()
}

// Watch runs checks every interval until ctx is done and publishes the
// combined result.
func (s *Server) Watch(ctx context.Context, interval time.Duration, checks ...Check) {
	run := func() {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		for _, check := range checks {
			if err := check(checkCtx); err != nil {
				s.logger.Warn("[HEALTH] Dependency check failed", "error", err)
				s.SetServing(false)
				return
			}
		}
		s.SetServing(true)
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
