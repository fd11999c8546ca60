// Package probe serves the standard gRPC health service so orchestrators can
// check the processor with grpc_health_probe. Request metrics are exported
// through go-grpc-prometheus on the default registry.
package probe

import (
	"context"
	"fmt"
	"net"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Service is the health service name reported alongside the overall ("") status.
const Service = "pitwall.processor"

// Server wraps the gRPC server and its health state.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
}

// New binds addr and registers the health and reflection services. Both the
// overall and the named service start as SERVING.
func New(addr string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("probe: listen on %s: %w", addr, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	reflection.Register(grpcServer)
	grpc_prometheus.Register(grpcServer)

	s := &Server{grpcServer: grpcServer, health: healthSrv, listener: lis}
	s.SetServing(true)
	return s, nil
}

// Start serves until Shutdown. It returns nil after a graceful stop.
func (s *Server) Start() error {
	if err := s.grpcServer.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("probe: serve: %w", err)
	}
	return nil
}

// SetServing flips the reported status of both the overall and the named
// service.
func (s *Server) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
}

// Shutdown reports NOT_SERVING, then stops gracefully, falling back to a hard
// stop when ctx expires.
func (s *Server) Shutdown(ctx context.Context) {
	s.SetServing(false)

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.Stop()
	case <-stopped:
	}
}

// Address exposes the bound listener address.
func (s *Server) Address() string {
	return s.listener.Addr().String()
}
