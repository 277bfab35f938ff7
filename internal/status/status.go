// Package status exposes the session state over the standard gRPC health
// protocol so supervisors can tell whether the client is in a game.
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"cellwire/client/internal/logging"
	"cellwire/client/internal/session"
)

// ServiceName is the health service entry that tracks the game session.
const ServiceName = "cellwire.Session"

// Server serves grpc.health.v1.Health for the session.
type Server struct {
	mu      sync.Mutex
	grpc    *grpc.Server
	health  *health.Server
	log     *logging.Logger
	last    session.State
	serving bool
}

// New constructs a server that starts out NOT_SERVING.
func New(logger *logging.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = logging.L()
	}
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		log:    logger.With(logging.String("component", "status")),
	}
	//1.- The overall entry reflects process liveness; the named entry the session.
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// Observe is a session state listener; pass it to session.WithStateListener.
func (s *Server) Observe(st session.State) {
	serving := st == session.StateInGame
	want := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		want = healthpb.HealthCheckResponse_SERVING
	}
	s.mu.Lock()
	s.last = st
	changed := s.serving != serving
	s.serving = serving
	s.mu.Unlock()

	s.health.SetServingStatus(ServiceName, want)
	if changed {
		s.log.Info("session health changed", logging.String("state", st.String()), logging.String("status", want.String()))
	}
}

// State returns the last session state passed to Observe.
func (s *Server) State() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Serve blocks serving lis until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(lis) }()
	s.log.Info("status server listening", logging.String("addr", lis.Addr().String()))

	select {
	case <-ctx.Done():
		s.Stop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("status: serve: %w", err)
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("status: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
