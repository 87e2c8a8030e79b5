// Package grpcapi serves gRPC health and reflection. Each live session is
// reported as the health service "session/<id>".
package grpcapi

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/observability"
	"case-study-live-eval/internal/observability/logging"
	"case-study-live-eval/internal/observability/metrics"
)

// ServiceName is the health service name for the process as a whole.
const ServiceName = "casestudy.LiveEvaluation"

// SessionService returns the health service name for a session.
func SessionService(sessionID string) string {
	return "session/" + sessionID
}

// Server wraps a grpc.Server with health checking.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

// New creates a server with health, reflection and the logging/metrics interceptors.
func New(m *metrics.Metrics) *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	return &Server{grpc: g, health: hs, log: logging.WithComponent("grpc")}
}

// ReportSession maps a session's connection state onto its health status.
// It has the session.StateObserver signature.
func (s *Server) ReportSession(sessionID string, state models.ConnectionState) {
	status := healthStatus(state)
	s.health.SetServingStatus(SessionService(sessionID), status)
	s.log.Debug().Str("sessionId", sessionID).Str("status", status.String()).Msg("Session health updated")
}

func healthStatus(state models.ConnectionState) grpc_health_v1.HealthCheckResponse_ServingStatus {
	switch state {
	case models.ConnectionConnected:
		return grpc_health_v1.HealthCheckResponse_SERVING
	case models.ConnectionConnecting:
		return grpc_health_v1.HealthCheckResponse_UNKNOWN
	default:
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("gRPC server started")
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Stop marks everything NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
