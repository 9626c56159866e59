package grpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Server gRPC server carrying the standard health service.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	address    string
	log        *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a gRPC server listening on address.
func New(address string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		address: address,
		log:     log.Named("grpc"),
		health:  health.NewServer(),
	}
	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s
}

// logUnary logs failed unary calls.
func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.log.Warn("rpc failed", zap.String("method", info.FullMethod), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	}
	return resp, err
}

// SetServing flips the health status of service ("" for the whole server).
func (s *Server) SetServing(service string, serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// Listen binds the listen address; Start calls it when needed.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		lis, err := net.Listen("tcp", s.address)
		if err != nil {
			return nil, err
		}
		s.listener = lis
	}
	return s.listener.Addr(), nil
}

// Start serves until Stop; a clean stop returns nil.
func (s *Server) Start() error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}
	s.mu.Lock()
	lis := s.listener
	s.mu.Unlock()

	s.log.Info("grpc server starting", zap.Stringer("address", addr))
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks the server not serving and stops it gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// GetGRPCServer returns the underlying server for registering services.
func (s *Server) GetGRPCServer() *grpc.Server {
	return s.grpcServer
}
