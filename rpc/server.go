package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/vsariola/kantele/engine"
	"github.com/vsariola/kantele/events"
	"github.com/vsariola/kantele/orc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server represents the gRPC API server
type Server struct {
	server      *grpc.Server
	listener    net.Listener
	performance Performance
	bus         events.Bus
	logger      *zap.Logger
}

// Config holds gRPC server configuration
type Config struct {
	Addr        string
	Performance Performance
	// Bus feeds Watch streams; nil makes Watch unavailable.
	Bus    events.Bus
	Logger *zap.Logger
}

// NewServer creates a new gRPC server listening on cfg.Addr
func NewServer(cfg *Config) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		listener:    listener,
		performance: cfg.Performance,
		bus:         cfg.Bus,
		logger:      logger,
	}
	s.server = grpc.NewServer(grpc.UnaryInterceptor(s.logCalls))
	s.server.RegisterService(&serviceDesc, s)

	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start starts the gRPC server
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server. Open Watch streams are cut
// when ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
	}

	s.logger.Info("gRPC server shut down complete")
	return nil
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Info("gRPC call",
		zap.String("method", info.FullMethod),
		zap.Stringer("code", status.Code(err)),
		zap.Duration("duration", time.Since(start)))
	return resp, err
}

func (s *Server) Compile(ctx context.Context, req *CompileRequest) (*SubmitReply, error) {
	id, err := s.performance.SubmitCompile(req.Orchestra)
	if err != nil {
		return nil, statusError(err)
	}
	return &SubmitReply{UpdateID: id.String()}, nil
}

func (s *Server) Score(ctx context.Context, req *ScoreRequest) (*SubmitReply, error) {
	if len(req.Events) > 0 && req.Text != "" {
		return nil, status.Error(codes.InvalidArgument, "give either events or text, not both")
	}
	if req.Text != "" {
		id, err := s.performance.SubmitScoreText(req.Text)
		if err != nil {
			return nil, statusError(err)
		}
		return &SubmitReply{UpdateID: id.String()}, nil
	}
	for i := range req.Events {
		req.Events[i].Instrument = orc.NormalizeID(req.Events[i].Instrument)
	}
	id, err := s.performance.SubmitScoreAppend(req.Events)
	if err != nil {
		return nil, statusError(err)
	}
	return &SubmitReply{UpdateID: id.String()}, nil
}

func (s *Server) Status(ctx context.Context, req *StatusRequest) (*engine.Status, error) {
	st := s.performance.Status()
	return &st, nil
}

// Watch streams notifications until the client goes away.
func (s *Server) Watch(req *WatchRequest, stream grpc.ServerStream) error {
	if s.bus == nil {
		return status.Error(codes.Unimplemented, "no notification bus")
	}
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	errc := make(chan error, 1)
	err := s.bus.Subscribe(ctx, func(ctx context.Context, n engine.Notification) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := stream.SendMsg(&n); err != nil {
			engine.TrySend(errc, err)
			cancel()
			return err
		}
		return nil
	})
	if err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	<-ctx.Done()
	select {
	case err := <-errc:
		return err
	default:
		return nil
	}
}
