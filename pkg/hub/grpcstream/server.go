package grpcstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/peer"

	"github.com/playforge/arcadia/internal/logger"
	"github.com/playforge/arcadia/pkg/hub"
)

// Fully-qualified stream method. Clients open one stream per connection.
const (
	ServiceName   = "arcadia.hub.v1.Hub"
	SessionMethod = "/" + ServiceName + "/Session"
)

// Config holds stream transport settings.
type Config struct {
	// ListenAddr is the host:port the gRPC server binds to.
	ListenAddr string `mapstructure:"listen_addr" validate:"required" yaml:"listen_addr"`

	// MaxFrameBytes caps a single inbound frame.
	MaxFrameBytes int `mapstructure:"max_frame_bytes" validate:"gt=0" yaml:"max_frame_bytes"`

	// KeepaliveInterval is how often the server pings idle streams.
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`

	// KeepaliveTimeout closes streams whose pings go unanswered.
	KeepaliveTimeout time.Duration `mapstructure:"keepalive_timeout" yaml:"keepalive_timeout"`
}

// DefaultConfig returns production-leaning stream transport settings.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":7420",
		MaxFrameBytes:     1 << 20, // 1 MiB
		KeepaliveInterval: 30 * time.Second,
		KeepaliveTimeout:  10 * time.Second,
	}
}

// Server hosts hub sessions over bidirectional gRPC streams.
type Server struct {
	cfg Config
	hub *hub.Hub

	mu       sync.Mutex
	grpcSrv  *grpc.Server
	listener net.Listener
	started  bool
}

// NewServer creates the stream transport for a hub.
func NewServer(cfg Config, h *hub.Hub) *Server {
	return &Server{cfg: cfg, hub: h}
}

// serviceDesc is hand-written: the wire payloads are opaque frames, so
// there is no protobuf schema to generate from.
func (s *Server) serviceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "Session",
			Handler:       s.sessionHandler,
			ServerStreams: true,
			ClientStreams: true,
		}},
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("grpcstream: already started")
	}

	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("grpcstream: listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.serveLocked(ctx, lis)
}

// Serve runs the transport on a caller-provided listener.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("grpcstream: already started")
	}
	return s.serveLocked(ctx, lis)
}

func (s *Server) serveLocked(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(
		grpc.ForceServerCodec(passthroughCodec{}),
		grpc.MaxRecvMsgSize(s.cfg.MaxFrameBytes),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    s.cfg.KeepaliveInterval,
			Timeout: s.cfg.KeepaliveTimeout,
		}),
	)
	srv.RegisterService(s.serviceDesc(), s)

	s.grpcSrv = srv
	s.listener = lis
	s.started = true

	go func() {
		logger.InfoCtx(ctx, "stream transport listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Warn("stream transport stopped", logger.KeyError, err.Error())
		}
	}()
	return nil
}

// Stop drains active streams and shuts the server down.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.grpcSrv
	s.started = false
	s.mu.Unlock()

	if srv != nil {
		srv.GracefulStop()
	}
}

// Addr returns the bound listener address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// streamSender adapts a server stream to the router's send endpoint.
// SendMsg on one stream must never run concurrently, so sends serialize
// through the mutex.
type streamSender struct {
	mu     sync.Mutex
	stream grpc.ServerStream
}

func (ss *streamSender) Send(_ context.Context, frame []byte) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.stream.SendMsg(&rawFrame{data: frame})
}

// sessionHandler owns one client connection for the lifetime of its stream.
func (s *Server) sessionHandler(_ any, stream grpc.ServerStream) error {
	ctx := stream.Context()
	connID := uuid.NewString()

	meta := map[string]string{}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		meta["client_ip"] = p.Addr.String()
	}

	sender := &streamSender{stream: stream}
	if _, err := s.hub.Connect(ctx, connID, sender, meta); err != nil {
		return err
	}
	defer func() {
		if err := s.hub.Disconnect(context.WithoutCancel(ctx), connID, "stream closed"); err != nil {
			logger.Debug("disconnect after stream close",
				logger.KeyConnID, connID, logger.KeyError, err.Error())
		}
	}()

	for {
		var in rawFrame
		if err := stream.RecvMsg(&in); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		resp, err := s.hub.HandleFrame(ctx, connID, in.data)
		if err != nil {
			logger.DebugCtx(ctx, "frame handling failed",
				logger.KeyConnID, connID, logger.KeyError, err.Error())
		}
		if resp == nil {
			continue
		}
		if err := sender.Send(ctx, resp); err != nil {
			return err
		}
	}
}
