package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"google.golang.org/grpc"

	siftv1 "github.com/jamesainslie/sift/pkg/api/sift/v1"
)

// Config holds the daemon's filesystem locations.
type Config struct {
	SocketPath string
	PIDPath    string
}

// StatusPath returns the startup status file next to the socket.
func (c Config) StatusPath() string {
	return StatusPath(c.SocketPath)
}

// Server is the siftd grpc server.
type Server struct {
	cfg      Config
	svc      *Service
	grpc     *grpc.Server
	listener net.Listener
}

// NewServer listens on cfg.SocketPath and registers svc.
func NewServer(cfg Config, svc *Service) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}

	// A socket left by a crashed daemon blocks the listener.
	if err := os.RemoveAll(cfg.SocketPath); err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "unix", cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.SocketPath, err)
	}

	srv := &Server{
		cfg:      cfg,
		svc:      svc,
		grpc:     grpc.NewServer(),
		listener: listener,
	}
	siftv1.RegisterSiftDaemonServer(srv.grpc, svc)
	return srv, nil
}

// Serve starts the grpc server. Blocks until stopped.
func (s *Server) Serve() error {
	return s.grpc.Serve(s.listener)
}

// Close stops background work, drains open calls and removes the socket.
// Progress streams end when the service closes its broadcaster.
func (s *Server) Close() error {
	s.svc.Close()
	s.grpc.GracefulStop()
	return os.RemoveAll(s.cfg.SocketPath)
}
