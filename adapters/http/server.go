package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Server runs the status router in the background.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
	addr   string
	errCh  chan error
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
		addr:   addr,
		errCh:  make(chan error, 1),
	}
}

// Start binds the listener and serves in a goroutine. A bind failure is
// returned synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.addr = ln.Addr().String()

	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("status server listening")
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
		close(s.errCh)
	}()
	return nil
}

// Addr returns the bound address, which differs from the configured one when
// the port was 0.
func (s *Server) Addr() string {
	return s.addr
}

// Errors delivers a serve failure and is closed when the server stops.
// The server does not log failures itself.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}
