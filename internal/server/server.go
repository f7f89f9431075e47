// Package server owns the TCP accept loop: every accepted connection gets
// its own session engine bound to a clone of the repository template.
package server

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/fluxchat/fluxchat/internal/registry"
	"github.com/fluxchat/fluxchat/internal/repositories"
	"github.com/fluxchat/fluxchat/internal/session"
	"github.com/fluxchat/fluxchat/pkg/logger"
)

type Server struct {
	addr  string
	repos *repositories.Set
	reg   *registry.Registry
	cfg   session.Config
	log   *logger.Logger

	mu       sync.Mutex
	listener net.Listener
}

func New(addr string, repos *repositories.Set, reg *registry.Registry, cfg session.Config, log *logger.Logger) *Server {
	return &Server{
		addr:  addr,
		repos: repos,
		reg:   reg,
		cfg:   cfg,
		log:   log,
	}
}

// Start accepts connections until the listener is closed. Each connection
// runs its own session goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("server listening", zap.String("addr", s.addr))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("failed to accept connection", zap.Error(err))
			continue
		}
		sess := session.New(conn, s.repos, s.reg, s.cfg, s.log)
		go sess.Run()
	}
}

// Stop closes the listener; in-flight sessions run until their own
// transport fails or times out.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
}

// Addr returns the bound listener address, useful when the configured
// port is 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
