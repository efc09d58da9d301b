// Package server is the collector's HTTP ingestion surface: report pushes
// from agents, the developer listing, and the stats counters the dashboard
// polls. Every response, errors included, carries permissive CORS headers
// so a locally served dashboard page can call the API directly.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/devsight/devsight/internal/store"
)

// maxReportBody bounds a single report push; a truncated read is a parse
// failure, not a partial accept.
const maxReportBody = 1 << 20

type Server struct {
	logger *slog.Logger
	store  Store

	// keyFunc returns the current shared secret. Looked up per request so
	// a rotation takes effect without a listener restart.
	keyFunc func() string

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	running    bool
}

// Store is the slice of the aggregate store the handlers need.
type Store interface {
	AddReport(ctx context.Context, in store.ReportInput) (int64, error)
	ListDevelopers(ctx context.Context) ([]store.Developer, error)
	Stats(ctx context.Context, now time.Time) (store.Stats, error)
}

func New(logger *slog.Logger, st Store, keyFunc func() string) *Server {
	return &Server{
		logger:  logger,
		store:   st,
		keyFunc: keyFunc,
	}
}

// Start binds the listener and begins serving in the background. A bind
// failure is returned to the caller; nothing else about serving is.
// Starting an already running server is an error.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("server already running")
	}

	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.running = true

	go func(srv *http.Server, ln net.Listener) {
		s.logger.Info("ingestion server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ingestion server stopped", "error", err)
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}(s.httpServer, ln)

	return nil
}

// Stop drains in-flight requests and closes the listener. Safe to call on
// a server that never started.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	// The serve goroutine flips this too, but only after Serve returns;
	// flipping it here means Running() reads false as soon as Stop does.
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr returns the bound address, or "" when not running. Useful when the
// configured port is 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
