// Package server is the HTTP front of the process. Realtime websocket
// upgrades and the metrics endpoint are mounted on one listener behind a
// shared middleware chain.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/syntrixbase/livequery/internal/server/ratelimit"
)

// Service owns the HTTP listener. Handlers must be registered before Start.
type Service interface {
	// Start listens and serves until ctx is done or serving fails.
	Start(ctx context.Context) error
	// Stop drains active requests, giving up when ctx expires.
	Stop(ctx context.Context) error
	RegisterHTTPHandler(pattern string, handler http.Handler)
	HTTPMux() *http.ServeMux
}

type httpService struct {
	cfg     Config
	logger  *slog.Logger
	mux     *http.ServeMux
	limiter ratelimit.Limiter

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// New returns an unstarted Service. A nil logger uses slog.Default.
func New(cfg Config, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &httpService{
		cfg:    cfg,
		logger: logger.With("component", "server"),
		mux:    http.NewServeMux(),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit)
	}
	return s
}

func (s *httpService) Start(ctx context.Context) error {
	srv, ln, err := s.listen()
	if err != nil {
		return err
	}
	s.logger.Info("Starting HTTP server", "addr", ln.Addr().String())

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		return nil
	}
}

func (s *httpService) listen() (*http.Server, net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil, nil, errors.New("server already started")
	}
	s.srv = &http.Server{
		Addr:         net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.HTTPPort)),
		Handler:      s.wrapMiddleware(s.mux),
		ReadTimeout:  s.cfg.HTTPReadTimeout,
		WriteTimeout: s.cfg.HTTPWriteTimeout,
		IdleTimeout:  s.cfg.HTTPIdleTimeout,
	}
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("http listen error: %w", err)
	}
	s.ln = ln
	return s.srv, ln, nil
}

func (s *httpService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stoppable, ok := s.limiter.(ratelimit.Stoppable); ok {
		stoppable.Stop()
	}
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown error: %w", err)
	}
	return nil
}

func (s *httpService) RegisterHTTPHandler(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

func (s *httpService) HTTPMux() *http.ServeMux { return s.mux }

// Addr is the bound address, or nil until Start has listened.
func (s *httpService) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}
