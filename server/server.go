// Package server exposes the scheduler's control API over HTTP and streams run
// events to websocket clients.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/inkpulse/inkpulse/am"
	"github.com/inkpulse/inkpulse/errors"
	"github.com/inkpulse/inkpulse/logger"
	"github.com/inkpulse/inkpulse/pulse/schedule"
	"github.com/inkpulse/inkpulse/sym"
)

// Server provides the control API and the run event stream
type Server struct {
	service    *schedule.Service
	dispatcher *schedule.Dispatcher // nil when the API runs without a local dispatcher
	hub        *Hub
	origins    atomic.Pointer[[]string]
	handler    http.Handler
	httpServer *http.Server
	logger     *zap.SugaredLogger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	state  atomic.Int32
}

// New creates a server. dispatcher may be nil; the status endpoint then reports
// store counts only. The hub loop starts immediately.
func New(service *schedule.Service, dispatcher *schedule.Dispatcher, cfg am.ServerConfig, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = logger.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		service:    service,
		dispatcher: dispatcher,
		logger:     log.Named("server"),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.hub = NewHub(s.logger)
	s.SetAllowedOrigins(cfg.AllowedOrigins)
	s.handler = s.setupHTTPRoutes()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.state.Store(int32(ServerStateRunning))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(ctx)
	}()
	return s
}

// AttachDispatcher reports d on the status and health endpoints.
// Call before serving; the dispatcher is built with Hub as its broadcaster.
func (s *Server) AttachDispatcher(d *schedule.Dispatcher) {
	s.dispatcher = d
}

// Hub returns the run event hub; pass it to the dispatcher as its broadcaster
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetAllowedOrigins replaces the CORS and websocket origin allow-list
func (s *Server) SetAllowedOrigins(origins []string) {
	cp := append([]string(nil), origins...)
	s.origins.Store(&cp)
}

func (s *Server) allowedOrigins() []string {
	if p := s.origins.Load(); p != nil {
		return *p
	}
	return nil
}

// ListenAndServe binds addr and serves until Stop. Returns nil after a clean shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Stop
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Infow("HTTP server listening",
		logger.FieldAddress, ln.Addr().String(),
		logger.FieldSymbol, sym.Pulse)

	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains HTTP requests, closes websocket clients and stops the hub
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Infow("Initiating server shutdown")
	s.setState(ServerStateDraining)

	var shutdownErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		shutdownErr = errors.Wrap(err, "http shutdown")
	}

	// Hijacked websocket connections are not tracked by http.Server;
	// cancelling the hub closes them
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Goroutine shutdown timed out", "timeout", ShutdownTimeout)
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete", "event_drops", s.hub.Drops())
	return shutdownErr
}
