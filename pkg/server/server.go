// Package server provides the local HTTP listener of the proxy.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"hls-proxy-go/pkg/config"
	"hls-proxy-go/pkg/logging"
	"hls-proxy-go/pkg/middleware"

	"github.com/go-chi/chi/v5"
)

// BindError reports that the listener could not be opened.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Server is the proxy HTTP server.
type Server struct {
	httpServer *http.Server
	cfg        config.ServerConfig
	log        *logging.Logger
	router     *chi.Mux

	port    atomic.Int32
	serveWg sync.WaitGroup
}

// New creates a new server with the standard middleware stack installed.
// Routes are added through Router before Start.
func New(cfg config.ServerConfig, log *logging.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		log:    log.WithComponent("server"),
		router: chi.NewRouter(),
	}

	s.router.Use(
		middleware.RequestID,
		middleware.Logging(s.log),
		middleware.Recovery(s.log),
		middleware.CORS,
	)

	return s
}

// Router returns the server's router for registering handlers.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start binds the listener and serves in the background. Port 0 binds an
// OS-assigned port. A bind failure is returned as *BindError.
func (s *Server) Start() error {
	addr := s.cfg.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}

	s.port.Store(int32(ln.Addr().(*net.TCPAddr).Port))
	s.httpServer = &http.Server{
		Handler:     s.router,
		ReadTimeout: s.cfg.ReadTimeout,
		IdleTimeout: s.cfg.IdleTimeout,
		// No WriteTimeout: segment streams last as long as the origin sends.
	}

	s.log.Info("server listening", "addr", ln.Addr().String(), "port", s.Port())

	s.serveWg.Add(1)
	go func() {
		defer s.serveWg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", "error", err)
		}
	}()

	return nil
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	return int(s.port.Load())
}

// URL returns the base URL players use to reach the proxy.
func (s *Server) URL() string {
	return "http://localhost:" + strconv.Itoa(s.Port())
}

// Shutdown gracefully shuts down the server and waits for the serve loop to
// exit. In-flight streams are cut when ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		err = s.httpServer.Close()
	}
	s.serveWg.Wait()
	s.log.Info("server stopped", "port", s.Port())
	return err
}
