package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// autoPortAttempts is how many consecutive ports are tried when the
// configured one is taken.
const autoPortAttempts = 20

// Config configures the provider HTTP server.
type Config struct {
	Host         string
	Port         int
	AutoPort     bool
	Handlers     *Handlers
	Logger       *slog.Logger
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the provider HTTP server.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
}

// New builds the server and binds its listener. With cfg.AutoPort set, ports
// cfg.Port through cfg.Port+20 are tried in order before giving up.
func New(cfg Config) (*Server, error) {
	if cfg.Handlers == nil {
		return nil, errors.New("server: handlers are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 120 * time.Second
	}

	listener, err := bind(cfg.Host, cfg.Port, cfg.AutoPort, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: listener,
		logger:   logger,
	}
	s.httpServer = &http.Server{
		Handler:      s.routes(cfg.Handlers),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

func bind(host string, port int, autoPort bool, logger *slog.Logger) (net.Listener, error) {
	attempts := 1
	if autoPort {
		attempts = autoPortAttempts + 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		addr := net.JoinHostPort(host, fmt.Sprintf("%d", port+i))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			if i > 0 {
				logger.Info("configured port taken, bound to fallback", "addr", ln.Addr().String())
			}
			return ln, nil
		}
		lastErr = err
	}
	if autoPort {
		return nil, fmt.Errorf("server: no free port in %d-%d: %w", port, port+autoPortAttempts, lastErr)
	}
	return nil, fmt.Errorf("server: listen on port %d: %w", port, lastErr)
}

func (s *Server) routes(h *Handlers) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.HandleRoot)
	mux.HandleFunc("GET /wtf", h.HandleWTF)
	mux.HandleFunc("GET /hello", h.HandleHello)
	mux.HandleFunc("GET /all_data", h.HandleAllData)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("GET /refresh", h.HandleRefresh)
	mux.HandleFunc("POST /lazy_load", h.HandleLazyLoad)

	var handler http.Handler = mux
	handler = recoveryMiddleware(s.logger, handler)
	handler = loggingMiddleware(s.logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

// Handler returns the fully wired route handler, for in-process testing
// without going through the listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the bound listen address, including the resolved port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Start serves requests until Shutdown is called. It blocks.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.Addr())
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline. The bound
// listener is closed even when Start was never called.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	err := s.httpServer.Shutdown(ctx)
	if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}
	return err
}
