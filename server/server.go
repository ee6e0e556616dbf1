package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/vinayprograms/podwork/errors"
	"github.com/vinayprograms/podwork/logging"
	"github.com/vinayprograms/podwork/shutdown"
)

// Config configures a Server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// ReadHeaderTimeout bounds how long a client may take to send headers.
	// Default: 10 seconds
	ReadHeaderTimeout time.Duration

	// Handler serves GET /. Required.
	Handler *Handler

	// Gate drives the readiness endpoint. Required.
	Gate shutdown.Gate

	Logger *logging.Logger
}

// Server is the HTTP front of the process: the work endpoint plus health
// checks. It implements shutdown.ShutdownHandler.
type Server struct {
	srv    *http.Server
	logger *logging.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New builds a Server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Handler == nil || cfg.Gate == nil {
		return nil, errors.InvalidInput("server: handler and gate are required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	ready := &Readiness{}
	ready.Add(GateChecker(cfg.Gate))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", HandleLive)
	mux.Handle("/readyz", ready)
	mux.Handle("/", cfg.Handler)

	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		logger: logger.WithComponent("server"),
	}, nil
}

// Listen binds the listen address. Errors carry ErrCodeNetworkErr.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "listen on "+s.srv.Addr)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return ln, nil
}

// Serve accepts connections on ln until OnShutdown is called. A graceful
// stop returns nil.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "serve")
	}
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

// OnShutdown closes the listener and waits for in-flight requests. Their
// work loops observe the shutdown flag and return partial results, so the
// wait is bounded by one work iteration plus response writing.
func (s *Server) OnShutdown(ctx context.Context) error {
	s.logger.Info("http_server_stopping", logging.Fields{"addr": s.Addr()})
	if err := s.srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown")
	}
	return nil
}
