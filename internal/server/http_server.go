package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/socialchat/internal/logger"
	"github.com/Tyrowin/socialchat/internal/messaging"
)

// Options carries optional collaborators of the server.
type Options struct {
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// Server owns the HTTP listener, the WebSocket upgrader and every live
// client connection of one messaging hub.
type Server struct {
	cfg        Config
	hub        *messaging.Hub
	auth       *Authenticator
	origins    originPolicy
	upgrader   websocket.Upgrader
	clients    *clientSet
	metrics    http.Handler
	handler    http.Handler
	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// New builds a server for hub. cfg is sanitised; it is not validated.
func New(cfg Config, hub *messaging.Hub, opts Options) *Server {
	cfg = sanitizeConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:     cfg,
		hub:     hub,
		auth:    NewAuthenticator(cfg.Auth),
		origins: newOriginPolicy(cfg.AllowedOrigins),
		clients: newClientSet(),
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.handler = s.routes()
	s.httpServer = CreateServer(cfg.Port, s.handler)
	return s
}

// Handler returns the routed HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Authenticator returns the token validator the server uses.
func (s *Server) Authenticator() *Authenticator {
	return s.auth
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Start listens on the configured port until Shutdown is called. It returns
// nil after a graceful shutdown.
func (s *Server) Start() error {
	logger.Info("server_listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes every WebSocket client and waits
// for their pumps to finish. Each closed client is disconnected from the hub
// on its way out. The wait is bounded by ctx and the configured shutdown
// timeout, whichever ends first.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("server_shutdown_started")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Error("http_server_shutdown_failed", "error", err)
		errs = append(errs, err)
	}

	closed := s.clients.closeAll()
	logger.Info("clients_closed", "count", closed)

	timeout := s.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := s.clients.wait(timeout); err != nil {
		logger.Warn("client_shutdown_timeout", "remaining", s.clients.count())
		errs = append(errs, err)
	}

	s.cancel()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.Info("server_shutdown_completed")
	return nil
}
