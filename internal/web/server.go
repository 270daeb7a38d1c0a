// Package web exposes the chat service over HTTP: a small JSON API for
// the browser client plus a WebSocket notice stream.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"propchat/internal/chat"
	"propchat/internal/config"
	"propchat/internal/domain"
	"propchat/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Server is the HTTP gateway in front of the chat service.
type Server struct {
	host     string
	port     int
	chat     *chat.Service
	store    domain.ConversationStore
	notifier domain.Notifier
	logger   *slog.Logger
	server   *http.Server

	metricsEnabled  bool
	metricsEndpoint string
	allowedOrigins  []string
}

// ServerConfig wires the gateway's dependencies.
type ServerConfig struct {
	Web      config.WebConfig
	Metrics  config.MetricsConfig
	Chat     *chat.Service
	Store    domain.ConversationStore
	Notifier domain.Notifier
	Logger   *slog.Logger
}

// NewServer builds a Server. Host and port default to 127.0.0.1:8080.
func NewServer(cfg ServerConfig) *Server {
	host := cfg.Web.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Web.Port
	if port == 0 {
		port = 8080
	}
	origins := cfg.Web.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	endpoint := cfg.Metrics.Endpoint
	if endpoint == "" {
		endpoint = "/metrics"
	}

	return &Server{
		host:            host,
		port:            port,
		chat:            cfg.Chat,
		store:           cfg.Store,
		notifier:        cfg.Notifier,
		logger:          cfg.Logger,
		metricsEnabled:  cfg.Metrics.Enabled,
		metricsEndpoint: endpoint,
		allowedOrigins:  origins,
	}
}

// Handler builds the route tree. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Requested-With", "X-User-ID", "X-User-Email"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	if s.metricsEnabled {
		r.Get(s.metricsEndpoint, metrics.Collector.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireUser)

		r.Post("/chat", s.handleChat)
		r.Get("/conversations", s.handleListConversations)
		r.Get("/conversations/{id}", s.handleGetConversation)
		r.Post("/conversations/{id}/title", s.handleUpdateTitle)
		r.Delete("/conversations/{id}", s.handleDeleteConversation)
		r.Delete("/messages/{id}", s.handleDeleteMessage)
		r.Get("/notices", s.handleNotices)
	})

	return r
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	s.logger.Info("gateway started", "addr", "http://"+addr, "metrics", s.metricsEnabled)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop closes the server immediately.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
