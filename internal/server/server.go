// Package server provides the HTTP API for fastembed.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/fastembed/internal/config"
	"github.com/hyperjump/fastembed/pkg/metrics"
	"github.com/hyperjump/fastembed/pkg/fastembed"
	"github.com/hyperjump/fastembed/pkg/models"
	"github.com/hyperjump/fastembed/pkg/utils"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Session is the part of a loaded model the server needs.
type Session interface {
	fastembed.Embedder
	ModelSpec() models.ModelSpec
}

// Server is the HTTP server for the embedding API.
type Server struct {
	session Session
	cached  *fastembed.CachedEmbedder
	config  *config.Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	started time.Time
	server  *http.Server
}

// NewServer creates a server around a loaded session. Repeated texts are
// served from an in-memory cache of cfg.Model.CacheSize embeddings.
func NewServer(session Session, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *Server {
	return &Server{
		session: session,
		cached:  fastembed.NewCachedEmbedder(session, cfg.Model.CacheSize),
		config:  cfg,
		metrics: m,
		logger:  utils.OrNop(logger),
		started: time.Now(),
	}
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/embed", s.handleEmbed)
	r.Get("/api/v1/models", s.handleModels)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr), zap.String("model", s.session.ModelSpec().ID))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type ctxKey struct{}

// requestID tags every request with the caller's id or a new UUID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
