// Package server exposes the chat service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dream-ai/docchat/internal/chat"
	"github.com/dream-ai/docchat/internal/documents"
	"github.com/dream-ai/docchat/internal/domain"
	"github.com/dream-ai/docchat/internal/rag"
)

// ChatService is the application behind the HTTP surface
type ChatService interface {
	Query(ctx context.Context, p chat.Principal, req chat.QueryRequest) (<-chan rag.Event, error)
	History(ctx context.Context, p chat.Principal, conversationID string) ([]domain.Message, error)
	Ingest(ctx context.Context, p chat.Principal, req documents.IngestRequest) (*documents.IngestResult, error)
}

// Options configures a Server
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
	// Ready, when set, is consulted by /healthz.
	Ready   func(ctx context.Context) error
	Logger  *zap.Logger
	Metrics *Metrics
}

// Server routes HTTP requests to a ChatService
type Server struct {
	svc     ChatService
	opts    Options
	logger  *zap.Logger
	metrics *Metrics
	router  *mux.Router
}

func New(svc ChatService, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}
	s := &Server{
		svc:     svc,
		opts:    opts,
		logger:  opts.Logger.With(zap.String("component", "http")),
		metrics: opts.Metrics,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.observe)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(requirePrincipal)
	api.HandleFunc("/chat/query", s.handleQuery).Methods(http.MethodPost)
	api.HandleFunc("/chat/messages", s.handleMessages).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}/ingest", s.handleIngest).Methods(http.MethodPost)

	return router
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.opts.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
