// Package httpapi exposes the renderer over HTTP for Cloud Run.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Lllllllleong/pdfrenderer/internal/models"
	"github.com/Lllllllleong/pdfrenderer/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// MaxBodyBytes bounds the /process request body.
const MaxBodyBytes = 10 << 20

// Processor runs one render job.
type Processor interface {
	Process(ctx context.Context, req *models.ProcessRequest) (*services.RenderResult, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Listen string
	// RedactErrors replaces 500 error messages with a generic text.
	RedactErrors bool
	// WriteTimeout must exceed the job timeout, since /process is synchronous.
	WriteTimeout time.Duration
}

type Server struct {
	config    Config
	processor Processor
	logger    *slog.Logger
	server    *http.Server
}

func New(config Config, processor Processor, logger *slog.Logger) *Server {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 15 * time.Minute
	}
	return &Server{config: config, processor: processor, logger: logger}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("Renderer listening.", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Renderer shutting down.")
		// in-flight renders get the remainder of their own job deadline
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealthz)
	r.Post("/process", s.handleProcess)

	return r
}

// ProcessHandler serves the /process contract on whatever path it is mounted,
// for use as a Cloud Functions HTTP target.
func (s *Server) ProcessHandler() http.HandlerFunc {
	return s.handleProcess
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
