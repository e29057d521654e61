// Package api exposes document conversion over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/pdfdown/internal/domain"
	"github.com/spherical/pdfdown/internal/history"
	"github.com/spherical/pdfdown/internal/observability"
)

// Converter runs one document conversion
type Converter interface {
	Process(ctx context.Context, path string, eventCh chan<- domain.StreamEvent) (*domain.ConversionResult, error)
}

// HistoryReader reads recorded runs
type HistoryReader interface {
	ListRuns(ctx context.Context, limit int) ([]history.Run, error)
	GetRun(ctx context.Context, id string) (*history.Run, error)
}

// RouterConfig holds HTTP API settings.
type RouterConfig struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
	Version        string
}

// DefaultRouterConfig returns default API settings.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RequestTimeout: 10 * time.Minute,
		MaxUploadBytes: 50 << 20,
		Version:        "dev",
	}
}

// NewRouter creates the API router. runs may be nil, in which case the history routes are not mounted.
func NewRouter(logger *observability.Logger, converter Converter, runs HistoryReader, cfg RouterConfig) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	defaults := DefaultRouterConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaults.MaxUploadBytes
	}
	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	logger = logger.WithOperation("api")
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "pdfdown",
			"version": cfg.Version,
		})
	})

	convertHandler := NewConvertHandler(logger, converter, cfg.MaxUploadBytes)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/convert", convertHandler.Convert)

		if runs != nil {
			historyHandler := NewHistoryHandler(logger, runs)
			r.Route("/runs", func(r chi.Router) {
				r.Get("/", historyHandler.List)
				r.Get("/{runId}", historyHandler.Get)
			})
		}
	})

	return r
}

// requestLogger logs one line per request through the structured logger.
func requestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}
