/*
Package server exposes the announcement query surface over HTTP: the listing
and summary endpoints, cached document downloads, the websocket alert feed,
health and Prometheus metrics.
*/
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/shanehull/bsewatch/internal/bse"
	"github.com/shanehull/bsewatch/internal/config"
	"github.com/shanehull/bsewatch/internal/engine"
	"github.com/shanehull/bsewatch/internal/types"
)

// Announcements is the read path the API serves.
type Announcements interface {
	List(ctx context.Context, q bse.Query) engine.Listing
	Summarize(ctx context.Context, uri, subjectName, subjectID string) types.SentimentResult
}

// Documents resolves cache-relative paths to files on disk.
type Documents interface {
	Resolve(rel string) (string, error)
	RelPath(path string) (string, error)
}

type Server struct {
	cfg           config.ServerConfig
	announcements Announcements
	documents     Documents
	feed          http.Handler
	metrics       http.Handler
	validate      *validator.Validate
	logger        arbor.ILogger
	started       time.Time

	router chi.Router
	http   *http.Server
}

// New builds the router. feed and metrics may be nil, in which case their
// routes are not mounted.
func New(cfg config.ServerConfig, announcements Announcements, documents Documents, feed, metrics http.Handler, logger arbor.ILogger) *Server {
	s := &Server{
		cfg:           cfg,
		announcements: announcements,
		documents:     documents,
		feed:          feed,
		metrics:       metrics,
		validate:      validator.New(),
		logger:        logger,
		started:       time.Now(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	if s.feed != nil {
		r.Handle("/ws", s.feed)
	}
	r.Get("/pdf/*", s.handlePDF)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/announcements", s.handleAnnouncements)
		r.Post("/summarize", s.handleSummarize)
	})
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout.Duration,
		WriteTimeout: s.cfg.WriteTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("HTTP server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration)
	defer cancel()
	s.logger.Info().Msg("HTTP server shutting down")
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}
