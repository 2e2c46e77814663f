package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/logging"
	"github.com/JakeFAU/llm-docs-crawler/internal/metrics"
)

const (
	defaultRecentLimit = 10
	defaultMatchLimit  = 5
	maxLimit           = 200
)

// FrontierReader is the read side of the frontier store.
type FrontierReader interface {
	Get(ctx context.Context, url string) (crawler.Entry, error)
	Search(ctx context.Context, prefix string, limit int) ([]crawler.Entry, error)
	Recent(ctx context.Context, limit int) ([]crawler.Entry, error)
	Counts(ctx context.Context) ([]crawler.StatusCount, error)
}

// Server wires HTTP handlers to the frontier.
type Server struct {
	router   chi.Router
	frontier FrontierReader
	logger   *zap.Logger
}

// StatsResponse is returned by GET /v1/frontier/stats.
type StatsResponse struct {
	Counts map[crawler.Status]int64 `json:"counts"`
	Total  int64                    `json:"total"`
	Recent []crawler.Entry          `json:"recent"`
}

// URLResponse is returned by GET /v1/frontier/url.
type URLResponse struct {
	Entry   *crawler.Entry  `json:"entry"`
	Matches []crawler.Entry `json:"matches"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(frontier FrontierReader, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)
	s := &Server{frontier: frontier, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/frontier", func(r chi.Router) {
		r.Get("/stats", s.stats)
		r.Get("/url", s.lookupURL)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown status server: %w", err)
		}
		return nil
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.frontier.Counts(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "frontier unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultRecentLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	counts, err := s.frontier.Counts(r.Context())
	if err != nil {
		s.logger.Error("count frontier", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read frontier")
		return
	}
	recent, err := s.frontier.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("recent frontier entries", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read frontier")
		return
	}
	resp := StatsResponse{Counts: make(map[crawler.Status]int64, len(counts)), Recent: recent}
	for _, c := range counts {
		resp.Counts[c.Status] = c.Count
		resp.Total += c.Count
	}
	if resp.Recent == nil {
		resp.Recent = []crawler.Entry{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) lookupURL(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}
	limit, err := parseLimit(r, defaultMatchLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var resp URLResponse
	entry, err := s.frontier.Get(r.Context(), target)
	switch {
	case err == nil:
		resp.Entry = &entry
	case errors.Is(err, crawler.ErrNotFound):
	default:
		s.logger.Error("get frontier entry", zap.String("url", target), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read frontier")
		return
	}
	matches, err := s.frontier.Search(r.Context(), target, limit)
	if err != nil {
		s.logger.Error("search frontier", zap.String("url", target), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read frontier")
		return
	}
	resp.Matches = matches
	if resp.Matches == nil {
		resp.Matches = []crawler.Entry{}
	}
	if resp.Entry == nil && len(resp.Matches) == 0 {
		writeError(w, http.StatusNotFound, "url not found in frontier")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxLimit)
	}
	return n, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", reqID),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
