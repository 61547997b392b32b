package api

import (
	"bufio"
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

	"github.com/JakeFAU/wikicrawl/internal/crawler"
	"github.com/JakeFAU/wikicrawl/internal/frontier"
	"github.com/JakeFAU/wikicrawl/internal/metrics"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Server wires HTTP handlers to the index and frontier stores.
type Server struct {
	router   chi.Router
	index    crawler.IndexStore
	frontier crawler.FrontierStore
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. frontierStore may
// be nil, in which case /v1/frontier answers 404.
func NewServer(index crawler.IndexStore, frontierStore crawler.FrontierStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		index:    index,
		frontier: frontierStore,
		logger:   logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/entities", func(r chi.Router) {
			r.Get("/", s.listEntities)
			r.Get("/count", s.countEntities)
			r.Get("/lookup", s.lookupEntity)
		})
		r.Get("/frontier", s.frontierStatus)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.index.Ping(r.Context()); err != nil {
		s.logger.Warn("index not ready", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "index unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type entityList struct {
	Entities []crawler.EntityRecord `json:"entities"`
	Limit    int                    `json:"limit"`
	Offset   int                    `json:"offset"`
	Total    int                    `json:"total"`
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit <= 0 || limit > maxPageSize {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxPageSize))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.writeError(w, http.StatusBadRequest, "offset must be >= 0")
		return
	}
	records, err := s.index.ListEntities(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list entities failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list entities")
		return
	}
	total, err := s.index.CountEntities(r.Context())
	if err != nil {
		s.logger.Error("count entities failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to count entities")
		return
	}
	if records == nil {
		records = []crawler.EntityRecord{}
	}
	s.writeJSON(w, http.StatusOK, entityList{Entities: records, Limit: limit, Offset: offset, Total: total})
}

func (s *Server) countEntities(w http.ResponseWriter, r *http.Request) {
	total, err := s.index.CountEntities(r.Context())
	if err != nil {
		s.logger.Error("count entities failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to count entities")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"count": total})
}

func (s *Server) lookupEntity(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, "url query parameter required")
		return
	}
	canonical, err := crawler.CanonicalURL(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, err := s.index.GetEntity(r.Context(), canonical)
	switch {
	case errors.Is(err, crawler.ErrRecordNotFound):
		s.writeError(w, http.StatusNotFound, "entity not found")
	case err != nil:
		s.logger.Error("lookup entity failed", zap.String("url", canonical), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to look up entity")
	default:
		s.writeJSON(w, http.StatusOK, record)
	}
}

type frontierReport struct {
	Stats    []crawler.FrontierStats `json:"stats"`
	Failures []crawler.FailedTarget  `json:"failures"`
}

// frontierStatus loads a fresh snapshot so a concurrently running crawl is
// reflected in every response.
func (s *Server) frontierStatus(w http.ResponseWriter, r *http.Request) {
	if s.frontier == nil {
		s.writeError(w, http.StatusNotFound, "frontier not configured")
		return
	}
	snapshot, err := frontier.Open(r.Context(), s.frontier, frontier.Options{})
	if err != nil {
		s.logger.Error("load frontier failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load frontier")
		return
	}
	failures := snapshot.Failures("")
	if failures == nil {
		failures = []crawler.FailedTarget{}
	}
	s.writeJSON(w, http.StatusOK, frontierReport{Stats: snapshot.Stats(), Failures: failures})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
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

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
