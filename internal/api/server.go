// Package api exposes the HTTP interface for the collector service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/changhorizon/content-collector/internal/collector"
)

// CrawlStarter launches a crawl task for a host.
type CrawlStarter interface {
	Run(ctx context.Context, host string, params collector.Params) (string, error)
}

// Server wires HTTP handlers to the task stores and the crawl starter.
type Server struct {
	router  chi.Router
	tasks   collector.TaskStore
	ledger  collector.LedgerStore
	starter CrawlStarter
	params  collector.Params
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	tasks collector.TaskStore,
	ledger collector.LedgerStore,
	starter CrawlStarter,
	params collector.Params,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		tasks:   tasks,
		ledger:  ledger,
		starter: starter,
		params:  params,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.startTask)
			r.Get("/{task_id}", s.getTask)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startTaskRequest struct {
	Entry string `json:"entry"`
}

type startTaskResponse struct {
	TaskID string `json:"task_id"`
	Host   string `json:"host"`
}

// startTask launches a crawl for the configured site. The request body may
// override the entry URL; everything else comes from configuration.
func (s *Server) startTask(w http.ResponseWriter, r *http.Request) {
	params := s.params
	if r.Body != nil && r.ContentLength != 0 {
		var req startTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.Entry != "" {
			params.Site.Entry = req.Entry
		}
	}

	entry, err := collector.NormalizeURL(params.Site.Entry)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid entry url")
		return
	}
	host, err := collector.HostOf(entry)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid entry url")
		return
	}

	taskID, err := s.starter.Run(r.Context(), host, params)
	if err != nil {
		s.logger.Error("task start failed", zap.String("host", host), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "task start failed")
		return
	}

	s.writeJSON(w, http.StatusAccepted, startTaskResponse{TaskID: taskID, Host: host})
}

type taskStatusResponse struct {
	collector.Task
	URLSummary map[string]int `json:"url_summary"`
}

// getTask reports the task row plus a ledger roll-up per final result,
// with not-yet-final rows counted under "pending".
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		s.writeError(w, http.StatusBadRequest, "task_id required")
		return
	}

	task, err := s.tasks.GetTask(r.Context(), taskID)
	if err != nil {
		if err == collector.ErrNotFound {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("task lookup failed", zap.String("task_id", taskID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "task lookup failed")
		return
	}

	summary, err := s.ledger.Summary(r.Context(), taskID)
	if err != nil {
		s.logger.Error("ledger summary failed", zap.String("task_id", taskID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "ledger summary failed")
		return
	}

	s.writeJSON(w, http.StatusOK, taskStatusResponse{Task: task, URLSummary: summary})
}

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

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
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
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
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
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}`))
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
