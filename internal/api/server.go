package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-ingest/internal/metrics"
	"github.com/JakeFAU/tender-ingest/internal/scheduler"
	"github.com/JakeFAU/tender-ingest/internal/tender"
)

// Trigger starts a run in the background.
type Trigger interface {
	Trigger() error
	Running() bool
}

// RunReader returns the latest ledger row.
type RunReader interface {
	LastRun(ctx context.Context) (tender.RunRecord, error)
}

// Server wires HTTP handlers to the scheduler and the run ledger.
type Server struct {
	router  chi.Router
	trigger Trigger
	runs    RunReader
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. runs may be nil when no ledger
// is configured.
func NewServer(trigger Trigger, runs RunReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		trigger: trigger,
		runs:    runs,
		logger:  logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/runs", func(r chi.Router) {
		r.Post("/", s.triggerRun)
		r.Get("/last", s.lastRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": s.trigger.Running()})
}

func (s *Server) triggerRun(w http.ResponseWriter, _ *http.Request) {
	if err := s.trigger.Trigger(); err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type runResponse struct {
	ID           string           `json:"id"`
	Status       tender.RunStatus `json:"status"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	Counters     json.RawMessage  `json:"counters,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

func (s *Server) lastRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "run ledger not configured")
		return
	}
	rec, err := s.runs.LastRun(r.Context())
	if errors.Is(err, tender.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "no run recorded")
		return
	}
	if err != nil {
		s.logger.Error("read last run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read run ledger")
		return
	}
	resp := runResponse{
		ID:           rec.ID,
		Status:       rec.Status,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
		ErrorMessage: rec.ErrorMessage,
	}
	if json.Valid(rec.CountersJSON) {
		resp.Counters = rec.CountersJSON
	}
	writeJSON(w, http.StatusOK, resp)
}

type requestIDKey struct{}

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
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
