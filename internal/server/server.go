// Package server exposes the tutoring service over HTTP and WebSocket.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/p-n-ai/pai-tutor/internal/ai"
	"github.com/p-n-ai/pai-tutor/internal/curriculum"
	"github.com/p-n-ai/pai-tutor/internal/platform/metrics"
	"github.com/p-n-ai/pai-tutor/internal/tutor"
)

const readyTimeout = 2 * time.Second

// HealthChecker is anything /readyz should probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ModelLister reports the models a language model backend can serve.
type ModelLister interface {
	Models() []ai.ModelInfo
}

// Config holds dependencies for the HTTP server.
type Config struct {
	Service *tutor.Service
	Metrics *metrics.Metrics
	Checks  map[string]HealthChecker
	Models  ModelLister
}

// Server routes HTTP requests to the tutoring service.
type Server struct {
	svc      *tutor.Service
	metrics  *metrics.Metrics
	checks   map[string]HealthChecker
	models   ModelLister
	validate *validator.Validate
}

// New creates a Server.
func New(cfg Config) *Server {
	return &Server{
		svc:      cfg.Service,
		metrics:  cfg.Metrics,
		checks:   cfg.Checks,
		models:   cfg.Models,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/curriculums", s.handleCurriculums)
	mux.HandleFunc("GET /api/curriculums/{id}/units", s.handleUnits)
	mux.HandleFunc("GET /api/units/{id}/syllabus", s.handleSyllabus)
	mux.HandleFunc("GET /api/topics/{id}/subtopics", s.handleSubTopics)

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{key}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{key}", s.handleEndSession)
	mux.HandleFunc("PUT /api/sessions/{key}/curriculum", s.handleSelectCurriculum)
	mux.HandleFunc("PUT /api/sessions/{key}/unit", s.handleSelectUnit)
	mux.HandleFunc("PUT /api/sessions/{key}/subtopic", s.handleEnterSubTopic)
	mux.HandleFunc("DELETE /api/sessions/{key}/subtopic", s.handleExitSubTopic)
	mux.HandleFunc("POST /api/sessions/{key}/messages", s.handleSendMessage)
	mux.HandleFunc("POST /api/sessions/{key}/messages/retry", s.handleRetryMessage)

	mux.HandleFunc("GET /ws/sessions/{key}", s.handleWebsocket)

	return s.instrument(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, c := range s.checks {
		if err := c.HealthCheck(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		slog.Warn("readiness check failed", "failed", failed)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string       `json:"error"`
	Retryable bool         `json:"retryable"`
	History   []tutor.Turn `json:"history,omitempty"`
}

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) (int, errorBody) {
	var modelErr *tutor.ModelError
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &modelErr):
		return http.StatusBadGateway, errorBody{Error: "the tutor could not answer, please try again", Retryable: true}
	case errors.Is(err, curriculum.ErrDataUnavailable):
		return http.StatusServiceUnavailable, errorBody{Error: "content could not be loaded", Retryable: true}
	case errors.Is(err, tutor.ErrBudgetExhausted):
		return http.StatusTooManyRequests, errorBody{Error: err.Error()}
	case errors.Is(err, tutor.ErrInvalidTransition), errors.Is(err, tutor.ErrNothingToRetry):
		return http.StatusConflict, errorBody{Error: err.Error()}
	case errors.Is(err, tutor.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error()}
	case errors.Is(err, tutor.ErrEmptyMessage), errors.Is(err, errBadRequest), errors.As(err, &validationErrs):
		return http.StatusBadRequest, errorBody{Error: err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error"}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Info("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

var errBadRequest = errors.New("bad request")

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return s.validate.Struct(dst)
}

// instrument records request metrics using the matched route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveHTTP(r.Method, route, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack lets the websocket upgrade reach the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
