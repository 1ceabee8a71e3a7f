// Package api exposes the HTTP interface for the collection service.
package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lensfeed/focus-collector/internal/config"
	"github.com/lensfeed/focus-collector/internal/events"
	"github.com/lensfeed/focus-collector/internal/focus"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	enqueueTimeout  = 5 * time.Second
)

// Enqueuer hands accepted jobs to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, job focus.Job) error
}

// Subscriber is the read half of the event bus used by the stream handler.
type Subscriber interface {
	Subscribe(runID string) (<-chan events.Event, func())
}

// Server wires HTTP handlers to the run pipeline.
type Server struct {
	router   chi.Router
	runs     focus.RunStore
	catalog  focus.CatalogStore
	enqueuer Enqueuer
	bus      Subscriber
	events   events.Publisher
	idGen    focus.IDGenerator
	clock    focus.Clock
	cfg      config.Config
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runs focus.RunStore,
	catalog focus.CatalogStore,
	enqueuer Enqueuer,
	bus Subscriber,
	publisher events.Publisher,
	idGen focus.IDGenerator,
	clock focus.Clock,
	cfg config.Config,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runs:     runs,
		catalog:  catalog,
		enqueuer: enqueuer,
		bus:      bus,
		events:   publisher,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		gatherer: gatherer,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/metrics", s.metrics)

	// The SSE route is the one handler allowed to outlive the request
	// timeout; everything else under /v1 is bounded.
	timeout := middleware.Timeout(cfg.RequestTimeout())
	r.Route("/v1", func(r chi.Router) {
		r.With(timeout).Post("/queries/{query_id}/runs", s.triggerRun)
		r.Route("/runs", func(r chi.Router) {
			r.With(timeout).Get("/", s.listRuns)
			r.Route("/{run_id}", func(r chi.Router) {
				r.With(timeout).Get("/", s.getRun)
				r.Get("/events", s.streamEvents)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Readiness means the catalog answers; the run stores share its backend.
	if _, err := s.catalog.ListProxies(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "catalog unavailable", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	gatherer := s.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// triggerRun handles POST /v1/queries/{query_id}/runs. A missing query is
// 404, a disabled one 409; otherwise the run is created PENDING, enqueued,
// and acknowledged with 202 before any collection work happens.
func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "query_id")
	query, err := s.catalog.GetQuery(r.Context(), queryID)
	if err != nil {
		if errors.Is(err, focus.ErrNotFound) {
			writeError(w, http.StatusNotFound, "query not found", s.logger)
			return
		}
		s.logger.Error("query lookup failed", zap.String("query_id", queryID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load query", s.logger)
		return
	}
	if !query.Enabled {
		writeError(w, http.StatusConflict, "query is disabled", s.logger)
		return
	}

	runID, err := s.idGen.NewID()
	if err != nil {
		s.logger.Error("run id generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create run", s.logger)
		return
	}
	now := s.clock.Now().UTC()
	run := focus.QueryRun{
		ID:        runID,
		QueryID:   queryID,
		Status:    focus.RunStatusPending,
		CreatedAt: now,
	}
	if err := s.runs.CreateRun(r.Context(), run); err != nil {
		s.logger.Error("run creation failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create run", s.logger)
		return
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	job := focus.Job{
		RunID:    runID,
		QueryID:  queryID,
		Attempt:  1,
		Enqueued: now.Unix(),
	}
	if err := s.enqueuer.Enqueue(queueCtx, job); err != nil {
		// The run exists but never reached the queue; fail it so it cannot
		// sit PENDING forever.
		if finishErr := s.runs.Finish(r.Context(), runID, focus.RunStatusFailed, "enqueue failed"); finishErr != nil {
			s.logger.Error("failed to finalize unqueued run",
				zap.String("run_id", runID),
				zap.Error(finishErr),
			)
		}
		s.logger.Error("job enqueue failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue run", s.logger)
		return
	}
	if s.events != nil {
		s.events.Publish(events.Event{
			RunID:   runID,
			Type:    events.TypeEnqueue,
			Message: "run accepted",
			TS:      now,
		})
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": string(focus.RunStatusPending),
	}, s.logger)
}

// getRun handles GET /v1/runs/{run_id}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, focus.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found", s.logger)
			return
		}
		s.logger.Error("run lookup failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)}, s.logger)
}

// listRuns handles GET /v1/runs?status=&limit=&offset=.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}
	var status *focus.RunStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		parsed, parseErr := parseStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error(), s.logger)
			return
		}
		status = &parsed
	}

	runs, err := s.runs.ListRuns(r.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(runs)}, s.logger)
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (focus.RunStatus, error) {
	switch strings.ToLower(input) {
	case "pending":
		return focus.RunStatusPending, nil
	case "running":
		return focus.RunStatusRunning, nil
	case "completed":
		return focus.RunStatusCompleted, nil
	case "failed":
		return focus.RunStatusFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}

type runDTO struct {
	ID         string     `json:"id"`
	QueryID    string     `json:"query_id"`
	Status     string     `json:"status"`
	Progress   int        `json:"progress"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func toRunDTO(run focus.QueryRun) runDTO {
	return runDTO{
		ID:         run.ID,
		QueryID:    run.QueryID,
		Status:     string(run.Status),
		Progress:   run.Progress,
		Error:      run.Error,
		CreatedAt:  run.CreatedAt,
		FinishedAt: run.FinishedAt,
	}
}

func toRunDTOs(in []focus.QueryRun) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunDTO(run))
	}
	return out
}

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
					writeError(w, http.StatusInternalServerError, "internal server error", logger)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
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
