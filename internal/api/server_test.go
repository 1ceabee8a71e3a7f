package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lensfeed/focus-collector/internal/config"
	"github.com/lensfeed/focus-collector/internal/events"
	"github.com/lensfeed/focus-collector/internal/focus"
	memstore "github.com/lensfeed/focus-collector/internal/store/memory"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

type seqIDGen struct{ n atomic.Int64 }

func (g *seqIDGen) NewID() (string, error) {
	return fmt.Sprintf("run-%d", g.n.Add(1)), nil
}

type captureEnqueuer struct {
	mu   sync.Mutex
	jobs []focus.Job
	err  error
}

func (e *captureEnqueuer) Enqueue(_ context.Context, job focus.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.jobs = append(e.jobs, job)
	return nil
}

func (e *captureEnqueuer) captured() []focus.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]focus.Job(nil), e.jobs...)
}

type testEnv struct {
	server   *Server
	runs     *memstore.RunStore
	catalog  *memstore.Catalog
	enqueuer *captureEnqueuer
	bus      *events.Bus
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	clock := fakeClock{t: time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)}
	env := &testEnv{
		runs:     memstore.NewRunStore(clock),
		catalog:  memstore.NewCatalog(),
		enqueuer: &captureEnqueuer{},
		bus:      events.NewBus(nil),
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	env.server = NewServer(
		env.runs,
		env.catalog,
		env.enqueuer,
		env.bus,
		env.bus,
		&seqIDGen{},
		clock,
		cfg,
		nil,
		nil,
	)
	return env
}

func (env *testEnv) seedQuery(id string, enabled bool) {
	env.catalog.PutQuery(focus.Query{ID: id, Name: "watch " + id, Enabled: enabled})
}

func doRequest(t *testing.T, env *testEnv, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestTriggerRunAccepted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.seedQuery("q1", true)

	rec := doRequest(t, env, http.MethodPost, "/v1/queries/q1/runs", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "run-1", body["run_id"])
	require.Equal(t, "pending", body["status"])

	run, err := env.runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, focus.RunStatusPending, run.Status)
	require.Zero(t, run.Progress)

	jobs := env.enqueuer.captured()
	require.Len(t, jobs, 1)
	require.Equal(t, "run-1", jobs[0].RunID)
	require.Equal(t, "q1", jobs[0].QueryID)
	require.Equal(t, 1, jobs[0].Attempt)
}

func TestTriggerRunQueryNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := doRequest(t, env, http.MethodPost, "/v1/queries/missing/runs", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerRunDisabledQueryConflicts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.seedQuery("q1", false)

	rec := doRequest(t, env, http.MethodPost, "/v1/queries/q1/runs", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Empty(t, env.enqueuer.captured())
}

func TestTriggerRunEnqueueFailureFailsRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.seedQuery("q1", true)
	env.enqueuer.err = errors.New("queue full")

	rec := doRequest(t, env, http.MethodPost, "/v1/queries/q1/runs", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	run, err := env.runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, focus.RunStatusFailed, run.Status)
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	require.NoError(t, env.runs.CreateRun(context.Background(), focus.QueryRun{ID: "r1", QueryID: "q1"}))

	rec := doRequest(t, env, http.MethodGet, "/v1/runs/r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Run runDTO `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "r1", body.Run.ID)
	require.Equal(t, "pending", body.Run.Status)

	rec = doRequest(t, env, http.MethodGet, "/v1/runs/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRunsFiltersByStatus(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	ctx := context.Background()
	require.NoError(t, env.runs.CreateRun(ctx, focus.QueryRun{ID: "r1", QueryID: "q1"}))
	require.NoError(t, env.runs.CreateRun(ctx, focus.QueryRun{ID: "r2", QueryID: "q1"}))
	require.NoError(t, env.runs.MarkRunning(ctx, "r2"))
	require.NoError(t, env.runs.Finish(ctx, "r2", focus.RunStatusCompleted, ""))

	rec := doRequest(t, env, http.MethodGet, "/v1/runs?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, "r2", body.Runs[0].ID)
	require.Equal(t, 100, body.Runs[0].Progress)

	rec = doRequest(t, env, http.MethodGet, "/v1/runs?status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, env, http.MethodGet, "/v1/runs?limit=nope", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "letmein"
	env := newTestEnv(t, cfg)

	rec := doRequest(t, env, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, env, http.MethodGet, "/healthz", map[string]string{"X-API-Key": "letmein"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})

	rec := doRequest(t, env, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "ok"))

	rec = doRequest(t, env, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

// blockingRunStore parks every listing until the request context ends.
type blockingRunStore struct {
	focus.RunStore
}

func (s *blockingRunStore) ListRuns(ctx context.Context, _ *focus.RunStatus, _, _ int) ([]focus.QueryRun, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRequestTimeoutCancelsSlowHandlers(t *testing.T) {
	t.Parallel()

	clock := fakeClock{t: time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)}
	cfg := config.Config{}
	cfg.Server.RequestTimeoutSeconds = 1
	server := NewServer(
		&blockingRunStore{RunStore: memstore.NewRunStore(clock)},
		memstore.NewCatalog(),
		&captureEnqueuer{},
		nil,
		nil,
		&seqIDGen{},
		clock,
		cfg,
		nil,
		nil,
	)

	// Without the timeout middleware this request would never return: the
	// store only unblocks when the request context is cancelled.
	start := time.Now()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := doRequest(t, env, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
