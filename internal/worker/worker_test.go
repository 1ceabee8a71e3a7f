package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lensfeed/focus-collector/internal/collector"
	"github.com/lensfeed/focus-collector/internal/events"
	"github.com/lensfeed/focus-collector/internal/focus"
	"github.com/lensfeed/focus-collector/internal/proxy"
	"github.com/lensfeed/focus-collector/internal/queue"
	qmem "github.com/lensfeed/focus-collector/internal/queue/memory"
	memstore "github.com/lensfeed/focus-collector/internal/store/memory"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

type seqIDGen struct{ n atomic.Int64 }

func (g *seqIDGen) NewID() (string, error) {
	return fmt.Sprintf("id-%d", g.n.Add(1)), nil
}

type fakeAdapter struct {
	kind       focus.SourceKind
	candidates []focus.Candidate
	err        error
}

func (a *fakeAdapter) Kind() focus.SourceKind { return a.kind }

func (a *fakeAdapter) Fetch(context.Context, focus.FetchRequest) ([]focus.Candidate, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.candidates, nil
}

type harness struct {
	worker  *Worker
	queue   *qmem.Queue
	runs    *memstore.RunStore
	catalog *memstore.Catalog
	content *memstore.ContentStore
	bus     *events.Bus
}

func newHarness(t *testing.T, adapters []focus.SourceAdapter) *harness {
	t.Helper()
	clock := fakeClock{t: time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)}
	catalog := memstore.NewCatalog()
	runs := memstore.NewRunStore(clock)
	content := memstore.NewContentStore()
	bus := events.NewBus(nil)
	q := qmem.NewQueue(16, qmem.Config{
		MaxAttempts: 1,
		Backoff:     queue.NewExponentialBackoff(time.Millisecond, 10*time.Millisecond),
	}, nil)
	t.Cleanup(q.Close)

	coll := collector.New(
		catalog,
		runs,
		content,
		proxy.NewResolver(catalog, nil),
		adapters,
		nil,
		bus,
		nil,
		&seqIDGen{},
		clock,
		collector.Config{ParallelSources: 2, SourceTimeout: time.Second},
		nil,
	)
	w := New(q, runs, coll, bus, clock, nil, nil)
	return &harness{worker: w, queue: q, runs: runs, catalog: catalog, content: content, bus: bus}
}

func (h *harness) seedQuery(q focus.Query) { h.catalog.PutQuery(q) }

func (h *harness) seedPendingRun(t *testing.T, runID, queryID string) focus.Job {
	t.Helper()
	require.NoError(t, h.runs.CreateRun(context.Background(), focus.QueryRun{ID: runID, QueryID: queryID}))
	return focus.Job{RunID: runID, QueryID: queryID, Attempt: 1}
}

func TestProcessJobCompletesRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []focus.SourceAdapter{&fakeAdapter{
		kind:       focus.SourceKindWeb,
		candidates: []focus.Candidate{{Text: "breach chatter", URL: "https://f.test/1"}},
	}})
	h.seedQuery(focus.Query{
		ID:      "q1",
		Enabled: true,
		Keywords: []focus.Keyword{{
			ID: "k1", Name: "watch", Lang: focus.LangEN,
			IncludeTerms: []string{"breach"}, Active: true,
		}},
		Sources: []focus.Source{{ID: "s1", Name: "forum", Kind: focus.SourceKindWeb}},
	})
	job := h.seedPendingRun(t, "r1", "q1")

	stream, cancel := h.bus.Subscribe("r1")
	defer cancel()

	h.worker.processJob(context.Background(), job)

	run, err := h.runs.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, focus.RunStatusCompleted, run.Status)
	require.Equal(t, 100, run.Progress)
	require.NotNil(t, run.FinishedAt)
	require.Len(t, h.content.ListByRun("r1"), 1)
	require.Empty(t, h.queue.DeadLetters())

	var sawDone bool
	for evt := range stream {
		if evt.Type == events.TypeDone {
			sawDone = true
		}
	}
	require.True(t, sawDone, "expected a terminal done event on the stream")
}

func TestProcessJobFatalFailsRunBeforeDeadLetter(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	// No query seeded: the lookup fault is run-fatal.
	job := h.seedPendingRun(t, "r1", "missing")

	stream, cancel := h.bus.Subscribe("r1")
	defer cancel()

	h.worker.processJob(context.Background(), job)

	run, err := h.runs.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, focus.RunStatusFailed, run.Status)
	require.NotEmpty(t, run.Error)
	require.NotNil(t, run.FinishedAt)

	dead := h.queue.DeadLetters()
	require.Len(t, dead, 1)
	require.Equal(t, "r1", dead[0].Job.RunID)

	var sawError bool
	for evt := range stream {
		if evt.Type == events.TypeError {
			sawError = true
		}
	}
	require.True(t, sawError, "expected a terminal error event on the stream")
}

func TestProcessJobSkipsTerminalRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	job := h.seedPendingRun(t, "r1", "q1")
	require.NoError(t, h.runs.MarkRunning(context.Background(), "r1"))
	require.NoError(t, h.runs.Finish(context.Background(), "r1", focus.RunStatusFailed, "earlier attempt"))

	h.worker.processJob(context.Background(), job)

	run, err := h.runs.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, focus.RunStatusFailed, run.Status)
	require.Equal(t, "earlier attempt", run.Error)
	require.Empty(t, h.queue.DeadLetters())
}

func TestProcessJobSkipsAlreadyRunningRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	job := h.seedPendingRun(t, "r1", "q1")
	require.NoError(t, h.runs.MarkRunning(context.Background(), "r1"))

	h.worker.processJob(context.Background(), job)

	run, err := h.runs.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, focus.RunStatusRunning, run.Status)
	require.Empty(t, h.queue.DeadLetters())
}

func TestRunLoopDrainsQueue(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []focus.SourceAdapter{&fakeAdapter{
		kind:       focus.SourceKindWeb,
		candidates: []focus.Candidate{{Text: "breach chatter"}},
	}})
	h.seedQuery(focus.Query{
		ID:      "q1",
		Enabled: true,
		Keywords: []focus.Keyword{{
			ID: "k1", Name: "watch", Lang: focus.LangEN,
			IncludeTerms: []string{"breach"}, Active: true,
		}},
		Sources: []focus.Source{{ID: "s1", Kind: focus.SourceKindWeb}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.worker.Run(ctx)

	for i := 0; i < 3; i++ {
		job := h.seedPendingRun(t, fmt.Sprintf("r%d", i), "q1")
		require.NoError(t, h.queue.Enqueue(ctx, job))
	}

	require.Eventually(t, func() bool {
		completed := focus.RunStatusCompleted
		runs, err := h.runs.ListRuns(context.Background(), &completed, 0, 0)
		return err == nil && len(runs) == 3
	}, 5*time.Second, 20*time.Millisecond)
}
