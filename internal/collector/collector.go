// Package collector orchestrates one collection run across all sources
// bound to a query.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lensfeed/focus-collector/internal/events"
	"github.com/lensfeed/focus-collector/internal/focus"
	"github.com/lensfeed/focus-collector/internal/metrics"
	"github.com/lensfeed/focus-collector/internal/proxy"
	"github.com/lensfeed/focus-collector/internal/sanitize"
)

// Config controls Collector behavior.
type Config struct {
	// ParallelSources bounds concurrent adapter invocations within one run
	// (default 4).
	ParallelSources int
	// SourceTimeout is the per-adapter-invocation deadline (default 30s),
	// so one hung source cannot block the job lease.
	SourceTimeout time.Duration
}

// Collector executes the focus-collection pipeline for one run: proxy
// resolution, adapter dispatch, sanitization, keyword matching, content
// persistence, and incremental progress reporting. Per-source failures are
// isolated; only query-lookup and persistence faults fail the run.
type Collector struct {
	catalog  focus.CatalogStore
	runs     focus.RunStore
	content  focus.ContentStore
	resolver *proxy.Resolver
	adapters map[focus.SourceKind]focus.SourceAdapter
	expander focus.Expander
	bus      events.Publisher
	recorder *metrics.Recorder
	idGen    focus.IDGenerator
	clock    focus.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Collector. The expander and recorder may be nil; matching
// then uses literal keyword terms only and fetch outcomes go unrecorded.
func New(
	catalog focus.CatalogStore,
	runs focus.RunStore,
	content focus.ContentStore,
	resolver *proxy.Resolver,
	adapters []focus.SourceAdapter,
	expander focus.Expander,
	bus events.Publisher,
	recorder *metrics.Recorder,
	idGen focus.IDGenerator,
	clock focus.Clock,
	cfg Config,
	logger *zap.Logger,
) *Collector {
	if cfg.ParallelSources <= 0 {
		cfg.ParallelSources = 4
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byKind := make(map[focus.SourceKind]focus.SourceAdapter, len(adapters))
	for _, a := range adapters {
		if a != nil {
			byKind[a.Kind()] = a
		}
	}
	return &Collector{
		catalog:  catalog,
		runs:     runs,
		content:  content,
		resolver: resolver,
		adapters: byKind,
		expander: expander,
		bus:      bus,
		recorder: recorder,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Collect runs the pipeline for one claimed job. A returned error is
// run-fatal: the caller must drive the run to FAILED. A nil error means the
// run completed; per-source failures are reported in the result.
func (c *Collector) Collect(ctx context.Context, job focus.Job) (focus.CollectionResult, error) {
	query, err := c.catalog.GetQuery(ctx, job.QueryID)
	if err != nil {
		return focus.CollectionResult{}, fmt.Errorf("load query %s: %w", job.QueryID, err)
	}
	if !query.Enabled {
		return focus.CollectionResult{}, fmt.Errorf("query %s: disabled: %w", job.QueryID, focus.ErrConflict)
	}

	terms := buildMatcher(ctx, query.Keywords, c.expander, c.logger)
	total := len(query.Sources)
	if total == 0 {
		if err := c.runs.SetProgress(ctx, job.RunID, 100); err != nil {
			return focus.CollectionResult{}, fmt.Errorf("record progress: %w", err)
		}
		c.publishProgress(job.RunID, 100, "no sources bound")
		return focus.CollectionResult{}, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg        sync.WaitGroup
		completed atomic.Int64
		failed    atomic.Int64
		matched   atomic.Int64
		fatalOnce sync.Once
		fatalErr  error
	)
	fatal := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel()
		})
	}

	sem := make(chan struct{}, c.cfg.ParallelSources)
	var interrupted error
	for _, source := range query.Sources {
		if err := c.checkpoint(runCtx, job); err != nil {
			interrupted = err
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(src focus.Source) {
			defer wg.Done()
			defer func() { <-sem }()

			count, err := c.collectSource(runCtx, job, src, terms)
			if err != nil {
				c.recorder.SourceFetched(string(src.Kind), "error")
				var fatalMark *fatalError
				if errors.As(err, &fatalMark) {
					fatal(fatalMark.err)
					return
				}
				failed.Add(1)
				c.logger.Warn("source collection failed",
					zap.String("run_id", job.RunID),
					zap.String("source_id", src.ID),
					zap.String("kind", string(src.Kind)),
					zap.Error(err),
				)
				c.publish(events.Event{
					RunID:   job.RunID,
					Type:    events.TypeSourceError,
					Message: fmt.Sprintf("source %s: %v", src.Name, err),
				})
			} else {
				c.recorder.SourceFetched(string(src.Kind), "ok")
			}
			matched.Add(int64(count))

			done := completed.Add(1)
			progress := int(done * 100 / int64(total))
			if err := c.runs.SetProgress(runCtx, job.RunID, progress); err != nil &&
				!errors.Is(err, focus.ErrTerminal) {
				c.logger.Error("progress update failed",
					zap.String("run_id", job.RunID),
					zap.Error(err),
				)
			}
			c.publishProgress(job.RunID, progress,
				fmt.Sprintf("%d/%d sources processed", done, total))
		}(source)
	}
	wg.Wait()

	result := focus.CollectionResult{
		TotalSources:   total,
		FailedSources:  int(failed.Load()),
		MatchedRecords: int(matched.Load()),
	}
	if fatalErr != nil {
		return result, fatalErr
	}
	if interrupted != nil {
		return result, fmt.Errorf("collection interrupted: %w", interrupted)
	}
	if ctx.Err() != nil {
		return result, fmt.Errorf("collection interrupted: %w", ctx.Err())
	}
	return result, nil
}

// checkpoint implements cooperative cancellation at the per-source boundary:
// no new source is dispatched once the run left RUNNING or its query was
// disabled mid-run. In-flight fetches finish on their own timeout. A non-nil
// return is run-fatal; an interrupted run must not report as completed when
// sources were skipped.
func (c *Collector) checkpoint(ctx context.Context, job focus.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	run, err := c.runs.GetRun(ctx, job.RunID)
	if err == nil && run.Status != focus.RunStatusRunning {
		c.logger.Info("run no longer active, stopping dispatch",
			zap.String("run_id", job.RunID),
			zap.String("status", string(run.Status)),
		)
		return fmt.Errorf("run status %s: %w", run.Status, focus.ErrConflict)
	}
	query, err := c.catalog.GetQuery(ctx, job.QueryID)
	if err == nil && !query.Enabled {
		c.logger.Info("query disabled mid-run, stopping dispatch",
			zap.String("run_id", job.RunID),
			zap.String("query_id", job.QueryID),
		)
		return fmt.Errorf("query %s disabled mid-run: %w", job.QueryID, focus.ErrConflict)
	}
	return nil
}

// fatalError wraps faults that must fail the whole run rather than a single
// source.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func (c *Collector) collectSource(
	ctx context.Context,
	job focus.Job,
	source focus.Source,
	terms *matcher,
) (int, error) {
	adapter, ok := c.adapters[source.Kind]
	if !ok {
		return 0, fmt.Errorf("no adapter for kind %s", source.Kind)
	}

	resolved, err := c.resolver.Resolve(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("resolve proxy: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.SourceTimeout)
	defer cancel()

	candidates, err := adapter.Fetch(fetchCtx, focus.FetchRequest{
		RunID:  job.RunID,
		Source: source,
		Proxy:  resolved,
		Terms:  terms.includes,
	})
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}

	count := 0
	for _, candidate := range candidates {
		text := sanitize.StripInjection(candidate.Text)
		title := sanitize.StripInjection(candidate.Title)

		matchedTerms, ok := terms.Match(title + "\n" + text)
		if !ok {
			continue
		}
		id, err := c.idGen.NewID()
		if err != nil {
			return count, &fatalError{err: fmt.Errorf("generate content id: %w", err)}
		}
		record := focus.ContentRecord{
			ID:           id,
			RunID:        job.RunID,
			QueryID:      job.QueryID,
			SourceID:     source.ID,
			Title:        title,
			Text:         text,
			URL:          candidate.URL,
			MatchedTerms: matchedTerms,
			CollectedAt:  c.clock.Now().UTC(),
		}
		if err := c.content.CreateContent(ctx, record); err != nil {
			return count, &fatalError{err: fmt.Errorf("persist content: %w", err)}
		}
		count++
		c.publish(events.Event{
			RunID:   job.RunID,
			Type:    events.TypeContent,
			Message: fmt.Sprintf("matched content from %s: %s", source.Name, firstNonEmpty(title, candidate.URL)),
		})
	}
	return count, nil
}

func (c *Collector) publishProgress(runID string, progress int, message string) {
	c.publish(events.Event{
		RunID:    runID,
		Type:     events.TypeProgress,
		Message:  message,
		Progress: progress,
	})
}

func (c *Collector) publish(evt events.Event) {
	if c.bus == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = c.clock.Now().UTC()
	}
	c.bus.Publish(evt)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
