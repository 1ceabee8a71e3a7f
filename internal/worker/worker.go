// Package worker implements the collection job execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lensfeed/focus-collector/internal/collector"
	"github.com/lensfeed/focus-collector/internal/events"
	"github.com/lensfeed/focus-collector/internal/focus"
	"github.com/lensfeed/focus-collector/internal/metrics"
)

// Worker claims jobs from the queue, executes the collector, and finalizes
// the run record. It is the only component that mutates a run while holding
// the job's lease.
type Worker struct {
	queue     focus.Queue
	runs      focus.RunStore
	collector *collector.Collector
	bus       events.Publisher
	clock     focus.Clock
	recorder  *metrics.Recorder
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue focus.Queue,
	runs focus.RunStore,
	coll *collector.Collector,
	bus events.Publisher,
	clock focus.Clock,
	recorder *metrics.Recorder,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		runs:      runs,
		collector: coll,
		bus:       bus,
		clock:     clock,
		recorder:  recorder,
		logger:    logger,
	}
}

// Run blocks, consuming jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("claimed job",
			zap.String("run_id", job.RunID),
			zap.Int("attempt", job.Attempt),
		)
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job focus.Job) {
	run, err := w.runs.GetRun(ctx, job.RunID)
	if err != nil {
		w.logger.Error("run lookup failed, dead-lettering",
			zap.String("run_id", job.RunID),
			zap.Error(err),
		)
		w.nack(ctx, job, fmt.Errorf("run lookup: %w", err))
		return
	}
	// Redelivery after a terminal outcome is a no-op: fresh work needs a
	// fresh run.
	if run.Status.Terminal() {
		w.logger.Info("skipping redelivered job for terminal run",
			zap.String("run_id", job.RunID),
			zap.String("status", string(run.Status)),
		)
		return
	}

	if err := w.runs.MarkRunning(ctx, job.RunID); err != nil {
		switch {
		case errors.Is(err, focus.ErrTerminal):
			return
		case errors.Is(err, focus.ErrConflict):
			// Another claim already owns this run.
			w.logger.Warn("run already running, skipping job", zap.String("run_id", job.RunID))
			return
		default:
			w.fail(ctx, job, fmt.Errorf("mark running: %w", err))
			return
		}
	}

	started := w.clock.Now()
	w.recorder.RunStarted()
	w.publish(events.Event{
		RunID:   job.RunID,
		Type:    events.TypeStart,
		Message: fmt.Sprintf("collection started (attempt %d)", job.Attempt),
	})

	result, err := w.collector.Collect(ctx, job)
	if err != nil {
		w.recorder.RunFinished("failed", w.clock.Now().Sub(started))
		w.fail(ctx, job, err)
		return
	}

	w.recorder.ContentMatched(result.MatchedRecords)
	if err := w.runs.Finish(ctx, job.RunID, focus.RunStatusCompleted, ""); err != nil &&
		!errors.Is(err, focus.ErrTerminal) {
		w.recorder.RunFinished("failed", w.clock.Now().Sub(started))
		w.fail(ctx, job, fmt.Errorf("finalize run: %w", err))
		return
	}
	w.recorder.RunFinished("completed", w.clock.Now().Sub(started))
	w.publish(events.Event{
		RunID:    job.RunID,
		Type:     events.TypeDone,
		Progress: 100,
		Message: fmt.Sprintf("collection completed: %d/%d sources, %d matches, %d source failures",
			result.TotalSources-result.FailedSources,
			result.TotalSources,
			result.MatchedRecords,
			result.FailedSources,
		),
	})
	w.logger.Info("run completed",
		zap.String("run_id", job.RunID),
		zap.Int("sources", result.TotalSources),
		zap.Int("failed_sources", result.FailedSources),
		zap.Int("matched", result.MatchedRecords),
	)
}

// fail drives the run to FAILED before the error reaches the queue, so
// observers never see an orphaned RUNNING run after dead-lettering.
func (w *Worker) fail(ctx context.Context, job focus.Job, cause error) {
	if err := w.runs.Finish(ctx, job.RunID, focus.RunStatusFailed, cause.Error()); err != nil &&
		!errors.Is(err, focus.ErrTerminal) {
		w.logger.Error("failed to finalize run",
			zap.String("run_id", job.RunID),
			zap.Error(err),
		)
	}
	w.publish(events.Event{
		RunID:   job.RunID,
		Type:    events.TypeError,
		Message: cause.Error(),
	})
	w.logger.Error("run failed",
		zap.String("run_id", job.RunID),
		zap.Int("attempt", job.Attempt),
		zap.Error(cause),
	)
	w.nack(ctx, job, cause)
}

func (w *Worker) nack(ctx context.Context, job focus.Job, cause error) {
	redelivered, err := w.queue.Nack(ctx, job, cause)
	if err != nil {
		w.logger.Error("queue nack failed", zap.String("run_id", job.RunID), zap.Error(err))
		return
	}
	if redelivered {
		w.logger.Debug("job scheduled for redelivery", zap.String("run_id", job.RunID))
	}
}

func (w *Worker) publish(evt events.Event) {
	if w.bus == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = w.clock.Now().UTC()
	}
	w.bus.Publish(evt)
}
