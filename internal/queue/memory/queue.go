// Package memory provides the in-process job queue implementation.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lensfeed/focus-collector/internal/focus"
	"github.com/lensfeed/focus-collector/internal/queue"
)

// Config controls redelivery behavior.
type Config struct {
	// MaxAttempts bounds total deliveries of one job (default 3).
	MaxAttempts int
	// Backoff computes the redelivery delay; defaults apply when nil.
	Backoff *queue.ExponentialBackoff
}

// DeadLetter records a job whose attempts were exhausted.
type DeadLetter struct {
	Job   focus.Job
	Cause string
	At    time.Time
}

// Queue is a bounded in-memory queue with at-least-once delivery. Dequeue
// hands each item to exactly one caller; Nack schedules a delayed
// redelivery until attempts run out, then dead-letters the job.
type Queue struct {
	ch     chan focus.Job
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	dead   []DeadLetter
	timers map[*time.Timer]struct{}
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int, cfg Config, logger *zap.Logger) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff == nil {
		cfg.Backoff = queue.NewExponentialBackoff(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		ch:     make(chan focus.Job, capacity),
		cfg:    cfg,
		logger: logger,
		timers: make(map[*time.Timer]struct{}),
	}
}

// Enqueue appends a job and returns immediately, or when the context ends.
// A zero attempt count is normalized to 1.
func (q *Queue) Enqueue(ctx context.Context, job focus.Job) error {
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// Dequeue claims the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (focus.Job, error) {
	select {
	case <-ctx.Done():
		return focus.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return focus.Job{}, errors.New("queue closed")
		}
		return job, nil
	}
}

// Nack reports a handler failure for a claimed job. When attempts remain the
// job is redelivered after a backoff delay and Nack returns true; otherwise
// the job is dead-lettered and Nack returns false.
func (q *Queue) Nack(_ context.Context, job focus.Job, cause error) (bool, error) {
	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}
	if job.Attempt >= q.cfg.MaxAttempts {
		q.mu.Lock()
		q.dead = append(q.dead, DeadLetter{Job: job, Cause: causeText, At: time.Now().UTC()})
		q.mu.Unlock()
		q.logger.Warn("job dead-lettered",
			zap.String("run_id", job.RunID),
			zap.Int("attempts", job.Attempt),
			zap.String("cause", causeText),
		)
		return false, nil
	}

	next := job
	next.Attempt++
	delay := q.cfg.Backoff.Delay(job.Attempt)
	q.logger.Debug("job scheduled for redelivery",
		zap.String("run_id", job.RunID),
		zap.Int("attempt", next.Attempt),
		zap.Duration("delay", delay),
	)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, errors.New("queue closed")
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		select {
		case q.ch <- next:
		default:
			q.logger.Error("redelivery dropped, queue full", zap.String("run_id", next.RunID))
		}
	})
	q.timers[timer] = struct{}{}
	return true, nil
}

// DeadLetters returns a snapshot of dead-lettered jobs.
func (q *Queue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

// Close stops pending redeliveries and closes the underlying channel.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = make(map[*time.Timer]struct{})
	close(q.ch)
}
