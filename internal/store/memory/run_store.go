// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lensfeed/focus-collector/internal/focus"
)

// RunStore implements focus.RunStore with map-backed state. All lifecycle
// invariants (monotonic transitions, non-decreasing progress, finishedAt on
// terminal) are enforced here so tests exercise the same rules as Postgres.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]focus.QueryRun
	now  func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore(clock focus.Clock) *RunStore {
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return &RunStore{
		runs: make(map[string]focus.QueryRun),
		now:  now,
	}
}

// CreateRun stores a new run. The run always starts PENDING at progress 0
// regardless of the caller-supplied fields.
func (s *RunStore) CreateRun(_ context.Context, run focus.QueryRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s: %w", run.ID, focus.ErrConflict)
	}
	run.Status = focus.RunStatusPending
	run.Progress = 0
	run.FinishedAt = nil
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now().UTC()
	}
	s.runs[run.ID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (focus.QueryRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return focus.QueryRun{}, focus.ErrNotFound
	}
	return run, nil
}

// MarkRunning transitions PENDING -> RUNNING exactly once.
func (s *RunStore) MarkRunning(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return focus.ErrNotFound
	}
	switch run.Status {
	case focus.RunStatusPending:
		run.Status = focus.RunStatusRunning
		s.runs[runID] = run
		return nil
	case focus.RunStatusRunning:
		return focus.ErrConflict
	default:
		return focus.ErrTerminal
	}
}

// SetProgress records progress for an active run. Values below the current
// progress are ignored so concurrent completions can never move it backward.
func (s *RunStore) SetProgress(_ context.Context, runID string, progress int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress %d out of range", progress)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return focus.ErrNotFound
	}
	if run.Status.Terminal() {
		return focus.ErrTerminal
	}
	if progress > run.Progress {
		run.Progress = progress
		s.runs[runID] = run
	}
	return nil
}

// Finish moves the run to a terminal status and stamps finishedAt. A
// completed run always reads progress 100.
func (s *RunStore) Finish(_ context.Context, runID string, status focus.RunStatus, errText string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return focus.ErrNotFound
	}
	if run.Status.Terminal() {
		return focus.ErrTerminal
	}
	run.Status = status
	run.Error = errText
	if status == focus.RunStatusCompleted {
		run.Progress = 100
	}
	now := s.now().UTC()
	run.FinishedAt = &now
	s.runs[runID] = run
	return nil
}

// ListRuns returns runs filtered by optional status, newest first.
func (s *RunStore) ListRuns(_ context.Context, status *focus.RunStatus, limit, offset int) ([]focus.QueryRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]focus.QueryRun, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
