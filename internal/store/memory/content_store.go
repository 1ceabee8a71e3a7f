package memory

import (
	"context"
	"sync"

	"github.com/lensfeed/focus-collector/internal/focus"
)

// ContentStore implements focus.ContentStore in memory.
type ContentStore struct {
	mu      sync.RWMutex
	records map[string][]focus.ContentRecord
}

// NewContentStore constructs a ContentStore.
func NewContentStore() *ContentStore {
	return &ContentStore{records: make(map[string][]focus.ContentRecord)}
}

// CreateContent appends a matched content record for its run.
func (s *ContentStore) CreateContent(_ context.Context, record focus.ContentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.RunID] = append(s.records[record.RunID], record)
	return nil
}

// ListByRun returns all records captured for a run.
func (s *ContentStore) ListByRun(runID string) []focus.ContentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.records[runID]
	out := make([]focus.ContentRecord, len(records))
	copy(out, records)
	return out
}
