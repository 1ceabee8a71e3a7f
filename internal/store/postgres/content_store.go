package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lensfeed/focus-collector/internal/focus"
)

// ContentStore writes matched content records into Postgres.
type ContentStore struct {
	pool Pool
}

// NewContentStore constructs a ContentStore over an existing pool.
func NewContentStore(pool Pool) (*ContentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ContentStore{pool: pool}, nil
}

// CreateContent inserts one matched record.
func (s *ContentStore) CreateContent(ctx context.Context, record focus.ContentRecord) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	termsJSON, err := json.Marshal(normalizeTerms(record.MatchedTerms))
	if err != nil {
		return fmt.Errorf("marshal matched terms: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO content_records (
	id,
	run_id,
	query_id,
	source_id,
	title,
	text,
	url,
	matched_terms,
	collected_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`,
		record.ID,
		record.RunID,
		record.QueryID,
		record.SourceID,
		record.Title,
		record.Text,
		record.URL,
		termsJSON,
		record.CollectedAt,
	)
	if err != nil {
		return fmt.Errorf("insert content: %w", err)
	}
	return nil
}

func normalizeTerms(terms []string) []string {
	if len(terms) == 0 {
		return []string{}
	}
	return append([]string(nil), terms...)
}
