// Package search implements the source adapter for search-engine APIs. The
// query's include terms are pushed down so the engine does the first-pass
// filtering.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lensfeed/focus-collector/internal/adapter"
	"github.com/lensfeed/focus-collector/internal/focus"
)

const defaultMaxCandidates = 20

// Config controls the search adapter.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Adapter queries a JSON search API and emits each result as a candidate.
type Adapter struct {
	cfg    Config
	logger *zap.Logger
}

// New builds an Adapter.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, logger: logger}
}

// Kind reports the source kind this adapter serves.
func (a *Adapter) Kind() focus.SourceKind {
	return focus.SourceKindSearch
}

type searchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// Fetch issues one search request carrying the include terms and maps the
// results to candidates, capped at the source's max_candidates.
func (a *Adapter) Fetch(ctx context.Context, req focus.FetchRequest) ([]focus.Candidate, error) {
	endpoint := req.Source.Config.Endpoint
	if endpoint == "" {
		return nil, fmt.Errorf("search source %s has no endpoint configured", req.Source.ID)
	}
	if len(req.Terms) == 0 {
		a.logger.Debug("search source has no terms, skipping",
			zap.String("source_id", req.Source.ID),
		)
		return nil, nil
	}

	limit := req.Source.Config.MaxCandidates
	if limit <= 0 {
		limit = defaultMaxCandidates
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", strings.Join(req.Terms, " "))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	transport, err := adapter.Transport(req.Proxy)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Transport: transport, Timeout: a.cfg.Timeout}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if a.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", a.cfg.UserAgent)
	}
	if key := req.Source.Config.APIKey; key != "" {
		httpReq.Header.Set("X-API-Key", key)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request: status %d", resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	candidates := make([]focus.Candidate, 0, len(payload.Results))
	for i, result := range payload.Results {
		if i >= limit {
			break
		}
		candidates = append(candidates, focus.Candidate{
			Title: result.Title,
			Text:  result.Snippet,
			URL:   result.URL,
			Metadata: map[string]any{
				"rank": i + 1,
			},
		})
	}
	return candidates, nil
}
