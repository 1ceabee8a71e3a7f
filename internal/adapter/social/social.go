// Package social implements the source adapter for social-media feed APIs.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lensfeed/focus-collector/internal/adapter"
	"github.com/lensfeed/focus-collector/internal/focus"
)

const defaultMaxCandidates = 50

// Config controls the social adapter.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Adapter pulls recent posts from a feed endpoint and emits each post as a
// candidate. Filtering happens downstream; the feed is taken as-is.
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
	return focus.SourceKindSocial
}

type post struct {
	ID       string `json:"id"`
	Author   string `json:"author"`
	Text     string `json:"text"`
	URL      string `json:"url"`
	PostedAt string `json:"posted_at"`
}

type feedResponse struct {
	Posts []post `json:"posts"`
}

// Fetch pulls the configured feed with the source's bearer token.
func (a *Adapter) Fetch(ctx context.Context, req focus.FetchRequest) ([]focus.Candidate, error) {
	endpoint := req.Source.Config.Endpoint
	if endpoint == "" {
		return nil, fmt.Errorf("social source %s has no endpoint configured", req.Source.ID)
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
	if feed := req.Source.Config.Feed; feed != "" {
		q.Set("feed", feed)
	}
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
	if token := req.Source.Config.Token; token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("feed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed request: status %d", resp.StatusCode)
	}

	var payload feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	candidates := make([]focus.Candidate, 0, len(payload.Posts))
	for i, p := range payload.Posts {
		if i >= limit {
			break
		}
		candidates = append(candidates, focus.Candidate{
			Text: p.Text,
			URL:  p.URL,
			Metadata: map[string]any{
				"post_id":   p.ID,
				"author":    p.Author,
				"posted_at": p.PostedAt,
			},
		})
	}
	return candidates, nil
}
