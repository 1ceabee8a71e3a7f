// Package expand widens keyword term sets through an external synonym
// service. Expansion is best-effort: any failure degrades matching to the
// literal terms rather than failing the run.
package expand

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lensfeed/focus-collector/internal/focus"
)

// Config controls the HTTP expander.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	MaxTerms int
}

// Client calls the synonym service over HTTP.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Client. Endpoint must be set.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("expand endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxTerms <= 0 {
		cfg.MaxTerms = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type expandRequest struct {
	Terms []string `json:"terms"`
	Lang  string   `json:"lang"`
	Limit int      `json:"limit"`
}

type expandResponse struct {
	Terms []string `json:"terms"`
}

// Expand returns additional terms for the seed set. The seed terms are not
// included in the result.
func (c *Client) Expand(ctx context.Context, seed []string, lang focus.KeywordLang) ([]string, error) {
	if len(seed) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(expandRequest{
		Terms: seed,
		Lang:  string(lang),
		Limit: c.cfg.MaxTerms,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("expand request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expand request: status %d", resp.StatusCode)
	}

	var payload expandResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	terms := payload.Terms
	if len(terms) > c.cfg.MaxTerms {
		terms = terms[:c.cfg.MaxTerms]
	}
	c.logger.Debug("expanded terms",
		zap.Int("seed", len(seed)),
		zap.Int("added", len(terms)),
		zap.String("lang", string(lang)),
	)
	return terms, nil
}
