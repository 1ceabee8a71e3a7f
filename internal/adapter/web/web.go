// Package web implements the source adapter for plain web sites using
// Colly, with optional headless rendering for script-heavy pages.
package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/lensfeed/focus-collector/internal/adapter"
	"github.com/lensfeed/focus-collector/internal/focus"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Renderer produces the rendered text of a page when the source is
// configured for JavaScript rendering.
type Renderer interface {
	Render(ctx context.Context, url string, proxy *focus.Proxy) (title string, text string, err error)
}

// Adapter fetches one page per source and emits it as a single candidate.
type Adapter struct {
	cfg      Config
	renderer Renderer
	logger   *zap.Logger
}

// New builds an Adapter. The renderer may be nil; render-enabled sources
// then fall back to the plain fetch.
func New(cfg Config, renderer Renderer, logger *zap.Logger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, renderer: renderer, logger: logger}
}

// Kind reports the source kind this adapter serves.
func (a *Adapter) Kind() focus.SourceKind {
	return focus.SourceKindWeb
}

// Fetch retrieves the source's page through the resolved proxy and returns
// it as one candidate carrying the page text.
func (a *Adapter) Fetch(ctx context.Context, req focus.FetchRequest) ([]focus.Candidate, error) {
	target := req.Source.Config.URL
	if target == "" {
		return nil, fmt.Errorf("web source %s has no url configured", req.Source.ID)
	}

	if req.Source.Config.Render && a.renderer != nil {
		title, text, err := a.renderer.Render(ctx, target, req.Proxy)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", target, err)
		}
		return []focus.Candidate{{
			Title:    title,
			Text:     text,
			URL:      target,
			Metadata: map[string]any{"rendered": true},
		}}, nil
	}
	return a.fetchPlain(ctx, target, req.Proxy)
}

func (a *Adapter) fetchPlain(ctx context.Context, target string, p *focus.Proxy) ([]focus.Candidate, error) {
	transport, err := adapter.Transport(p)
	if err != nil {
		return nil, err
	}

	// colly v2.1.0's Async option ignores its argument and always enables
	// async mode; omit it to keep the collector synchronous.
	c := colly.NewCollector()
	c.WithTransport(transport)
	if a.cfg.UserAgent != "" {
		c.UserAgent = a.cfg.UserAgent
	}
	c.SetRequestTimeout(a.cfg.Timeout)

	var (
		title    string
		bodyText strings.Builder
		status   int
		fetchErr error
	)
	c.OnHTML("title", func(e *colly.HTMLElement) {
		if title == "" {
			title = strings.TrimSpace(e.Text)
		}
	})
	c.OnHTML("body", func(e *colly.HTMLElement) {
		bodyText.WriteString(e.Text)
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(target)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("web fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", target, err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", target, fetchErr)
		}
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetch %s: status %d", target, status)
	}

	return []focus.Candidate{{
		Title: title,
		Text:  strings.TrimSpace(bodyText.String()),
		URL:   target,
		Metadata: map[string]any{
			"status": status,
		},
	}}, nil
}
