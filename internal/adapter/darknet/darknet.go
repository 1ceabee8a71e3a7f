// Package darknet implements the source adapter for hidden services. All
// traffic must egress through a SOCKS5 proxy; there is no direct fallback.
package darknet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/lensfeed/focus-collector/internal/adapter"
	"github.com/lensfeed/focus-collector/internal/focus"
)

const maxBodyBytes = 4 << 20

// Config controls the darknet adapter.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Adapter fetches a hidden-service page through the resolved SOCKS5 proxy.
type Adapter struct {
	cfg    Config
	logger *zap.Logger
}

// New builds an Adapter.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, logger: logger}
}

// Kind reports the source kind this adapter serves.
func (a *Adapter) Kind() focus.SourceKind {
	return focus.SourceKindDarknet
}

// Fetch retrieves the page behind the onion address. It refuses to run
// without a SOCKS5 proxy so a resolver bug can never leak a direct request.
func (a *Adapter) Fetch(ctx context.Context, req focus.FetchRequest) ([]focus.Candidate, error) {
	target := req.Source.Config.URL
	if target == "" {
		return nil, fmt.Errorf("darknet source %s has no url configured", req.Source.ID)
	}
	if req.Proxy == nil || req.Proxy.Protocol != focus.ProxySOCKS5 {
		return nil, fmt.Errorf("darknet source %s requires a socks5 proxy", req.Source.ID)
	}

	transport, err := adapter.Transport(req.Proxy)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Transport: transport, Timeout: a.cfg.Timeout}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if a.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", a.cfg.UserAgent)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}

	title, text, err := extractText(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", target, err)
	}

	return []focus.Candidate{{
		Title: title,
		Text:  text,
		URL:   target,
		Metadata: map[string]any{
			"status": resp.StatusCode,
			"onion":  strings.Contains(target, ".onion"),
		},
	}}, nil
}

// extractText walks the parsed document collecting visible text, skipping
// script and style subtrees.
func extractText(r io.Reader) (string, string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	var (
		title string
		text  strings.Builder
	)
	var walk func(*html.Node, bool)
	walk = func(n *html.Node, inTitle bool) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				inTitle = true
			}
		case html.TextNode:
			trimmed := strings.TrimSpace(n.Data)
			if trimmed == "" {
				break
			}
			if inTitle && title == "" {
				title = trimmed
				break
			}
			if text.Len() > 0 {
				text.WriteByte('\n')
			}
			text.WriteString(trimmed)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child, inTitle)
		}
	}
	walk(doc, false)
	return title, text.String(), nil
}
