// Package proxy selects a network egress for source fetches.
package proxy

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lensfeed/focus-collector/internal/focus"
)

// Resolver is a stateless lookup over configured proxy records. A source
// with an explicit proxy association always gets that proxy; otherwise the
// resolver picks the first configured proxy satisfying the source's region
// and the kind's protocol requirement, or none.
type Resolver struct {
	catalog focus.CatalogStore
	logger  *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(catalog focus.CatalogStore, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{catalog: catalog, logger: logger}
}

// Resolve returns the proxy to use for the source, or nil when the source
// has no usable egress configured. Darknet sources require a SOCKS5 proxy;
// resolving one without it is an error.
func (r *Resolver) Resolve(ctx context.Context, source focus.Source) (*focus.Proxy, error) {
	if source.ProxyID != "" {
		p, err := r.catalog.GetProxy(ctx, source.ProxyID)
		if err != nil {
			return nil, fmt.Errorf("lookup proxy %s: %w", source.ProxyID, err)
		}
		if err := checkProtocol(source.Kind, p.Protocol); err != nil {
			return nil, err
		}
		return &p, nil
	}

	proxies, err := r.catalog.ListProxies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	for _, p := range proxies {
		if source.Region != "" && p.Region != source.Region {
			continue
		}
		if checkProtocol(source.Kind, p.Protocol) != nil {
			continue
		}
		r.logger.Debug("proxy selected by region",
			zap.String("source_id", source.ID),
			zap.String("proxy_id", p.ID),
		)
		return &p, nil
	}

	if source.Kind == focus.SourceKindDarknet {
		return nil, errors.New("darknet source requires a socks5 proxy")
	}
	return nil, nil
}

func checkProtocol(kind focus.SourceKind, protocol focus.ProxyProtocol) error {
	if kind == focus.SourceKindDarknet && protocol != focus.ProxySOCKS5 {
		return fmt.Errorf("darknet sources require socks5, got %s", protocol)
	}
	return nil
}
