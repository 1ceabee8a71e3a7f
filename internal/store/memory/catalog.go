package memory

import (
	"context"
	"sync"

	"github.com/lensfeed/focus-collector/internal/focus"
)

// Catalog implements focus.CatalogStore over maps. The CRUD collaborator is
// external to the pipeline; PutQuery and PutProxy exist so wiring code and
// tests can seed configuration.
type Catalog struct {
	mu      sync.RWMutex
	queries map[string]focus.Query
	proxies map[string]focus.Proxy
	order   []string
}

// NewCatalog constructs an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		queries: make(map[string]focus.Query),
		proxies: make(map[string]focus.Proxy),
	}
}

// PutQuery inserts or replaces a query definition.
func (c *Catalog) PutQuery(q focus.Query) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries[q.ID] = q
}

// PutProxy inserts or replaces a proxy record.
func (c *Catalog) PutProxy(p focus.Proxy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.proxies[p.ID]; !exists {
		c.order = append(c.order, p.ID)
	}
	c.proxies[p.ID] = p
}

// GetQuery loads a query or returns focus.ErrNotFound.
func (c *Catalog) GetQuery(_ context.Context, queryID string) (focus.Query, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.queries[queryID]
	if !ok {
		return focus.Query{}, focus.ErrNotFound
	}
	return q, nil
}

// GetProxy loads a proxy or returns focus.ErrNotFound.
func (c *Catalog) GetProxy(_ context.Context, proxyID string) (focus.Proxy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.proxies[proxyID]
	if !ok {
		return focus.Proxy{}, focus.ErrNotFound
	}
	return p, nil
}

// ListProxies returns proxies in insertion order.
func (c *Catalog) ListProxies(context.Context) ([]focus.Proxy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]focus.Proxy, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.proxies[id])
	}
	return out, nil
}
