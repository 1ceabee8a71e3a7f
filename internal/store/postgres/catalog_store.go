package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lensfeed/focus-collector/internal/focus"
)

// CatalogStore implements focus.CatalogStore over the tables maintained by
// the external CRUD collaborator. Keywords and sources live as JSONB on the
// query row, so a query is read in one round trip.
type CatalogStore struct {
	pool Pool
}

// NewCatalogStore constructs a CatalogStore over an existing pool.
func NewCatalogStore(pool Pool) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{pool: pool}, nil
}

// GetQuery loads a query definition or returns focus.ErrNotFound.
func (s *CatalogStore) GetQuery(ctx context.Context, queryID string) (focus.Query, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, name, enabled, keywords, sources
FROM queries
WHERE id = $1`,
		queryID,
	)
	var (
		q            focus.Query
		keywordsJSON []byte
		sourcesJSON  []byte
	)
	err := row.Scan(&q.ID, &q.Name, &q.Enabled, &keywordsJSON, &sourcesJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return focus.Query{}, focus.ErrNotFound
	}
	if err != nil {
		return focus.Query{}, fmt.Errorf("select query: %w", err)
	}
	if len(keywordsJSON) > 0 {
		if err := json.Unmarshal(keywordsJSON, &q.Keywords); err != nil {
			return focus.Query{}, fmt.Errorf("decode keywords: %w", err)
		}
	}
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &q.Sources); err != nil {
			return focus.Query{}, fmt.Errorf("decode sources: %w", err)
		}
	}
	return q, nil
}

// GetProxy loads a proxy record or returns focus.ErrNotFound.
func (s *CatalogStore) GetProxy(ctx context.Context, proxyID string) (focus.Proxy, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, protocol, address, COALESCE(region, '')
FROM proxies
WHERE id = $1`,
		proxyID,
	)
	var p focus.Proxy
	err := row.Scan(&p.ID, &p.Protocol, &p.Address, &p.Region)
	if errors.Is(err, pgx.ErrNoRows) {
		return focus.Proxy{}, focus.ErrNotFound
	}
	if err != nil {
		return focus.Proxy{}, fmt.Errorf("select proxy: %w", err)
	}
	return p, nil
}

// ListProxies returns all configured proxies in creation order.
func (s *CatalogStore) ListProxies(ctx context.Context) ([]focus.Proxy, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, protocol, address, COALESCE(region, '')
FROM proxies
ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	defer rows.Close()

	var out []focus.Proxy
	for rows.Next() {
		var p focus.Proxy
		if err := rows.Scan(&p.ID, &p.Protocol, &p.Address, &p.Region); err != nil {
			return nil, fmt.Errorf("scan proxy: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proxies: %w", err)
	}
	return out, nil
}
