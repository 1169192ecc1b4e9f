package geocode

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/charity-directory/internal/db"
)

// Cache stores geocode results keyed by normalized address hash.
type Cache interface {
	Get(ctx context.Context, key string) (*Result, bool, error)
	Put(ctx context.Context, key string, r *Result) error
}

// cacheKey returns SHA-256 hex of the normalized address for cache lookup.
func cacheKey(addr AddressInput) string {
	normalized := fmt.Sprintf("%s|%s|%s",
		strings.Join(strings.Fields(strings.ToLower(addr.Address)), " "),
		strings.ToUpper(strings.ReplaceAll(addr.Postcode, " ", "")),
		strings.ToLower(strings.TrimSpace(addr.Country)),
	)
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}

// PoolCache is a Cache backed by a PostgreSQL table.
type PoolCache struct {
	pool    db.Querier
	table   string
	ttlDays int
}

// NewPoolCache returns a PoolCache over public.geocode_cache. ttlDays <= 0
// keeps entries forever.
func NewPoolCache(pool db.Querier, ttlDays int) *PoolCache {
	return &PoolCache{pool: pool, table: "public.geocode_cache", ttlDays: ttlDays}
}

// CacheSchema creates the cache table.
const CacheSchema = `
CREATE TABLE IF NOT EXISTS public.geocode_cache (
	address_hash TEXT PRIMARY KEY,
	latitude     DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude    DOUBLE PRECISION NOT NULL DEFAULT 0,
	quality      TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	matched      BOOLEAN NOT NULL,
	cached_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Get implements Cache.
func (c *PoolCache) Get(ctx context.Context, key string) (*Result, bool, error) {
	query := fmt.Sprintf("SELECT latitude, longitude, quality, source, matched FROM %s WHERE address_hash = $1", c.table)
	if c.ttlDays > 0 {
		query += fmt.Sprintf(" AND cached_at > now() - interval '%d days'", c.ttlDays)
	}

	var r Result
	err := c.pool.QueryRow(ctx, query, key).Scan(&r.Latitude, &r.Longitude, &r.Quality, &r.Source, &r.Matched)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "geocode: read cache")
	}
	return &r, true, nil
}

// Put implements Cache.
func (c *PoolCache) Put(ctx context.Context, key string, r *Result) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (address_hash, latitude, longitude, quality, source, matched, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (address_hash) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			quality = EXCLUDED.quality,
			source = EXCLUDED.source,
			matched = EXCLUDED.matched,
			cached_at = now()`, c.table)

	if _, err := c.pool.Exec(ctx, query, key, r.Latitude, r.Longitude, r.Quality, r.Source, r.Matched); err != nil {
		return eris.Wrap(err, "geocode: store cache")
	}
	return nil
}
