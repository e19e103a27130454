// Package cache provides the small get/set store used to memoize schema
// provider lookups between runs. The implementation is chosen once at
// construction; call sites never branch on the backing store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Cache is the full surface the pipeline consumes.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Memory is an in-process Cache.
type Memory struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{m: make(map[string]string)}
}

func (c *Memory) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *Memory) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}

// Querier is the subset of a pgx connection the Postgres cache needs.
// *pgxpool.Pool and *pgx.Conn both satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is a Cache backed by a two-column key/value table.
type Postgres struct {
	q     Querier
	table string
}

// NewPostgres creates a Postgres cache over the named table. The table must
// have columns (cache_key text primary key, cache_value text).
func NewPostgres(q Querier, table string) *Postgres {
	return &Postgres{q: q, table: table}
}

func (c *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	query := fmt.Sprintf(`SELECT cache_value FROM %s WHERE cache_key = $1`, pgx.Identifier{c.table}.Sanitize())
	var value string
	err := c.q.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get '%s': %w", key, err)
	}
	return value, true, nil
}

func (c *Postgres) Set(ctx context.Context, key, value string) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (cache_key, cache_value) VALUES ($1, $2)
		 ON CONFLICT (cache_key) DO UPDATE SET cache_value = EXCLUDED.cache_value`,
		pgx.Identifier{c.table}.Sanitize())
	if _, err := c.q.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("cache set '%s': %w", key, err)
	}
	return nil
}
