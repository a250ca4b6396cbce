// Package dbpool maintains at most N pgx connection pools keyed by
// destination identity, with LRU eviction, used by the catalog and SQL
// tools (C4/C5). Grounded on the teacher's pkg/database/client.go pooling
// conventions and on original_source/db_mcp/connection_pool.py's
// reuse-and-evict design, generalized to an arbitrary number of
// destinations per spec.md §4.2.
package dbpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dataworks-io/sqlgate/pkg/models"
)

// Options configure every engine the registry creates, sourced from
// configuration (spec.md §6): DB_POOL_SIZE, DB_MAX_OVERFLOW,
// DB_POOL_TIMEOUT, DB_POOL_RECYCLE, DB_POOL_MAX_SIZE.
type Options struct {
	PoolSize      int
	MaxOverflow   int
	PoolTimeout   time.Duration
	PoolRecycle   time.Duration
	MaxPools      int
	PrePing       bool
}

// entry is one pool entry, keyed on (host, port, user, database) — the
// password is deliberately excluded from the key (spec.md §3, §9).
type entry struct {
	key        models.PoolKey
	pool       *pgxpool.Pool
	createdAt  time.Time
	lastUsedAt time.Time
}

// Registry is the async pool registry (C2). Registry-level bookkeeping
// (the pools map) is serialized on a single mutex; the pgxpool.Pool
// instances it hands out are internally safe for concurrent use by many
// callers without further locking, matching spec.md §5's "registry
// operations are serialized on a single async lock; engine operations
// are not."
type Registry struct {
	mu      sync.Mutex
	pools   map[models.PoolKey]*entry
	opts    Options
	dialFn  func(ctx context.Context, conn models.ResolvedConn, opts Options) (*pgxpool.Pool, error)
}

// NewRegistry creates an empty registry with the given options.
func NewRegistry(opts Options) *Registry {
	if opts.MaxPools <= 0 {
		opts.MaxPools = 20
	}
	return &Registry{
		pools:  make(map[models.PoolKey]*entry),
		opts:   opts,
		dialFn: dialPgx,
	}
}

func dialPgx(ctx context.Context, conn models.ResolvedConn, opts Options) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		conn.Username, conn.Password, conn.Host, conn.Port, conn.Database)

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = int32(opts.PoolSize + opts.MaxOverflow)
	cfg.MaxConnLifetime = opts.PoolRecycle
	if opts.PrePing {
		cfg.HealthCheckPeriod = 30 * time.Second
	}

	pctx, cancel := context.WithTimeout(ctx, opts.PoolTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return pool, nil
}

// GetEngine returns (creating if necessary) the pool for dest. On
// creation, if the registry is at capacity the least-recently-used entry
// is evicted first, outside the critical section (spec.md §4.2), then the
// map is re-entered to re-check before insertion — guarding against a
// race where two callers both decide to evict/create concurrently.
func (r *Registry) GetEngine(ctx context.Context, dest models.ResolvedConn) (*pgxpool.Pool, error) {
	key := models.PoolKeyFrom(dest)

	r.mu.Lock()
	if e, ok := r.pools[key]; ok {
		e.lastUsedAt = time.Now()
		pool := e.pool
		r.mu.Unlock()
		return pool, nil
	}
	needsEviction := len(r.pools) >= r.opts.MaxPools
	r.mu.Unlock()

	if needsEviction {
		r.evictLRU()
	}

	pool, err := r.dialFn(ctx, dest, r.opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.pools[key]; ok {
		// Lost the race to another caller; discard our pool and reuse theirs.
		pool.Close()
		e.lastUsedAt = time.Now()
		return e.pool, nil
	}
	if len(r.pools) >= r.opts.MaxPools {
		r.evictLRULocked()
	}
	now := time.Now()
	r.pools[key] = &entry{key: key, pool: pool, createdAt: now, lastUsedAt: now}
	return pool, nil
}

func (r *Registry) evictLRU() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLRULocked()
}

// evictLRULocked must be called with r.mu held.
func (r *Registry) evictLRULocked() {
	var oldestKey models.PoolKey
	var oldest *entry
	for k, e := range r.pools {
		if oldest == nil || e.lastUsedAt.Before(oldest.lastUsedAt) {
			oldest = e
			oldestKey = k
		}
	}
	if oldest == nil {
		return
	}
	delete(r.pools, oldestKey)
	slog.Info("Evicting least-recently-used pool", "host", oldestKey.Host, "database", oldestKey.Database)
	oldest.pool.Close()
}

// Stats is a point-in-time snapshot of one pool entry.
type Stats struct {
	Host       string    `json:"host"`
	Database   string    `json:"database"`
	Size       int32     `json:"size"`
	InUse      int32     `json:"in_use"`
	Idle       int32     `json:"idle"`
	MaxConns   int32     `json:"max_conns"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// StatsSnapshot returns a snapshot of every pool's size, in-use, idle, and
// last-used time (spec.md §4.2 stats()).
func (r *Registry) StatsSnapshot() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Stats, 0, len(r.pools))
	for _, e := range r.pools {
		stat := e.pool.Stat()
		out = append(out, Stats{
			Host:       e.key.Host,
			Database:   e.key.Database,
			Size:       stat.TotalConns(),
			InUse:      stat.AcquiredConns(),
			Idle:       stat.IdleConns(),
			MaxConns:   stat.MaxConns(),
			LastUsedAt: e.lastUsedAt,
		})
	}
	return out
}

// TestConnection executes SELECT 1 against dest's pool, per spec.md §4.2.
func (r *Registry) TestConnection(ctx context.Context, dest models.ResolvedConn) (bool, string) {
	pool, err := r.GetEngine(ctx, dest)
	if err != nil {
		return false, err.Error()
	}
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(new(int)); err != nil {
		return false, err.Error()
	}
	return true, "ok"
}

// CloseAll disposes every engine in the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.pools {
		e.pool.Close()
		delete(r.pools, k)
	}
}

// Len reports the current number of live pool entries (test helper).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}
