// Package postgres manages the shared connection pool and schema migrations
// for the memory core.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/megaagent/memcore/internal/config"
	"github.com/megaagent/memcore/internal/memerr"
	"github.com/megaagent/memcore/internal/observability"
)

// Pool wraps pgxpool with schema bootstrap and health checking. One Pool is
// shared per process; every store borrows connections from it.
type Pool struct {
	pool   *pgxpool.Pool
	logger *observability.Logger
}

// Connect opens the pool, verifies connectivity, and runs pending migrations.
func Connect(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindConfig, err, "parse database DSN")
	}

	poolCfg.MaxConns = int32(cfg.MaxConns())
	poolCfg.MinConns = int32(min(cfg.PoolSize, 2))
	poolCfg.MaxConnLifetime = cfg.PoolRecycle
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	if cfg.SSLMode != "" {
		poolCfg.ConnConfig.RuntimeParams["sslmode"] = cfg.SSLMode
	}
	if cfg.PgBouncerMode {
		// Transaction-mode poolers break prepared statements.
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// The vector type does not exist before the first migration run;
		// connections opened after migration pick up the registration.
		_ = pgxvector.RegisterTypes(ctx, conn)
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.PoolTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStore, err, "create connection pool")
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, memerr.Transient(memerr.KindStore, err, "ping database")
	}

	p := &Pool{pool: pool, logger: logger}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info(ctx, "database pool ready",
		"max_conns", poolCfg.MaxConns,
		"pgbouncer_mode", cfg.PgBouncerMode)
	return p, nil
}

// DB exposes the underlying pool for store queries.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}

// Health reports whether the database answers a ping within two seconds.
func (p *Pool) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		return memerr.Transient(memerr.KindStore, err, "health ping")
	}
	return nil
}

// Stats returns pool utilization for diagnostics.
func (p *Pool) Stats() *pgxpool.Stat {
	return p.pool.Stat()
}

// Close drains and closes the pool.
func (p *Pool) Close() {
	p.pool.Close()
}

// Migrate applies forward-only migrations in order, tracking progress in
// mega_agent.schema_migrations. Each migration runs in its own transaction.
func (p *Pool) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS mega_agent`); err != nil {
		return memerr.Wrap(memerr.KindStore, err, "create schema")
	}
	if _, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mega_agent.schema_migrations (
			version    INT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return memerr.Wrap(memerr.KindStore, err, "create migrations table")
	}

	for _, m := range migrations {
		applied, err := p.migrationApplied(ctx, m.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := p.applyMigration(ctx, m); err != nil {
			return err
		}
		p.logger.Info(ctx, "applied migration", "version", m.version, "name", m.name)
	}
	return nil
}

// EnsureVectorIndex types the embedding column for the configured dimension
// and builds the HNSW cosine index. Safe to call repeatedly; the dimension
// comes from validated config, never from user input.
func (p *Pool) EnsureVectorIndex(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return memerr.New(memerr.KindConfig, "vector index requires a positive dimension")
	}
	alter := fmt.Sprintf(
		`ALTER TABLE mega_agent.semantic_memories ALTER COLUMN embedding TYPE vector(%d)`,
		dimension)
	if _, err := p.pool.Exec(ctx, alter); err != nil {
		return memerr.Wrap(memerr.KindStore, err, "type embedding column")
	}
	if _, err := p.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_semantic_embedding_hnsw
			ON mega_agent.semantic_memories
			USING hnsw (embedding vector_cosine_ops)`); err != nil {
		return memerr.Wrap(memerr.KindStore, err, "create ANN index")
	}
	return nil
}

func (p *Pool) migrationApplied(ctx context.Context, version int) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM mega_agent.schema_migrations WHERE version = $1)`,
		version).Scan(&exists)
	if err != nil {
		return false, memerr.Wrap(memerr.KindStore, err, "check migration state")
	}
	return exists, nil
}

func (p *Pool) applyMigration(ctx context.Context, m migration) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return memerr.Transient(memerr.KindStore, err, "begin migration tx")
	}
	defer tx.Rollback(ctx)

	for _, stmt := range m.statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return memerr.Wrap(memerr.KindStore, err,
				"migration %d (%s)", m.version, m.name)
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO mega_agent.schema_migrations (version) VALUES ($1)`, m.version); err != nil {
		return memerr.Wrap(memerr.KindStore, err, "record migration")
	}
	if err := tx.Commit(ctx); err != nil {
		return memerr.Transient(memerr.KindStore, err, "commit migration")
	}
	return nil
}
