// Package postgres holds the Postgres-backed fill archive.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/mangogate/internal/infra/config"
)

// Store bundles the repositories sharing one connection pool.
type Store struct {
	pool  *pgxpool.Pool
	Fills *FillStore
}

// New constructs a Store backed by the provided pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, Fills: NewFillStore(pool)}
}

// Pool exposes the underlying pgx pool.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Close releases the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// PoolConfig translates the database section into a pgx pool configuration.
func PoolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	return poolCfg, nil
}

// Connect opens a pool for cfg, verifies it with a ping and registers pool gauges.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	ObservePoolMetrics(pool, "primary")
	return New(pool), nil
}
