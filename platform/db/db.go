// Package db provides database connection infrastructure.
// This is part of the platform layer and contains no business logic.
package db

import (
	"context"
	"time"

	"atelier_backend/platform/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultMaxConns = 25

// NewPool opens a pool tagged with application name so the api and the
// scheduler are told apart in pg_stat_activity.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, name string) (*pgxpool.Pool, error) {
	pcfg, err := poolConfig(cfg, name)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// poolConfig sizes the pool. One connection is held for good by the change
// listener, so the pool never goes below two.
func poolConfig(cfg config.DatabaseConfig, name string) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.GetDatabaseURL())
	if err != nil {
		return nil, err
	}

	maxConns := cfg.GetDatabaseMaxConns()
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	maxConns = max(maxConns, 2)

	pcfg.MaxConns = int32(maxConns)
	pcfg.MinConns = int32(min(5, maxConns/2))
	pcfg.MaxConnLifetime = time.Hour
	pcfg.MaxConnIdleTime = 30 * time.Minute
	pcfg.HealthCheckPeriod = time.Minute
	if name != "" {
		pcfg.ConnConfig.RuntimeParams["application_name"] = name
	}
	return pcfg, nil
}

// PoolAdapter exposes a pool as a readiness checker.
type PoolAdapter struct {
	pool *pgxpool.Pool
}

func NewPoolAdapter(pool *pgxpool.Pool) *PoolAdapter {
	return &PoolAdapter{pool: pool}
}

func (a *PoolAdapter) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}
