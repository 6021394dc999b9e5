package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/decision-cli/internal/store"
)

// initStore opens the configured store backend. The caller owns Migrate
// and Close.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		var pool *store.PoolConfig
		if cfg.Store.Pool.MaxConns > 0 || cfg.Store.Pool.MinConns > 0 {
			pool = &store.PoolConfig{
				MaxConns: cfg.Store.Pool.MaxConns,
				MinConns: cfg.Store.Pool.MinConns,
			}
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, pool)
	default:
		return nil, eris.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}
