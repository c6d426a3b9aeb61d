package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

func openPostgres(ctx context.Context, dsn string, maxConns int) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("postgresql: url is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgresql: parse url: %w", err)
	}
	poolCfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgresql: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgresql: ping: %w", err)
	}
	return &DB{
		Kind: KindPostgreSQL,
		Pool: pool,
		release: func() error {
			pool.Close()
			return nil
		},
	}, nil
}
