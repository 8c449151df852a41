package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/sentinel/internal/shared"
)

// New creates a new PostgreSQL connection pool. Connecting is retried with the
// bounded startup policy before giving up.
func New(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/db: parse config: %w", err)
	}

	var pool *pgxpool.Pool
	err = shared.Retry(ctx, shared.DefaultRetryPolicy, nil, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, config)
		if err != nil {
			return fmt.Errorf("platform/db: new pool: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return fmt.Errorf("platform/db: ping: %w", err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}
