// Package db provides the PostgreSQL connection pool, migration runner, and
// small pgtype helpers shared by the data-backed services.
package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldwalk/fieldwalk/internal/config"
)

func Open(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, DSN(cfg))
}
