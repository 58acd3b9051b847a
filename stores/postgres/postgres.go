package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	slogctx "github.com/veqryn/slog-context"

	"github.com/adamlounds/nightscout-tdd/config"
)

type PostgresStore struct {
	DB *pgxpool.Pool
}

// New opens a pool; callers must Close it.
func New(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, cfg.String())
	if err != nil {
		return nil, fmt.Errorf("pg cannot set up db: %w", err)
	}
	return &PostgresStore{DB: db}, nil
}

func (p *PostgresStore) Close() {
	p.DB.Close()
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	log := slogctx.FromCtx(ctx)
	var pgVersion string
	err := p.DB.QueryRow(ctx, "select version()").Scan(&pgVersion)
	if err != nil {
		return fmt.Errorf("pg cannot ping db: %w", err)
	}
	log.Info("pg Ping ok", "version", pgVersion)
	return nil
}
