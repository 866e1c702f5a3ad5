package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rmehta12/prepbattle/internal/dbconfig"
	"github.com/rmehta12/prepbattle/internal/roomstore/postgres"
	"github.com/rs/zerolog/log"
)

// setupPostgres connects the pool, applies the schema, and opens the
// LISTEN/NOTIFY listener for change notifications.
func setupPostgres(ctx context.Context, dbCfg dbconfig.Config) (*pgxpool.Pool, *postgres.Listener, error) {
	pool, err := pgxpool.New(ctx, dbCfg.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	listenerCfg := postgres.DefaultListenerConfig()
	listenerCfg.DatabaseURL = dbCfg.DSN()
	listener, err := postgres.NewListener(listenerCfg)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	log.Info().
		Str("database", dbCfg.Database).
		Str("host", dbCfg.Host).
		Msg("connected to database")
	return pool, listener, nil
}
