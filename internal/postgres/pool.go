// Package postgres builds the shared pgx connection pool and instruments every
// query with OpenTelemetry spans, a structured log line and an optional
// duration observer.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns        = 10
	defaultMaxConnIdleTime = 5 * time.Minute
	pingTimeout            = 10 * time.Second
)

// NewPool parses databaseURL, attaches the query tracer, connects and pings.
// The caller owns the pool and must Close it on shutdown.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// pool_max_conns in the URL wins over our default
	if !strings.Contains(databaseURL, "pool_max_conns") {
		pcfg.MaxConns = defaultMaxConns
	}
	pcfg.MaxConnIdleTime = defaultMaxConnIdleTime
	pcfg.ConnConfig.Tracer = wrapQueryTracer(otelpgx.NewTracer())

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return pool, nil
}
