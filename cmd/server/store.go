package main

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	vc "github.com/linnemanlabs/crisisconnect/internal/cfg"
	"github.com/linnemanlabs/crisisconnect/internal/postgres"
	"github.com/linnemanlabs/crisisconnect/internal/triage"
	"github.com/linnemanlabs/crisisconnect/internal/triage/memstore"
	"github.com/linnemanlabs/crisisconnect/internal/triage/pgstore"
	"github.com/linnemanlabs/crisisconnect/internal/triage/sqlitestore"
)

// openStore builds the Store the config selects. The returned close func
// releases the backend and is safe to call exactly once.
func openStore(ctx context.Context, c *vc.Config, L log.Logger) (triage.Store, func(), error) {
	switch c.StoreKind() {
	case vc.StorePostgres:
		pool, err := postgres.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		s, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres store")
		return s, pool.Close, nil

	case vc.StoreSQLite:
		s, err := sqlitestore.Open(c.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlitestore init: %w", err)
		}
		L.Info(ctx, "using sqlite store", "path", c.SQLitePath)
		return s, func() {
			if err := s.Close(); err != nil {
				L.Error(context.Background(), err, "failed to close sqlite store")
			}
		}, nil

	default:
		L.Info(ctx, "using in-memory store (no database-url or sqlite-path configured)")
		return memstore.New(), func() {}, nil
	}
}
