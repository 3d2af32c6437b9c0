package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"carebase/internal/accessgrant"
	"carebase/internal/clinical"
	"carebase/internal/eventstore"
	"carebase/internal/impersonation"
	"carebase/internal/ledger"
	"carebase/internal/organization"
	"carebase/internal/platform/config"
	"carebase/internal/platform/postgres"
	"carebase/internal/rbac"
	audit "carebase/pkg/platform/audit"
	auditmemory "carebase/pkg/platform/audit/store/memory"
	auditpostgres "carebase/pkg/platform/audit/store/postgres"
	"carebase/pkg/platform/circuit"
	"carebase/pkg/platform/tx"
)

// stores is every persistence port, backed either by memory or PostgreSQL.
type stores struct {
	events        eventstore.Store
	queue         ledger.Queue
	outbox        ledger.Outbox
	audit         audit.Store
	orgs          organization.Store
	rbac          rbac.Store
	grants        accessgrant.Store
	impersonation impersonation.Store
	clinical      clinical.Stores
	tx            tx.Runner
	db            *sql.DB
}

func (s stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	if cfg.Server.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage; state is lost on restart")
		return stores{
			events:        eventstore.NewInMemoryStore(),
			queue:         ledger.NewInMemoryQueue(),
			outbox:        ledger.NewInMemoryOutbox(),
			audit:         auditmemory.NewInMemoryStore(),
			orgs:          organization.NewInMemoryStore(),
			rbac:          rbac.NewInMemoryStore(),
			grants:        accessgrant.NewInMemoryStore(),
			impersonation: impersonation.NewInMemoryStore(),
			clinical:      clinical.NewInMemoryStores(),
			tx:            tx.NoopRunner{},
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database.URL, postgres.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return stores{}, err
	}
	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db, logger); err != nil {
			_ = db.Close()
			return stores{}, fmt.Errorf("migrate: %w", err)
		}
	}
	return stores{
		events:        eventstore.NewPostgresStore(db),
		queue:         ledger.NewPostgresQueue(db),
		outbox:        ledger.NewPostgresOutbox(db),
		audit:         auditpostgres.New(db),
		orgs:          organization.NewPostgresStore(db),
		rbac:          rbac.NewPostgresStore(db),
		grants:        accessgrant.NewPostgresStore(db),
		impersonation: impersonation.NewPostgresStore(db),
		clinical:      clinical.NewPostgresStores(db),
		tx:            tx.NewPostgresRunner(db, 0),
		db:            db,
	}, nil
}

// breakerStore prefers Redis so every replica shares one breaker, then the
// database, then process memory.
func breakerStore(st stores, rdb *redis.Client, logger *slog.Logger) circuit.Store {
	switch {
	case rdb != nil:
		logger.Info("circuit breaker state in redis")
		return circuit.NewRedisStore(rdb)
	case st.db != nil:
		return circuit.NewPostgresStore(st.db)
	default:
		return circuit.NewInMemoryStore()
	}
}
