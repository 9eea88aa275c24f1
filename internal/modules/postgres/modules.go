package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"zone_watcher/internal/modules/config"
	"zone_watcher/internal/storage"
	"zone_watcher/internal/storage/memory"
	"zone_watcher/internal/storage/pg"
	"zone_watcher/pkg/db"
	"zone_watcher/pkg/logger"
)

// Module отдаёт storage.Store: postgres, если задан DSN, иначе in-memory для локального запуска.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			NewStore,
		),
	)
}

func NewStore(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (storage.Store, error) {
	if cfg.DB == "" {
		logger.Warn("[DB] db_dsn is empty, using in-memory store")
		return memory.NewStore(), nil
	}

	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN: cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}

	if err = poolMaster.Ping(ctx); err != nil {
		poolMaster.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	tm := db.NewPgTxManager(poolMaster)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			tm.Close()
			return nil
		},
	})
	return pg.New(tm), nil
}
