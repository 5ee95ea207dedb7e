package postgres

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"slot_trader/internal/modules/config"
	"slot_trader/pkg/db"
)

// Module отдаёт *db.PgTxManager или nil: без DSN или при недоступной базе
// хранилище работает offline, процесс не падает.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *db.PgTxManager {
				if cfg.DB == "" {
					log.Warn("[PG] db_dsn not set")
					return nil
				}
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				poolMaster, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.DB})
				if err != nil {
					log.Warn("[PG] pool create failed", zap.Error(err))
					return nil
				}
				if err := poolMaster.Ping(ctx); err != nil {
					log.Warn("[PG] ping failed", zap.Error(err))
					poolMaster.Close()
					return nil
				}

				m := db.NewPgTxManager(poolMaster)
				lc.Append(fx.Hook{OnStop: func(context.Context) error {
					m.Close()
					return nil
				}})
				log.Info("[PG] connected")
				return m
			},
		),
	)
}
