package slot_store

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"slot_trader/internal/bankroll"
	"slot_trader/internal/modules/config"
	"slot_trader/internal/modules/slot_store/service"
	"slot_trader/internal/vault"
	"slot_trader/pkg/db"
	"slot_trader/pkg/workpool"
)

func Module() fx.Option {
	return fx.Module("slot_store",
		fx.Provide(
			func(cfg *config.Config, pg *db.PgTxManager, pool *workpool.Pool, log *zap.Logger) *service.Store {
				var backend service.DB
				if pg != nil {
					backend = pg
				}
				return service.New(backend, pool, cfg.Bankroll.MaxSlots, log.Named("store"))
			},
			func(s *service.Store) bankroll.SlotStore { return s },
			func(s *service.Store) vault.Store { return s },
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, s *service.Store, log *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if err := s.EnsureSchema(ctx); err != nil {
						log.Warn("[STORE] schema check failed", zap.Error(err))
					}
					if err := s.EnsureSlots(ctx, cfg.Bankroll.MaxSlots); err != nil {
						log.Warn("[STORE] slots init failed", zap.Error(err))
					}
					return nil
				},
			})
		}),
	)
}
