package cycle_vault

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"slot_trader/internal/exchange"
	"slot_trader/internal/modules/config"
	store "slot_trader/internal/modules/slot_store/service"
	"slot_trader/internal/vault"
)

func Module() fx.Option {
	return fx.Module("cycle_vault",
		fx.Provide(
			func(cfg *config.Config, st *store.Store, ex exchange.Executor, log *zap.Logger) *vault.Vault {
				vc := cfg.Vault
				vc.MarginFraction = cfg.Bankroll.MarginPerSlot
				return vault.New(vc, st, ex, log.Named("vault"))
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, v *vault.Vault, log *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					// недоступное хранилище не должно ронять старт
					if err := v.Load(ctx); err != nil {
						log.Warn("[VAULT] load failed, starting with defaults", zap.Error(err))
					}
					return nil
				},
			})
		}),
	)
}
