package paper

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"slot_trader/internal/exchange"
	"slot_trader/internal/modules/config"
	"slot_trader/internal/modules/paper/service"
	store "slot_trader/internal/modules/slot_store/service"
)

// Module поднимает paper-движок. Тик крутится только в paper-режиме.
func Module() fx.Option {
	return fx.Module("paper",
		fx.Provide(
			func(cfg *config.Config, md exchange.MarketData, st *store.Store, log *zap.Logger) *service.Engine {
				return service.NewEngine(cfg.Paper, cfg.Protocol, md, st, service.NewLedger(cfg.Paper.StateFile), log.Named("paper"))
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, e *service.Engine, log *zap.Logger) {
			if cfg.Live() {
				return
			}
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					if err := e.Restore(); err != nil {
						log.Warn("[PAPER] state restore failed, starting clean", zap.Error(err))
					}
					go e.Run(ctx)
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}
