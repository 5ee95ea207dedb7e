package okx_client

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"slot_trader/internal/exchange"
	"slot_trader/internal/helper"
	"slot_trader/internal/modules/config"
	"slot_trader/internal/modules/okx_client/service"
)

func Module() fx.Option {
	return fx.Module("okx_client",
		fx.Provide(
			service.NewServerClock,
			service.NewClient,
			func(c *service.Client) exchange.CandleSource { return c },
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, c *service.Client, log *zap.Logger) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(start context.Context) error {
					if _, err := c.SyncTime(start); err != nil {
						log.Warn("[OKX] initial clock sync failed", zap.Error(err))
					}
					if cfg.Live() {
						// без рабочих ключей живой режим стартует в safe mode, а не падает
						if err := c.Verify(start); err != nil {
							c.EnterSafeMode(err)
						} else {
							log.Info("[OKX] credentials verified")
						}
					}
					every := cfg.OKX.ClockSync
					if every <= 0 {
						every = 10 * time.Minute
					}
					go helper.RunEvery(ctx, log, "okx_clock_sync", every, func(ctx context.Context) error {
						_, err := c.SyncTime(ctx)
						return err
					})
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
