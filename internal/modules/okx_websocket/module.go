package okx_websocket

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"slot_trader/internal/modules/config"
	health "slot_trader/internal/modules/health/service"
	feed "slot_trader/internal/modules/market_feed/service"
	okx "slot_trader/internal/modules/okx_client/service"
	"slot_trader/internal/modules/okx_websocket/service"
	"slot_trader/internal/scorer"
)

// Module поднимает публичный поток сделок и тикеров OKX.
func Module() fx.Option {
	return fx.Module("okx_websocket",
		fx.Provide(
			func(cfg *config.Config, sc *scorer.Scorer, f *feed.Feed, rest *okx.Client, st *health.State, log *zap.Logger) *service.Client {
				return service.NewClient(cfg, sc, f, rest, st, log.Named("ws"))
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, s *service.Client) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go s.Run(ctx)
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
