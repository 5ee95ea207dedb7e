package bootstrap

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"slot_trader/internal/helper"
	"slot_trader/internal/modules/bootstrap/service"
	"slot_trader/internal/modules/config"
	okx "slot_trader/internal/modules/okx_client/service"
	ws "slot_trader/internal/modules/okx_websocket/service"
	store "slot_trader/internal/modules/slot_store/service"
	strategy "slot_trader/internal/modules/strategy/service"
)

const watchlistRefresh = 30 * time.Minute

// Module собирает список подписки потока и держит его свежим.
func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Provide(
			func(cfg *config.Config, rest *okx.Client, st *store.Store, stream *ws.Client, cc *strategy.CandleCache, log *zap.Logger) *service.Watchlist {
				r := cfg.Runner
				return service.NewWatchlist(service.Config{
					TopN:     r.WatchTopN,
					LTF:      r.LTF,
					HTF:      r.HTF,
					Candles:  r.Candles,
					Parallel: int(cfg.Pool.Size / 2),
				}, rest, st, stream, cc, log.Named("boot"))
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, wl *service.Watchlist, log *zap.Logger) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go helper.RunEvery(ctx, log, "watchlist", watchlistRefresh, func(ctx context.Context) error {
						_, err := wl.Refresh(ctx)
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
