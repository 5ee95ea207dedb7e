package runner

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"slot_trader/internal/bankroll"
	"slot_trader/internal/exchange"
	"slot_trader/internal/helper"
	"slot_trader/internal/modules/config"
	health "slot_trader/internal/modules/health/service"
	redis "slot_trader/internal/modules/redis/service"
	"slot_trader/internal/scorer"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			func(a *bankroll.Allocator, sc *scorer.Scorer, c *redis.Cache, st *health.State, ex exchange.Executor,
				n bankroll.Notifier, log *zap.Logger) *Heartbeat {
				return NewHeartbeat(a, sc, c, st, ex, n, log.Named("heartbeat"))
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, hb *Heartbeat, st *health.State, log *zap.Logger) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go helper.RunEvery(ctx, log, "heartbeat", cfg.Runner.HeartbeatInterval, hb.Beat)
					st.SetReady(true)
					return nil
				},
				OnStop: func(context.Context) error {
					st.SetReady(false)
					cancel()
					return nil
				},
			})
		}),
	)
}
