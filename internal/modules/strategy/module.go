package strategy

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"slot_trader/internal/bankroll"
	"slot_trader/internal/exchange"
	"slot_trader/internal/helper"
	"slot_trader/internal/modules/config"
	"slot_trader/internal/modules/strategy/service"
	"slot_trader/internal/scorer"
	"slot_trader/internal/vault"
)

// Module: скорер на потоке сделок, кэш свечей и периодический скан кандидатов.
func Module() fx.Option {
	return fx.Module("strategy",
		fx.Provide(
			func(cfg *config.Config, log *zap.Logger) *scorer.Scorer {
				return scorer.New(cfg.Scorer, log.Named("scorer"))
			},
			func(src exchange.CandleSource) *service.CandleCache {
				return service.NewCandleCache(src)
			},
			func(cfg *config.Config, sc *scorer.Scorer, cc *service.CandleCache, v *vault.Vault, a *bankroll.Allocator, log *zap.Logger) *service.Scanner {
				r := cfg.Runner
				return service.NewScanner(service.Config{
					LTF:           r.LTF,
					HTF:           r.HTF,
					Candles:       r.Candles,
					MinFlow:       r.MinFlow,
					MaxCandidates: r.MaxCandidates,
					Parallel:      int(cfg.Pool.Size / 2),
				}, sc, cc, v, a, log.Named("scan"))
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, s *service.Scanner, log *zap.Logger) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go helper.RunEvery(ctx, log, "scan", cfg.Runner.ScanInterval, func(ctx context.Context) error {
						n, err := s.Scan(ctx)
						if n > 0 {
							log.Info("[SCAN] positions opened", zap.Int("count", n))
						}
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
