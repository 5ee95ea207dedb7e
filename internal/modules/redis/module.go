package redis

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"slot_trader/internal/bankroll"
	"slot_trader/internal/modules/config"
	"slot_trader/internal/modules/redis/service"
)

func Module() fx.Option {
	return fx.Module("redis",
		fx.Provide(
			func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *service.Cache {
				c := service.NewCache(context.Background(), service.Config{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				}, log.Named("redis"))
				lc.Append(fx.Hook{OnStop: func(context.Context) error { return c.Close() }})
				return c
			},
			func(c *service.Cache) bankroll.CloseLocker { return c },
		),
	)
}
